// Package osv queries the Open Source Vulnerabilities API.
package osv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
)

// Name is the registry name of the adapter.
const Name = "OSV"

const (
	defaultBaseURL  = "https://api.osv.dev"
	defaultMaxPages = 3
	detailURL       = "https://osv.dev/vulnerability/"
)

// DefaultEcosystems are tried by the batch fallback.
var DefaultEcosystems = []string{"PyPI", "npm", "Maven", "Go"}

// Config configures the adapter.
type Config struct {
	BaseURL    string
	Ecosystems []string
	MaxPages   int
}

// Adapter implements source.Adapter and source.Normalizer for OSV.
type Adapter struct {
	baseURL    string
	ecosystems []string
	maxPages   int
	fetch      *fetch.Fetcher
}

// New creates an OSV adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Ecosystems) == 0 {
		cfg.Ecosystems = DefaultEcosystems
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Adapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ecosystems: cfg.Ecosystems,
		maxPages:   cfg.MaxPages,
		fetch:      f,
	}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

type queryRequest struct {
	Query     string `json:"query,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type packageQuery struct {
	Package pkg `json:"package"`
}

type batchRequest struct {
	Queries []packageQuery `json:"queries"`
}

type queryResponse struct {
	Vulns         []source.RawItem `json:"vulns"`
	Results       []batchResult    `json:"results"`
	NextPageToken string           `json:"next_page_token"`
}

type batchResult struct {
	Vulns []source.RawItem `json:"vulns"`
}

// Search runs the free-text query and falls back to a package-name batch query
// across the configured ecosystems when it yields nothing.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	items, qerr := a.query(ctx, query)
	if len(items) > 0 {
		return items, nil
	}
	items, berr := a.batch(ctx, query)
	if berr != nil && qerr != nil {
		return nil, errors.Join(qerr, berr)
	}
	return items, berr
}

// SearchPackage runs only the per-ecosystem package query.
func (a *Adapter) SearchPackage(ctx context.Context, name string) ([]source.RawItem, error) {
	return a.batch(ctx, name)
}

func (a *Adapter) query(ctx context.Context, query string) ([]source.RawItem, error) {
	var out []source.RawItem
	token := ""
	for range a.maxPages {
		var resp queryResponse
		req := queryRequest{Query: query, PageToken: token}
		if err := a.fetch.PostJSON(ctx, a.baseURL+"/v1/query", req, &resp); err != nil {
			return out, fmt.Errorf("osv query: %w", err)
		}
		out = append(out, resp.Vulns...)
		for _, r := range resp.Results {
			out = append(out, r.Vulns...)
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	return out, nil
}

func (a *Adapter) batch(ctx context.Context, name string) ([]source.RawItem, error) {
	req := batchRequest{Queries: make([]packageQuery, 0, len(a.ecosystems))}
	for _, eco := range a.ecosystems {
		req.Queries = append(req.Queries, packageQuery{Package: pkg{Name: name, Ecosystem: eco}})
	}

	var resp queryResponse
	if err := a.fetch.PostJSON(ctx, a.baseURL+"/v1/querybatch", req, &resp); err != nil {
		return nil, fmt.Errorf("osv querybatch: %w", err)
	}
	var out []source.RawItem
	for _, r := range resp.Results {
		out = append(out, r.Vulns...)
	}
	return out, nil
}

// Normalize implements source.Normalizer.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	return NormalizeAs(Name, item)
}

// NormalizeAs maps an OSV record attributed to sourceName.
func NormalizeAs(sourceName string, item source.RawItem) (vulnerability.Draft, bool) {
	var v vuln
	if err := normalize.Decode(item, &v); err != nil {
		return vulnerability.Draft{}, false
	}
	if v.ID == "" && v.Summary == "" && v.Details == "" {
		return vulnerability.Draft{}, false
	}

	cveID := v.cveID()

	description := v.Details
	if description == "" {
		description = v.Summary
	}
	if description == "" && len(v.Affected) > 0 && v.Affected[0].Package.Name != "" {
		description = "Vulnerability affecting " + v.Affected[0].Package.Name
	}

	title := v.Summary
	if title == "" && cveID != "" {
		title = cveID + " - Vulnerability"
	}

	score, vector := v.cvss()

	d := vulnerability.Draft{
		CVEID:            cveID,
		Title:            title,
		Description:      description,
		Severity:         v.DatabaseSpecific.Severity,
		CVSSScore:        score,
		CVSSVector:       vector,
		SourceName:       sourceName,
		PublishedAt:      normalize.ParseDate(v.Published),
		AffectedPackages: v.packages(),
		References:       v.referenceURLs(),
		FallbackKey:      v.ID,
	}
	if v.ID != "" {
		d.SourceURL = detailURL + v.ID
	}
	return d, true
}
