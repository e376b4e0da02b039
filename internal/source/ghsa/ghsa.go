// Package ghsa queries the GitHub global security advisory database.
package ghsa

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	jsoniter "github.com/json-iterator/go"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
)

// Name is the registry name of the adapter.
const Name = "GITHUB_ADVISORIES"

const defaultPerPage = 30

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures the adapter.
type Config struct {
	// BaseURL overrides the API root (tests, GitHub Enterprise). Must end with "/".
	BaseURL string
	Token   string
	PerPage int
}

// Adapter implements source.Adapter and source.Normalizer over go-github.
type Adapter struct {
	client  *github.Client
	perPage int
}

// New creates a GHSA adapter on top of httpClient. nil uses a default client.
func New(cfg Config, httpClient *http.Client) (*Adapter, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Token != "" {
		c := *httpClient
		c.Transport = &tokenTransport{token: cfg.Token, next: httpClient.Transport}
		httpClient = &c
	}

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Adapter{client: client, perPage: perPage}, nil
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Search lists reviewed advisories affecting the queried package.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	query = strings.TrimSpace(query)
	opts := &github.ListGlobalSecurityAdvisoriesOptions{Affects: &query}
	if vulnerability.IsCVE(query) {
		cve := strings.ToUpper(query)
		opts = &github.ListGlobalSecurityAdvisoriesOptions{CVEID: &cve}
	}
	opts.PerPage = a.perPage

	advisories, _, err := a.client.SecurityAdvisories.ListGlobalSecurityAdvisories(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list global advisories: %w", err)
	}

	out := make([]source.RawItem, 0, len(advisories))
	for _, adv := range advisories {
		item, err := toItem(adv)
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func toItem(adv *github.GlobalSecurityAdvisory) (source.RawItem, error) {
	b, err := json.Marshal(adv)
	if err != nil {
		return nil, err
	}
	var item source.RawItem
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// Normalize implements source.Normalizer.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	var adv github.GlobalSecurityAdvisory
	if err := normalize.Decode(item, &adv); err != nil {
		return vulnerability.Draft{}, false
	}
	ghsaID := adv.GetGHSAID()
	if ghsaID == "" && adv.GetCVEID() == "" {
		return vulnerability.Draft{}, false
	}

	cveID := adv.GetCVEID()
	if cveID == "" {
		cveID = ghsaID
	}

	d := vulnerability.Draft{
		CVEID:       cveID,
		Title:       adv.GetSummary(),
		Description: adv.GetDescription(),
		Severity:    adv.GetSeverity(),
		SourceName:  Name,
		SourceURL:   adv.GetHTMLURL(),
		FallbackKey: ghsaID,
	}
	if adv.CVSS != nil {
		d.CVSSScore = adv.CVSS.Score
		d.CVSSVector = adv.CVSS.GetVectorString()
	}
	if adv.PublishedAt != nil {
		t := adv.PublishedAt.UTC()
		d.PublishedAt = &t
	}
	for _, v := range adv.Vulnerabilities {
		if v == nil || v.Package == nil || v.Package.GetName() == "" {
			continue
		}
		d.AffectedPackages = append(d.AffectedPackages, v.Package.GetEcosystem()+"/"+v.Package.GetName())
	}
	if refs, ok := item["references"].([]any); ok {
		d.References = normalize.Strings(refs)
	}
	return d, true
}

type tokenTransport struct {
	token string
	next  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return next.RoundTrip(req)
}
