// Package nvd queries the NIST National Vulnerability Database CVE API 2.0.
package nvd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
)

// Name is the registry name of the adapter.
const Name = "NVD"

const (
	defaultBaseURL        = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	defaultResultsPerPage = 20
	titleExcerpt          = 100
	detailURL             = "https://nvd.nist.gov/vuln/detail/"
)

// Config configures the adapter.
type Config struct {
	BaseURL        string
	APIKey         string
	ResultsPerPage int
	// MaxPages bounds keyword searches. 1 fetches only the first page.
	MaxPages int
}

// Adapter implements source.Adapter and source.Normalizer for NVD.
type Adapter struct {
	cfg   Config
	fetch *fetch.Fetcher
}

// New creates an NVD adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = defaultResultsPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Adapter{cfg: cfg, fetch: f}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

type response struct {
	TotalResults    int              `json:"totalResults"`
	Vulnerabilities []source.RawItem `json:"vulnerabilities"`
}

// Search looks up a CVE ID directly, or runs a keyword search otherwise.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	query = strings.TrimSpace(query)
	if vulnerability.IsCVE(query) {
		var resp response
		params := url.Values{"cveId": {strings.ToUpper(query)}}
		if err := a.fetch.GetJSON(ctx, a.cfg.BaseURL, params, a.header(), &resp); err != nil {
			return nil, fmt.Errorf("nvd cve lookup: %w", err)
		}
		return resp.Vulnerabilities, nil
	}

	var out []source.RawItem
	page := fetch.FirstPage(a.cfg.ResultsPerPage)
	for range a.cfg.MaxPages {
		params := url.Values{
			"keywordSearch":  {query},
			"resultsPerPage": {strconv.Itoa(page.Size)},
			"startIndex":     {strconv.Itoa(page.Offset())},
		}
		var resp response
		if err := a.fetch.GetJSON(ctx, a.cfg.BaseURL, params, a.header(), &resp); err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, fmt.Errorf("nvd keyword search: %w", err)
		}
		out = append(out, resp.Vulnerabilities...)
		if page.Done(len(resp.Vulnerabilities), resp.TotalResults) {
			break
		}
		page = page.Next()
	}
	return out, nil
}

func (a *Adapter) header() http.Header {
	if a.cfg.APIKey == "" {
		return nil
	}
	return http.Header{"Apikey": {a.cfg.APIKey}}
}

type description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore    *float64 `json:"baseScore"`
		VectorString string   `json:"vectorString"`
		BaseSeverity string   `json:"baseSeverity"`
	} `json:"cvssData"`
	BaseSeverity string `json:"baseSeverity"`
}

type cveItem struct {
	CVE struct {
		ID           string        `json:"id"`
		Published    string        `json:"published"`
		Descriptions []description `json:"descriptions"`
		Metrics      struct {
			V31 []cvssMetric `json:"cvssMetricV31"`
			V30 []cvssMetric `json:"cvssMetricV30"`
			V2  []cvssMetric `json:"cvssMetricV2"`
		} `json:"metrics"`
		References []struct {
			URL string `json:"url"`
		} `json:"references"`
	} `json:"cve"`
}

// Normalize implements source.Normalizer.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	var it cveItem
	if err := normalize.Decode(item, &it); err != nil || it.CVE.ID == "" {
		return vulnerability.Draft{}, false
	}
	cve := it.CVE

	desc := englishDescription(cve.Descriptions)
	title := cve.ID + " - " + vulnerability.Truncate(desc, titleExcerpt)

	d := vulnerability.Draft{
		CVEID:       cve.ID,
		Title:       title,
		Description: desc,
		SourceName:  Name,
		SourceURL:   detailURL + cve.ID,
		PublishedAt: normalize.ParseDate(cve.Published),
	}

	// v3.1, then v3.0, then v2.
	for _, metrics := range [][]cvssMetric{cve.Metrics.V31, cve.Metrics.V30, cve.Metrics.V2} {
		if len(metrics) == 0 || metrics[0].CVSSData.BaseScore == nil {
			continue
		}
		m := metrics[0]
		d.CVSSScore = m.CVSSData.BaseScore
		d.CVSSVector = m.CVSSData.VectorString
		break
	}

	for _, ref := range cve.References {
		if ref.URL != "" {
			d.References = append(d.References, ref.URL)
		}
	}
	return d, true
}

func englishDescription(descs []description) string {
	for _, d := range descs {
		if d.Lang == "en" && d.Value != "" {
			return d.Value
		}
	}
	if len(descs) > 0 {
		return descs[0].Value
	}
	return ""
}
