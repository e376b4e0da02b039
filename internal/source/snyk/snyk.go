// Package snyk scrapes the public Snyk vulnerability database search page.
package snyk

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
	"github.com/kailas-cloud/vulnharvest/internal/source/markup"
)

// Name is the registry name of the adapter.
const Name = "SNYK"

const (
	defaultBaseURL  = "https://security.snyk.io"
	defaultMaxItems = 15
)

var (
	cardMatcher = markup.Any(
		markup.Class("vue--card"),
		markup.Class("vuln-card"),
		markup.Class("search-result-item"),
	)
	severityClass = regexp.MustCompile(`severity|risk`)
)

// Config configures the adapter.
type Config struct {
	BaseURL  string
	MaxItems int
}

// Adapter implements source.Adapter and source.Normalizer for Snyk.
type Adapter struct {
	baseURL  string
	maxItems int
	fetch    *fetch.Fetcher
}

// New creates a Snyk adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	return &Adapter{baseURL: strings.TrimRight(cfg.BaseURL, "/"), maxItems: cfg.MaxItems, fetch: f}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Search scrapes the first result page.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	params := fetch.FirstPage(0).Params(url.Values{"q": {query}}, "page", "")
	body, err := a.fetch.Get(ctx, a.baseURL+"/search", params, nil)
	if err != nil {
		return nil, fmt.Errorf("snyk search: %w", err)
	}
	doc, err := markup.Parse(body)
	if err != nil {
		return nil, err
	}

	cards := markup.FindAll(doc, cardMatcher)
	if len(cards) > a.maxItems {
		cards = cards[:a.maxItems]
	}

	var out []source.RawItem
	for _, card := range cards {
		titleEl := markup.Find(card, markup.Tag("h3", "h4", "a"))
		link := markup.Find(card, markup.All(markup.Tag("a"), markup.HasAttr("href")))
		if titleEl == nil || link == nil {
			continue
		}
		title := markup.Text(titleEl)
		href := markup.Resolve(a.baseURL+"/", markup.Attr(link, "href"))

		out = append(out, source.RawItem{
			"title":      title,
			"cve_id":     normalize.FindCVE(href, title),
			"severity":   string(cardSeverity(markup.Text(markup.Find(card, markup.ClassPattern(severityClass))))),
			"source_url": href,
		})
	}
	return out, nil
}

func cardSeverity(text string) vulnerability.Severity {
	text = strings.ToUpper(text)
	switch {
	case strings.Contains(text, "CRITICAL"):
		return vulnerability.Critical
	case strings.Contains(text, "HIGH"):
		return vulnerability.High
	case strings.Contains(text, "LOW"):
		return vulnerability.Low
	default:
		return vulnerability.Medium
	}
}

// Normalize implements source.Normalizer.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	title := normalize.String(item["title"])
	if title == "" {
		return vulnerability.Draft{}, false
	}
	return vulnerability.Draft{
		CVEID:       normalize.String(item["cve_id"]),
		Title:       title,
		Description: "Vulnerability found on Snyk: " + title,
		Severity:    normalize.String(item["severity"]),
		SourceName:  Name,
		SourceURL:   normalize.String(item["source_url"]),
	}, true
}
