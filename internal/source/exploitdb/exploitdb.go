// Package exploitdb scrapes Exploit Database search results.
package exploitdb

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
	"github.com/kailas-cloud/vulnharvest/internal/source/markup"
)

// Name is the registry name of the adapter.
const Name = "EXPLOIT_DB"

const (
	defaultSearchURL = "https://www.exploit-db.com/search"
	defaultMaxItems  = 10
)

// Config configures the adapter.
type Config struct {
	SearchURL string
	MaxItems  int
}

// Adapter implements source.Adapter and source.Normalizer for Exploit-DB.
type Adapter struct {
	searchURL string
	maxItems  int
	fetch     *fetch.Fetcher
}

// New creates an Exploit-DB adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	return &Adapter{searchURL: cfg.SearchURL, maxItems: cfg.MaxItems, fetch: f}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Search scrapes the exploit list of the first result page.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	params := fetch.FirstPage(0).Params(url.Values{"q": {query}}, "page", "")
	body, err := a.fetch.Get(ctx, a.searchURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("exploitdb search: %w", err)
	}
	doc, err := markup.Parse(body)
	if err != nil {
		return nil, err
	}

	cards := markup.Select(doc, markup.Class("exploit-list"), markup.Class("exploit-item"))
	if len(cards) > a.maxItems {
		cards = cards[:a.maxItems]
	}

	var out []source.RawItem
	for _, card := range cards {
		link := markup.SelectOne(card, markup.Class("exploit-title"), markup.Tag("a"))
		if link == nil {
			continue
		}
		title := markup.Text(link)
		desc := markup.Text(markup.SelectOne(card, markup.Class("exploit-description")))

		out = append(out, source.RawItem{
			"title":          title,
			"source_url":     markup.Resolve(a.searchURL, markup.Attr(link, "href")),
			"cve_id":         normalize.FindCVE(title, desc),
			"published_date": markup.Text(markup.SelectOne(card, markup.Class("exploit-date"))),
		})
	}
	return out, nil
}

// Normalize implements source.Normalizer. A published exploit is rated HIGH.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	title := normalize.String(item["title"])
	if title == "" {
		return vulnerability.Draft{}, false
	}
	return vulnerability.Draft{
		CVEID:       normalize.String(item["cve_id"]),
		Title:       title,
		Description: "Exploit found for: " + title,
		Severity:    string(vulnerability.High),
		SourceName:  Name,
		SourceURL:   normalize.String(item["source_url"]),
		PublishedAt: normalize.ParseDate(item["published_date"]),
	}, true
}
