// Package news searches security news sites and follows article links for detail.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
	"github.com/kailas-cloud/vulnharvest/internal/source/markup"
)

// Name is the registry name of the adapter.
const Name = "SECURITY_NEWS"

const (
	defaultMaxArticles = 5
	excerptRunes       = 300
)

// Site is one news site with a search endpoint.
type Site struct {
	Name string `yaml:"name"`
	// SearchURL is the search endpoint prefix; the escaped query is appended.
	SearchURL string `yaml:"search_url"`
}

// DefaultSites are used when none are configured.
var DefaultSites = []Site{
	{Name: "BleepingComputer", SearchURL: "https://www.bleepingcomputer.com/search/?q="},
	{Name: "Krebs on Security", SearchURL: "https://krebsonsecurity.com/?s="},
	{Name: "Security Affairs", SearchURL: "https://securityaffairs.com/?s="},
}

// articleLinks are descendant chains that locate article anchors on a search page.
var articleLinks = [][]markup.Matcher{
	{markup.Class("bc_latest_news_text"), markup.Tag("h4", "h2"), markup.Tag("a")},
	{markup.Tag("article"), markup.Tag("h2"), markup.Tag("a")},
	{markup.Class("entry-title"), markup.Tag("a")},
	{markup.Class("post-title"), markup.Tag("a")},
}

// Config configures the adapter.
type Config struct {
	Sites       []Site
	MaxArticles int
}

// Adapter implements source.Adapter and source.Normalizer for news sites.
// Article pages are fetched through the same rate-limited Fetcher.
type Adapter struct {
	sites       []Site
	maxArticles int
	fetch       *fetch.Fetcher
}

// New creates a news adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if len(cfg.Sites) == 0 {
		cfg.Sites = DefaultSites
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = defaultMaxArticles
	}
	return &Adapter{sites: cfg.Sites, maxArticles: cfg.MaxArticles, fetch: f}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Search queries every site and follows the first article links of each.
// A failing site is skipped; an error is returned only when every site failed.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	var (
		out  []source.RawItem
		errs []error
	)
	for _, site := range a.sites {
		items, err := a.searchSite(ctx, site, query)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", site.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out = append(out, items...)
	}
	if len(out) == 0 && len(errs) == len(a.sites) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (a *Adapter) searchSite(ctx context.Context, site Site, query string) ([]source.RawItem, error) {
	body, err := a.fetch.Get(ctx, site.SearchURL+url.QueryEscape(query), nil, nil)
	if err != nil {
		return nil, err
	}
	doc, err := markup.Parse(body)
	if err != nil {
		return nil, err
	}

	var out []source.RawItem
	for _, link := range findArticleLinks(doc, a.maxArticles) {
		href := markup.Resolve(site.SearchURL, markup.Attr(link, "href"))
		if href == "" {
			continue
		}
		item, err := a.article(ctx, href)
		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			continue
		}
		item["title"] = markup.Text(link)
		item["site"] = site.Name
		out = append(out, item)
	}
	return out, nil
}

// article fetches one article page and extracts its first CVE and an excerpt.
func (a *Adapter) article(ctx context.Context, href string) (source.RawItem, error) {
	body, err := a.fetch.Get(ctx, href, nil, nil)
	if err != nil {
		return nil, err
	}
	doc, err := markup.Parse(body)
	if err != nil {
		return nil, err
	}

	content := markup.Find(doc, markup.Tag("article"))
	if content == nil {
		content = markup.Find(doc, markup.Class("entry-content"))
	}
	excerpt := []rune(markup.Text(content))
	if len(excerpt) > excerptRunes {
		excerpt = excerpt[:excerptRunes]
	}

	return source.RawItem{
		"cve_id":      vulnerability.FindCVE(string(body)),
		"description": string(excerpt),
		"source_url":  href,
	}, nil
}

func findArticleLinks(doc *html.Node, limit int) []*html.Node {
	seen := make(map[string]struct{})
	var out []*html.Node
	for _, chain := range articleLinks {
		for _, n := range markup.Select(doc, chain...) {
			href := markup.Attr(n, "href")
			if _, dup := seen[href]; dup || href == "" {
				continue
			}
			seen[href] = struct{}{}
			out = append(out, n)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// Normalize implements source.Normalizer.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	title := normalize.String(item["title"])
	if title == "" {
		return vulnerability.Draft{}, false
	}
	return vulnerability.Draft{
		CVEID:       strings.ToUpper(normalize.String(item["cve_id"])),
		Title:       title,
		Description: normalize.String(item["description"]),
		Severity:    string(vulnerability.Medium),
		SourceName:  Name,
		SourceURL:   normalize.String(item["source_url"]),
	}, true
}
