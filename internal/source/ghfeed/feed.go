// Package ghfeed matches queries against the GitHub security advisories RSS feed.
// Items go through the generic normalizer.
package ghfeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
)

// Name is the registry name of the adapter.
const Name = "GITHUB_SECURITY"

const (
	defaultFeedURL  = "https://github.com/advisories.rss"
	defaultMaxItems = 20
)

// Config configures the adapter.
type Config struct {
	FeedURL  string
	MaxItems int
}

// Adapter implements source.Adapter over an RSS 2.0 feed.
type Adapter struct {
	feedURL  string
	maxItems int
	fetch    *fetch.Fetcher
}

// New creates a feed adapter.
func New(cfg Config, f *fetch.Fetcher) *Adapter {
	if cfg.FeedURL == "" {
		cfg.FeedURL = defaultFeedURL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	return &Adapter{feedURL: cfg.FeedURL, maxItems: cfg.MaxItems, fetch: f}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Search scans the most recent feed items for a case-insensitive match on
// title or description.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	body, err := a.fetch.Get(ctx, a.feedURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := doc.FindElements("//item")
	if len(items) > a.maxItems {
		items = items[:a.maxItems]
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []source.RawItem
	for _, el := range items {
		title := childText(el, "title")
		link := childText(el, "link")
		if title == "" || link == "" {
			continue
		}
		desc := childText(el, "description")
		if !strings.Contains(strings.ToLower(title), needle) && !strings.Contains(strings.ToLower(desc), needle) {
			continue
		}

		item := source.RawItem{
			"title":       title,
			"link":        link,
			"description": desc,
			"cve_id":      normalize.FindCVE(title, desc),
		}
		if pub := childText(el, "pubDate"); pub != "" {
			item["published_date"] = pub
		}
		out = append(out, item)
	}
	return out, nil
}

func childText(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}
