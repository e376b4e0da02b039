// Package catalog serves stored knowledge: paged lookup, recent searches, wipe.
package catalog

import (
	"context"
	"fmt"
	"math"

	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// Pagination defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	RecentSearches  = 10
)

// Page is one page of stored records.
type Page struct {
	Query        string
	Items        []vulnerability.Record
	Page         int
	Limit        int
	TotalPages   int
	TotalResults int
	HasPrevious  bool
	HasNext      bool
}

// Wiped reports how many rows a wipe removed.
type Wiped struct {
	Vulnerabilities int
	Searches        int
}

// Service implements stored-record lookup.
type Service struct {
	vulns       VulnerabilityRepository
	audits      AuditRepository
	defaultSize int
	maxSize     int
}

// New creates a catalog service. Non-positive sizes take the defaults.
func New(vulns VulnerabilityRepository, audits AuditRepository, defaultSize, maxSize int) *Service {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	return &Service{vulns: vulns, audits: audits, defaultSize: defaultSize, maxSize: maxSize}
}

// Search returns a page of stored records. Out-of-range pages clamp to the
// first or last page; an empty store yields page 1 of 1.
func (s *Service) Search(ctx context.Context, text string, page, limit int) (Page, error) {
	switch {
	case limit <= 0:
		limit = s.defaultSize
	case limit > s.maxSize:
		limit = s.maxSize
	}
	if page < 1 {
		page = 1
	}
	// keeps (page-1)*limit from overflowing; the last-page clamp below still applies
	if page > math.MaxInt/limit {
		page = math.MaxInt / limit
	}

	items, total, err := s.vulns.Search(ctx, text, (page-1)*limit, limit)
	if err != nil {
		return Page{}, fmt.Errorf("search stored vulnerabilities: %w", err)
	}

	pages := max(1, (total+limit-1)/limit)
	if page > pages {
		page = pages
		items, total, err = s.vulns.Search(ctx, text, (page-1)*limit, limit)
		if err != nil {
			return Page{}, fmt.Errorf("search stored vulnerabilities: %w", err)
		}
	}

	return Page{
		Query:        text,
		Items:        items,
		Page:         page,
		Limit:        limit,
		TotalPages:   pages,
		TotalResults: total,
		HasPrevious:  page > 1,
		HasNext:      page < pages,
	}, nil
}

// Recent returns the latest search audit records, newest first.
func (s *Service) Recent(ctx context.Context) ([]audit.Record, error) {
	recs, err := s.audits.Recent(ctx, RecentSearches)
	if err != nil {
		return nil, fmt.Errorf("recent searches: %w", err)
	}
	return recs, nil
}

// Wipe removes every stored vulnerability and search record.
func (s *Service) Wipe(ctx context.Context) (Wiped, error) {
	var w Wiped
	n, err := s.vulns.DeleteAll(ctx)
	if err != nil {
		return w, fmt.Errorf("delete vulnerabilities: %w", err)
	}
	w.Vulnerabilities = n

	n, err = s.audits.DeleteAll(ctx)
	if err != nil {
		return w, fmt.Errorf("delete searches: %w", err)
	}
	w.Searches = n
	return w, nil
}
