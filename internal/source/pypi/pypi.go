// Package pypi fans a query out over Python package names and resolves each via OSV.
package pypi

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/osv"
)

// Name is the registry name of the adapter.
const Name = "PYTHON_PACKAGES"

// WellKnown are common packages checked when the query mentions Python.
var WellKnown = []string{
	"django", "flask", "requests", "numpy", "pandas",
	"tensorflow", "pillow", "cryptography", "sqlalchemy",
	"pytorch", "scikit-learn", "matplotlib", "beautifulsoup4",
}

const pythonCandidates = 3

var packageName = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)

// Searcher resolves one package name to raw OSV records.
type Searcher interface {
	Search(ctx context.Context, query string) ([]source.RawItem, error)
}

// Adapter implements source.Adapter and source.Normalizer.
type Adapter struct {
	osv Searcher
}

// New creates a PyPI adapter delegating lookups to s.
func New(s Searcher) *Adapter {
	return &Adapter{osv: s}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return Name }

// Candidates returns the package names searched for query, in order, without duplicates.
func Candidates(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []string
	if packageName.MatchString(q) && !vulnerability.IsCVE(q) {
		out = append(out, q)
	}
	if strings.Contains(q, "python") {
		for _, known := range WellKnown[:pythonCandidates] {
			if !slices.Contains(out, known) {
				out = append(out, known)
			}
		}
	}
	return out
}

// Search looks up every candidate package. Candidates that fail are skipped;
// an error is returned only when all of them failed.
func (a *Adapter) Search(ctx context.Context, query string) ([]source.RawItem, error) {
	candidates := Candidates(query)
	var (
		out  []source.RawItem
		errs []error
	)
	for _, name := range candidates {
		items, err := a.osv.Search(ctx, name)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out = append(out, items...)
	}
	if len(out) == 0 && len(errs) > 0 && len(errs) == len(candidates) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Normalize implements source.Normalizer with OSV rules, attributed to this source.
func (a *Adapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	return osv.NormalizeAs(Name, item)
}
