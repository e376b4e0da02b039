// Package source defines the plug point for vulnerability-intelligence sources.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// RawItem is one untyped item as a source returned it. Never persisted.
type RawItem map[string]any

// Adapter queries one upstream source.
// Implementations must honor ctx and keep no per-call state on the receiver.
type Adapter interface {
	Name() string
	Search(ctx context.Context, query string) ([]RawItem, error)
}

// Normalizer is implemented by adapters that know their own item shape.
// Adapters without it go through the generic normalizer.
type Normalizer interface {
	// Normalize maps one item to a draft. false means skip the item.
	Normalize(item RawItem) (vulnerability.Draft, bool)
}

// Registry holds the adapters polled on every run.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Names are unique case-insensitively.
func (r *Registry) Register(a Adapter) error {
	name := strings.TrimSpace(a.Name())
	if name == "" {
		return fmt.Errorf("register adapter: empty name: %w", domain.ErrInvalidQuery)
	}
	key := strings.ToUpper(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[key]; ok {
		return fmt.Errorf("register %s: %w", name, domain.ErrDuplicateSource)
	}
	r.adapters[key] = a
	return nil
}

// MustRegister registers every adapter and panics on conflict.
// Used by the composition root where a conflict is a programming error.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Adapters returns the registered adapters ordered by name.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered adapter names ordered.
func (r *Registry) Names() []string {
	adapters := r.Adapters()
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	return names
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
