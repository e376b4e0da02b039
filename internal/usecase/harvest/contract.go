package harvest

import (
	"context"

	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/usecase/reconcile"
)

// Sources lists the adapters polled on each run (source.Registry).
type Sources interface {
	Adapters() []source.Adapter
}

// Aggregator fans a query out to every source.
type Aggregator interface {
	Run(ctx context.Context, query string) vulnerability.BySource
}

// AuditStore records search invocations.
type AuditStore interface {
	Create(ctx context.Context, rec audit.Record) error
	// Finalize sets the result count once; a second call returns domain.ErrAlreadyFinalized.
	Finalize(ctx context.Context, id string, count int) error
}

// Persister reconciles harvested records with storage.
type Persister interface {
	Persist(ctx context.Context, results vulnerability.BySource) reconcile.Summary
}
