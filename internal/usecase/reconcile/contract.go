package reconcile

import (
	"context"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// Store is the persistence collaborator for canonical records.
type Store interface {
	// FindByCVEIDOrTitle looks up by CVE ID first, then by exact non-empty title.
	// Returns domain.ErrNotFound when neither matches.
	FindByCVEIDOrTitle(ctx context.Context, cveID, title string) (vulnerability.Record, error)
	// Insert stores a new record. Returns domain.ErrAlreadyExists on a key conflict.
	Insert(ctx context.Context, rec vulnerability.Record) error
	// UpdateMerged folds incoming into existing (vulnerability.Merge) under existing's key.
	UpdateMerged(ctx context.Context, existing, incoming vulnerability.Record) error
}
