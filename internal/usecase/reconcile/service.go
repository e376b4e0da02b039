// Package reconcile upserts harvested records against stored knowledge.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
)

// Summary counts persistence results for one run.
type Summary struct {
	Inserted int
	Updated  int
	Failed   int
}

// Saved returns inserted plus updated.
func (s Summary) Saved() int { return s.Inserted + s.Updated }

// Reconciler persists records one at a time.
type Reconciler struct {
	store  Store
	logger *zap.Logger
}

// New creates a Reconciler.
func New(store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Persist walks sources in name order and records in source order.
// A failed record is logged and counted; the rest of the batch continues.
func (r *Reconciler) Persist(ctx context.Context, results vulnerability.BySource) Summary {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum Summary
	for _, name := range names {
		for _, rec := range results[name] {
			res, err := r.persistOne(ctx, rec)
			if err != nil {
				sum.Failed++
				metrics.PersistenceTotal.WithLabelValues(metrics.PersistFailed).Inc()
				r.logger.Warn("Persist vulnerability failed",
					zap.String("source", name),
					zap.String("cve_id", rec.CVEID()),
					zap.Error(err),
				)
				continue
			}
			metrics.PersistenceTotal.WithLabelValues(res).Inc()
			switch res {
			case metrics.PersistInserted:
				sum.Inserted++
			case metrics.PersistUpdated:
				sum.Updated++
			}
		}
	}

	r.logger.Debug("Reconciliation finished",
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("failed", sum.Failed),
	)
	return sum
}

func (r *Reconciler) persistOne(ctx context.Context, rec vulnerability.Record) (string, error) {
	existing, err := r.store.FindByCVEIDOrTitle(ctx, rec.CVEID(), rec.Title())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		err = r.store.Insert(ctx, rec)
		if err == nil {
			return metrics.PersistInserted, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return "", fmt.Errorf("insert: %w", err)
		}
		// Lost an insert race: the row exists now, merge into it.
		existing, err = r.store.FindByCVEIDOrTitle(ctx, rec.CVEID(), rec.Title())
		if err != nil {
			return "", fmt.Errorf("lookup after conflict: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup: %w", err)
	}

	if err := r.store.UpdateMerged(ctx, existing, rec); err != nil {
		return "", fmt.Errorf("update %s: %w", existing.CVEID(), err)
	}
	return metrics.PersistUpdated, nil
}
