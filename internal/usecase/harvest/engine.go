// Package harvest polls every registered source for a query and records the run.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	logpkg "github.com/kailas-cloud/vulnharvest/internal/logger"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
	"github.com/kailas-cloud/vulnharvest/internal/normalize"
	"github.com/kailas-cloud/vulnharvest/internal/source"
)

// Engine defaults.
const (
	DefaultMaxWorkers = 10
	DefaultTimeout    = 25 * time.Second
)

// EngineConfig bounds one run. Zero values take the defaults.
type EngineConfig struct {
	MaxWorkers int
	Timeout    time.Duration
}

// Engine runs one task per source on a bounded pool.
//
// A task that outlives its timeout is abandoned, not killed: its context is
// cancelled, but an adapter that ignores ctx keeps its goroutine until the
// underlying call returns.
type Engine struct {
	sources    Sources
	maxWorkers int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(sources Sources, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{sources: sources, maxWorkers: cfg.MaxWorkers, timeout: cfg.Timeout, logger: logger}
}

type taskResult struct {
	source   string
	records  []vulnerability.Record
	outcome  string
	err      error
	duration time.Duration
}

// Run polls every source and returns the normalized records keyed by source.
// A source appears only when it produced at least one record. Adapter errors,
// panics and timeouts never reach the caller.
func (e *Engine) Run(ctx context.Context, query string) vulnerability.BySource {
	adapters := e.sources.Adapters()
	out := make(vulnerability.BySource, len(adapters))
	if len(adapters) == 0 {
		return out
	}

	log := e.logger.With(logpkg.Fields(ctx)...)
	results := make(chan taskResult, len(adapters))
	var g errgroup.Group
	g.SetLimit(min(e.maxWorkers, len(adapters)))
	go func() {
		for _, a := range adapters {
			g.Go(func() error {
				results <- e.runTask(ctx, log, a, query)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	// Completion order; only this goroutine touches out.
	for res := range results {
		observe(log, res)
		if len(res.records) > 0 {
			out[res.source] = res.records
		}
	}
	return out
}

// runTask returns when the task finishes or its deadline fires, whichever is first.
func (e *Engine) runTask(ctx context.Context, log *zap.Logger, a source.Adapter, query string) taskResult {
	name := a.Name()
	start := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		done <- collect(taskCtx, log, a, name, query)
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-taskCtx.Done():
		res = abandoned(name, taskCtx.Err())
	}
	res.duration = time.Since(start)
	return res
}

func abandoned(name string, cause error) taskResult {
	if errors.Is(cause, context.DeadlineExceeded) {
		return taskResult{source: name, outcome: metrics.OutcomeTimeout, err: domain.ErrSourceTimeout}
	}
	return taskResult{source: name, outcome: metrics.OutcomeError, err: cause}
}

// collect runs the adapter and normalizes its items. Panics become a panic outcome.
func collect(ctx context.Context, log *zap.Logger, a source.Adapter, name, query string) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{
				source:  name,
				outcome: metrics.OutcomePanic,
				err:     &domain.SourcePanicError{Source: name, Value: r},
			}
		}
	}()

	items, err := a.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return abandoned(name, ctx.Err())
		}
		return taskResult{source: name, outcome: metrics.OutcomeError, err: fmt.Errorf("search: %w", err)}
	}

	records := normalizeAll(log, a, name, items)
	if len(records) == 0 {
		return taskResult{source: name, outcome: metrics.OutcomeEmpty}
	}
	return taskResult{source: name, outcome: metrics.OutcomeOK, records: records}
}

func normalizeAll(log *zap.Logger, a source.Adapter, name string, items []source.RawItem) []vulnerability.Record {
	own, _ := a.(source.Normalizer)
	records := make([]vulnerability.Record, 0, len(items))
	for i, item := range items {
		rec, ok := normalizeOne(log, own, name, i, item)
		if ok {
			records = append(records, rec)
		}
	}
	return records
}

func normalizeOne(
	log *zap.Logger, own source.Normalizer, name string, idx int, item source.RawItem,
) (rec vulnerability.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NormalizeSkippedTotal.WithLabelValues(name, "panic").Inc()
			log.Warn("Normalize panicked, item skipped",
				zap.String("source", name),
				zap.Int("item", idx),
				zap.Any("panic", r),
			)
			rec, ok = vulnerability.Record{}, false
		}
	}()

	var d vulnerability.Draft
	if own != nil {
		d, ok = own.Normalize(item)
	} else {
		d, ok = normalize.Generic(name, item)
	}
	if !ok {
		metrics.NormalizeSkippedTotal.WithLabelValues(name, "rejected").Inc()
		return vulnerability.Record{}, false
	}
	if d.SourceName == "" {
		d.SourceName = name
	}
	return vulnerability.New(d), true
}

func observe(log *zap.Logger, res taskResult) {
	metrics.SourceRequestsTotal.WithLabelValues(res.source, res.outcome).Inc()
	metrics.SourceRequestDuration.WithLabelValues(res.source).Observe(res.duration.Seconds())
	metrics.SourceRecordsTotal.WithLabelValues(res.source).Add(float64(len(res.records)))

	fields := []zap.Field{
		zap.String("source", res.source),
		zap.String("outcome", res.outcome),
		zap.Int("records", len(res.records)),
		zap.Duration("duration", res.duration),
	}
	switch res.outcome {
	case metrics.OutcomeOK, metrics.OutcomeEmpty:
		log.Info("Source finished", fields...)
	case metrics.OutcomePanic:
		log.Error("Source panicked", append(fields, zap.Error(res.err))...)
	default:
		log.Warn("Source failed", append(fields, zap.Error(res.err))...)
	}
}
