package harvest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	logpkg "github.com/kailas-cloud/vulnharvest/internal/logger"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
)

// MinQueryLength is the shortest query accepted, in runes, after trimming.
const MinQueryLength = 2

// Request is one search submission. CallerIP and CallerAgent are stored as received.
type Request struct {
	Query       string
	CallerIP    string
	CallerAgent string
}

// Response is the result of one submission.
type Response struct {
	Success         bool                      `json:"success"`
	Query           string                    `json:"query,omitempty"`
	SearchID        string                    `json:"search_id,omitempty"`
	TotalFound      int                       `json:"total_found"`
	SavedCount      int                       `json:"saved_count"`
	ResultsBySource map[string]int            `json:"results_by_source,omitempty"`
	Vulnerabilities []vulnerability.APIRecord `json:"vulnerabilities,omitempty"`
	Error           string                    `json:"error,omitempty"`

	// Err carries the failure for callers that map it to a status code.
	Err error `json:"-"`
}

// Service runs a search end to end: audit, fan-out, reconciliation.
type Service struct {
	engine    Aggregator
	audits    AuditStore
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewService creates a Service.
func NewService(engine Aggregator, audits AuditStore, persister Persister, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		audits:    audits,
		persister: persister,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ValidateQuery trims the query and checks its length.
func ValidateQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < MinQueryLength {
		return "", fmt.Errorf("%w: query must be at least %d characters long", domain.ErrInvalidQuery, MinQueryLength)
	}
	return q, nil
}

// Submit executes a search. It never returns an error: failures are reported
// as Success=false with Err set. Only audit creation failure or a panic in the
// orchestration is fatal; source and persistence faults degrade the result.
func (s *Service) Submit(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Search panicked", zap.String("query", req.Query), zap.Any("panic", r))
			resp = failed(fmt.Errorf("internal error: %v", r))
			metrics.SearchesTotal.WithLabelValues("failed").Inc()
		}
	}()

	query, err := ValidateQuery(req.Query)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("invalid").Inc()
		return failed(err)
	}

	rec := audit.New(s.newID(), query, req.CallerIP, req.CallerAgent, s.now())
	if err := s.audits.Create(ctx, rec); err != nil {
		s.logger.With(logpkg.Fields(ctx)...).Error("Create search record failed", zap.String("query", query), zap.Error(err))
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return failed(fmt.Errorf("create search record: %w", err))
	}

	ctx = logpkg.ContextWithFields(ctx, zap.String("search_id", rec.ID()))
	log := s.logger.With(logpkg.Fields(ctx)...).With(zap.String("query", query))
	log.Info("Search started")

	results := s.engine.Run(ctx, query)
	total := results.Total()

	if err := s.audits.Finalize(ctx, rec.ID(), total); err != nil {
		log.Warn("Finalize search record failed", zap.Int("total", total), zap.Error(err))
	}

	summary := s.persister.Persist(ctx, results)

	log.Info("Search finished",
		zap.Int("total_found", total),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	metrics.SearchesTotal.WithLabelValues("success").Inc()

	return Response{
		Success:         true,
		Query:           query,
		SearchID:        rec.ID(),
		TotalFound:      total,
		SavedCount:      summary.Saved(),
		ResultsBySource: results.Counts(),
		Vulnerabilities: views(results),
	}
}

// views flattens results in source name order.
func views(results vulnerability.BySource) []vulnerability.APIRecord {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]vulnerability.APIRecord, 0, results.Total())
	for _, name := range names {
		for _, rec := range results[name] {
			out = append(out, rec.APIView())
		}
	}
	return out
}

func failed(err error) Response {
	return Response{Success: false, Error: err.Error(), Err: err}
}
