// Package chi exposes the harvest and catalog services over HTTP with a chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	logpkg "github.com/kailas-cloud/vulnharvest/internal/logger"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
	cataloguc "github.com/kailas-cloud/vulnharvest/internal/usecase/catalog"
	harvestuc "github.com/kailas-cloud/vulnharvest/internal/usecase/harvest"
	healthuc "github.com/kailas-cloud/vulnharvest/internal/usecase/health"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
)

const maxBodyBytes = 1 << 20

// Harvester runs a live search across every source.
type Harvester interface {
	Submit(ctx context.Context, req harvestuc.Request) harvestuc.Response
}

// Catalog serves stored records and search history.
type Catalog interface {
	Search(ctx context.Context, text string, page, limit int) (cataloguc.Page, error)
	Recent(ctx context.Context) ([]audit.Record, error)
	Wipe(ctx context.Context) (cataloguc.Wiped, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// ErrorResponse is the body of non-search errors.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query string `json:"query"`
}

// ListParams are the query parameters of GET /api/search.
type ListParams struct {
	Q     *string
	Page  *int
	Limit *int
}

// ListItem is one stored record in a listing.
type ListItem struct {
	ID            string                 `json:"id"`
	CVEID         string                 `json:"cve_id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Severity      vulnerability.Severity `json:"severity"`
	CVSSScore     *float64               `json:"cvss_score"`
	PublishedDate string                 `json:"published_date"`
	Source        string                 `json:"source"`
	SourceURL     string                 `json:"source_url"`
}

// ListResponse is the body of GET /api/search.
type ListResponse struct {
	Query           string     `json:"query"`
	Vulnerabilities []ListItem `json:"vulnerabilities"`
	Page            int        `json:"page"`
	TotalPages      int        `json:"total_pages"`
	TotalResults    int        `json:"total_results"`
	HasPrevious     bool       `json:"has_previous"`
	HasNext         bool       `json:"has_next"`
}

// RecentSearch is one audit record in GET /api/searches/recent.
type RecentSearch struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	CreatedAt    time.Time `json:"created_at"`
	ResultsCount *int      `json:"results_count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Server holds the HTTP handlers.
type Server struct {
	harvest Harvester
	catalog Catalog
	health  HealthChecker
	logger  *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(harvest Harvester, catalog Catalog, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{harvest: harvest, catalog: catalog, health: health, logger: logger}
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.StripSlashes)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Post("/api/search", s.SubmitSearch)
	r.Get("/api/search", s.ListVulnerabilities)
	r.Get("/api/searches/recent", s.RecentSearches)
	r.Delete("/api/data", s.DeleteData)
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// SubmitSearch handles POST /api/search.
func (s *Server) SubmitSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, harvestuc.Response{Error: "invalid request body"})
		return
	}

	resp := s.harvest.Submit(r.Context(), harvestuc.Request{
		Query:       req.Query,
		CallerIP:    clientIP(r),
		CallerAgent: r.UserAgent(),
	})

	status := http.StatusOK
	switch {
	case resp.Success:
	case errors.Is(resp.Err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		logpkg.FromContext(r.Context()).Error("search failed", zap.Error(resp.Err))
	}
	writeJSON(w, status, resp)
}

// ListVulnerabilities handles GET /api/search.
func (s *Server) ListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	page, err := s.catalog.Search(r.Context(), deref(params.Q), deref(params.Page), deref(params.Limit))
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	items := make([]ListItem, len(page.Items))
	for i, rec := range page.Items {
		items[i] = listItem(rec)
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Query:           page.Query,
		Vulnerabilities: items,
		Page:            page.Page,
		TotalPages:      page.TotalPages,
		TotalResults:    page.TotalResults,
		HasPrevious:     page.HasPrevious,
		HasNext:         page.HasNext,
	})
}

// RecentSearches handles GET /api/searches/recent.
func (s *Server) RecentSearches(w http.ResponseWriter, r *http.Request) {
	recs, err := s.catalog.Recent(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]RecentSearch, len(recs))
	for i, rec := range recs {
		out[i] = RecentSearch{
			ID:           rec.ID(),
			Query:        rec.Query(),
			CreatedAt:    rec.CreatedAt(),
			ResultsCount: rec.ResultCount(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": out})
}

// DeleteData handles DELETE /api/data.
func (s *Server) DeleteData(w http.ResponseWriter, r *http.Request) {
	wiped, err := s.catalog.Wipe(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	logpkg.FromContext(r.Context()).Info("stored data wiped",
		zap.Int("vulnerabilities", wiped.Vulnerabilities),
		zap.Int("searches", wiped.Searches),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":                 "Data deleted successfully",
		"deleted_vulnerabilities": wiped.Vulnerabilities,
		"deleted_searches":        wiped.Searches,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context()).Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

func bindListParams(r *http.Request) (ListParams, error) {
	var p ListParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "q", q, &p.Q); err != nil {
		return p, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", q, &p.Page); err != nil {
		return p, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &p.Limit); err != nil {
		return p, err
	}
	return p, nil
}

func listItem(rec vulnerability.Record) ListItem {
	v := rec.ListView()
	src := v.Source
	if src == "" {
		src = "Unknown"
	}
	return ListItem{
		ID:            v.CVEID,
		CVEID:         v.CVEID,
		Title:         v.Title,
		Description:   v.Description,
		Severity:      v.Severity,
		CVSSScore:     v.CVSSScore,
		PublishedDate: v.PublishedDate,
		Source:        src,
		SourceURL:     v.SourceURL,
	}
}

// clientIP returns the host part of the connection address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
