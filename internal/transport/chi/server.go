// Package chi is the REST transport: JSON handlers on a chi router.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/logger"
	augmentuc "github.com/kailas-cloud/dsearch/internal/usecase/augment"
	healthuc "github.com/kailas-cloud/dsearch/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/dsearch/internal/usecase/ingest"
	scheduleruc "github.com/kailas-cloud/dsearch/internal/usecase/scheduler"
)

// Defaults.
const (
	DefaultMaxBodyBytes = 32 << 20
	defaultJobListLimit = 50
)

// Config tunes request validation.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	MaxBodyBytes int64
}

// Services are the use cases behind the routes. Scheduler and Augmenter may be nil.
type Services struct {
	Search    Searcher
	Ingest    Ingester
	Documents DocumentReader
	Cache     CacheAdmin
	Scheduler Scheduler
	Augment   Augmenter
	Health    HealthChecker
}

// Server holds the REST handlers.
type Server struct {
	svc           Services
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(svc Services, cfg Config, logger *zap.Logger) *Server {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = request.DefaultLimit
	}
	if cfg.MaxLimit <= 0 || cfg.MaxLimit > request.MaxLimit {
		cfg.MaxLimit = request.MaxLimit
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		svc:           svc,
		cfg:           cfg,
		logger:        logger.Named("http"),
		errorHandlers: defaultErrorHandlers(),
	}
}

// Mount registers every REST route on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.SearchQuery)
		r.Post("/search", s.Search)

		r.Post("/documents", s.IngestDocument)
		r.Post("/documents/batch", s.IngestBatch)
		r.Get("/documents/{id}", s.GetDocument)
		r.Get("/documents/{id}/similar", s.SimilarQuery)
		r.Post("/documents/{id}/similar", s.Similar)
		r.Delete("/documents/{id}", s.DeleteDocument)

		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/stats", s.JobStats)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
		r.Post("/jobs/{id}/retry", s.RetryJob)
		r.Delete("/jobs/{id}", s.DeleteJob)

		r.Delete("/cache", s.ClearCache)
		r.Delete("/cache/documents/{id}", s.InvalidateDocument)

		r.Get("/scheduler", s.SchedulerStatus)
		r.Post("/scheduler/{name}/run", s.TriggerJob)

		r.Post("/augment", s.Augment)
	})
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !s.decode(w, r, &body) {
		return
	}
	filters, err := filtersFromDTO(body.Filters)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err))
		return
	}
	req, err := s.buildRequest(body.Query, body.Mode, body.Limit, filters, body.Boosts, body.BypassCache)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.runSearch(w, r, &req)
}

// SearchQuery handles GET /api/v1/search?q=&limit=&mode=&bypass_cache=.
func (s *Server) SearchQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: limit: %w", domain.ErrInvalidQuery, err))
		return
	}
	bypass, err := boolParam(q.Get("bypass_cache"))
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: bypass_cache: %w", domain.ErrInvalidQuery, err))
		return
	}
	req, err := s.buildRequest(q.Get("q"), q.Get("mode"), limit, filter.Expression{}, nil, bypass)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.runSearch(w, r, &req)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, req *request.Request) {
	resp, err := s.svc.Search.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if resp.Degraded {
		w.Header().Set("X-Search-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, searchToDTO(&resp))
}

func (s *Server) buildRequest(
	text, modeName string, limit int, filters filter.Expression, boosts map[string]float64, bypass bool,
) (request.Request, error) {
	m, err := mode.Parse(modeName)
	if err != nil {
		return request.Request{}, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit < 0 || limit > s.cfg.MaxLimit {
		return request.Request{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidQuery, s.cfg.MaxLimit)
	}
	req, err := request.New(text, m, filters, boosts, limit, bypass)
	if err != nil {
		return request.Request{}, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	return req, nil
}

// Similar handles POST /api/v1/documents/{id}/similar.
func (s *Server) Similar(w http.ResponseWriter, r *http.Request) {
	var body similarBody
	if !s.decode(w, r, &body) {
		return
	}
	filters, err := filtersFromDTO(body.Filters)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err))
		return
	}
	s.runSimilar(w, r, body.Limit, body.MinScore, filters)
}

// SimilarQuery handles GET /api/v1/documents/{id}/similar?limit=&min_score=.
func (s *Server) SimilarQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: limit: %w", domain.ErrInvalidQuery, err))
		return
	}
	var minScore float64
	if v := strings.TrimSpace(q.Get("min_score")); v != "" {
		if minScore, err = strconv.ParseFloat(v, 64); err != nil {
			s.handleDomainError(w, r, fmt.Errorf("%w: min_score: not a number: %q", domain.ErrInvalidQuery, v))
			return
		}
	}
	s.runSimilar(w, r, limit, minScore, filter.Expression{})
}

func (s *Server) runSimilar(w http.ResponseWriter, r *http.Request, limit int, minScore float64, filters filter.Expression) {
	id := chi.URLParam(r, "id")
	if err := document.ValidateID(id); err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err))
		return
	}
	req, err := request.NewSimilar(id, filters, limit, minScore)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err))
		return
	}
	resp, err := s.svc.Search.Similar(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchToDTO(&resp))
}

// IngestDocument handles POST /api/v1/documents.
func (s *Server) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var rec ingestuc.Record
	if !s.decode(w, r, &rec) {
		return
	}
	s.submit(w, r, []ingestuc.Record{rec})
}

// IngestBatch handles POST /api/v1/documents/batch.
func (s *Server) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if !s.decode(w, r, &body) {
		return
	}
	s.submit(w, r, body.Documents)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, records []ingestuc.Record) {
	docs, err := ingestuc.Documents(records)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	j, err := s.svc.Ingest.Submit(r.Context(), docs, job.SourceAPI)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+j.ID)
	writeJSON(w, http.StatusAccepted, jobToDTO(j, true))
}

// GetDocument handles GET /api/v1/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := document.ValidateID(id); err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err))
		return
	}
	doc, err := s.svc.Documents.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToDTO(&doc))
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ingest.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /api/v1/jobs?status=&source=&limit=.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil || limit < 0 {
		s.handleDomainError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidQuery))
		return
	}
	if limit == 0 {
		limit = defaultJobListLimit
	}
	jobs, err := s.svc.Ingest.List(r.Context(), job.Filter{
		Status: job.Status(q.Get("status")),
		Source: job.Source(q.Get("source")),
		Limit:  limit,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = jobToDTO(j, false)
	}
	writeJSON(w, http.StatusOK, jobListResponse{Items: items, Total: len(items)})
}

// JobStats handles GET /api/v1/jobs/stats.
func (s *Server) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Ingest.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.svc.Ingest.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToDTO(j, true))
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.svc.Ingest.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToDTO(j, true))
}

// RetryJob handles POST /api/v1/jobs/{id}/retry.
func (s *Server) RetryJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.svc.Ingest.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToDTO(j, true))
}

// DeleteJob handles DELETE /api/v1/jobs/{id}.
func (s *Server) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ingest.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles DELETE /api/v1/cache.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Cache.InvalidatePrefix(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	logger.FromContextOr(r.Context(), s.logger).Info("Search cache cleared", zap.Int("removed", n))
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

// InvalidateDocument handles DELETE /api/v1/cache/documents/{id}.
func (s *Server) InvalidateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := document.ValidateID(id); err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err))
		return
	}
	n, err := s.svc.Cache.InvalidateDocument(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

// SchedulerStatus handles GET /api/v1/scheduler.
func (s *Server) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduleruc.JobStatus{}
	if s.svc.Scheduler != nil {
		jobs = s.svc.Scheduler.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": s.svc.Scheduler != nil,
		"jobs":    jobs,
	})
}

// TriggerJob handles POST /api/v1/scheduler/{name}/run.
func (s *Server) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.svc.Scheduler == nil {
		s.handleDomainError(w, r, fmt.Errorf("scheduled job %s: %w", name, domain.ErrNotFound))
		return
	}
	if err := s.svc.Scheduler.Trigger(name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"name": name, "status": "triggered"})
}

// Augment handles POST /api/v1/augment.
func (s *Server) Augment(w http.ResponseWriter, r *http.Request) {
	if s.svc.Augment == nil {
		s.handleDomainError(w, r, domain.ErrAugmentationDisabled)
		return
	}
	var body augmentBody
	if !s.decode(w, r, &body) {
		return
	}
	m, err := mode.Parse(body.Mode)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err))
		return
	}
	ground := body.Ground == nil || *body.Ground
	resp, err := s.svc.Augment.Augment(r.Context(), augmentuc.Request{
		Prompt: body.Prompt,
		Ground: ground,
		Mode:   m,
		Limit:  body.Limit,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, augmentToDTO(&resp))
}

// HealthCheck handles GET /health. Degraded still serves traffic and answers 200.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health.Check(r.Context())
	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
		"errors": report.Errors,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeBatchTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func intParam(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	return n, nil
}

func boolParam(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", v)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
