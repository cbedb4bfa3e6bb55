// Package search routes queries to the lexical and vector backends, fuses
// their results and fronts the whole path with the result cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/logger"
	"github.com/kailas-cloud/dsearch/internal/metrics"
)

// DefaultBackendTimeout bounds a single backend call.
const DefaultBackendTimeout = 2 * time.Second

// Config tunes the router.
type Config struct {
	BackendTimeout time.Duration
	// CacheTTL is the lifetime of written entries; zero uses the cache default.
	CacheTTL time.Duration
}

// Service is the QueryRouter.
type Service struct {
	lexical LexicalSearcher
	vector  VectorSearcher
	fuser   Fuser
	cache   Cache
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a search service. cache may be nil to disable result caching.
func New(lexical LexicalSearcher, vector VectorSearcher, fuser Fuser, cache Cache, cfg Config, logger *zap.Logger) *Service {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}
	return &Service{
		lexical: lexical,
		vector:  vector,
		fuser:   fuser,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("search"),
		now:     time.Now,
	}
}

type backendResult struct {
	hits   []result.Candidate
	err    error
	status result.BackendStatus
}

// Search answers a query from the cache or by fanning out to the backends.
//
// When exactly one consulted backend fails the survivor's hits are returned
// with Degraded set. When every consulted backend fails the error wraps
// domain.ErrSearchUnavailable. domain.ErrInvalidQuery is never degraded.
func (s *Service) Search(ctx context.Context, req *request.Request) (result.Response, error) {
	started := s.now()
	log := logger.FromContextOr(ctx, s.logger)
	fingerprint := req.Fingerprint()
	m := string(req.Mode())

	if s.cache != nil && !req.BypassCache() {
		hits, ok, err := s.cache.Get(ctx, fingerprint)
		switch {
		case err != nil:
			metrics.SearchCacheTotal.WithLabelValues("error").Inc()
			log.Warn("Cache read failed, treating as miss", zap.Error(err))
		case ok:
			metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
			metrics.SearchRequestsTotal.WithLabelValues(m, "cached").Inc()
			return result.Response{Hits: hits, Cached: true, Took: time.Since(started)}, nil
		default:
			metrics.SearchCacheTotal.WithLabelValues("miss").Inc()
		}
	} else if s.cache != nil {
		metrics.SearchCacheTotal.WithLabelValues("bypass").Inc()
	}

	lex, vec := s.fanOut(ctx, req)

	if err := ctx.Err(); err != nil {
		return result.Response{}, err
	}
	for _, b := range []backendResult{lex, vec} {
		if errors.Is(b.err, domain.ErrInvalidQuery) {
			metrics.SearchRequestsTotal.WithLabelValues(m, "invalid").Inc()
			return result.Response{}, b.err
		}
	}

	statuses := map[string]result.BackendStatus{
		result.BackendLexical: lex.status,
		result.BackendVector:  vec.status,
	}
	var failed []error
	consulted := 0
	backends := []struct {
		name string
		res  backendResult
	}{
		{result.BackendLexical, lex},
		{result.BackendVector, vec},
	}
	for _, nb := range backends {
		name, b := nb.name, nb.res
		if b.status == result.BackendSkipped {
			continue
		}
		consulted++
		if b.err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", name, b.err))
			metrics.SearchBackendFailuresTotal.WithLabelValues(name, string(b.status)).Inc()
			log.Warn("Search backend failed",
				zap.String("backend", name), zap.String("status", string(b.status)), zap.Error(b.err))
		}
	}
	if len(failed) == consulted {
		metrics.SearchRequestsTotal.WithLabelValues(m, "unavailable").Inc()
		return result.Response{}, fmt.Errorf("%w: %w", domain.ErrSearchUnavailable, errors.Join(failed...))
	}
	degraded := len(failed) > 0

	hits := s.fuser.Fuse(lex.hits, vec.hits, req.Limit())

	if s.cache != nil && !degraded {
		s.store(ctx, log, fingerprint, hits, started)
	}

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	metrics.SearchRequestsTotal.WithLabelValues(m, outcome).Inc()

	return result.Response{
		Hits:     hits,
		Degraded: degraded,
		Backends: statuses,
		Took:     time.Since(started),
	}, nil
}

// fanOut queries the backends the mode asks for, concurrently, each under
// its own timeout. A failing backend never cancels the other.
func (s *Service) fanOut(ctx context.Context, req *request.Request) (backendResult, backendResult) {
	lex := backendResult{status: result.BackendSkipped}
	vec := backendResult{status: result.BackendSkipped}

	var g errgroup.Group
	if req.Mode() != mode.Semantic {
		g.Go(func() error {
			lex = s.call(ctx, result.BackendLexical, func(ctx context.Context) ([]result.Candidate, error) {
				return s.lexical.Search(ctx, req.Normalized(), req.Boosts(), req.Filters(), req.Limit())
			})
			return nil
		})
	}
	if req.Mode() != mode.Keyword {
		g.Go(func() error {
			vec = s.call(ctx, result.BackendVector, func(ctx context.Context) ([]result.Candidate, error) {
				return s.vector.Search(ctx, req.Normalized(), req.Filters(), req.Limit())
			})
			return nil
		})
	}
	_ = g.Wait()
	return lex, vec
}

func (s *Service) call(
	ctx context.Context, backend string, fn func(context.Context) ([]result.Candidate, error),
) backendResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	start := time.Now()
	hits, err := fn(ctx)
	metrics.SearchBackendDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		return backendResult{err: err, status: statusOf(err)}
	}
	return backendResult{hits: hits, status: result.BackendOK}
}

func statusOf(err error) result.BackendStatus {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return result.BackendTimeout
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return result.BackendEmbeddingFailure
	}
	return result.BackendUnavailable
}

// store writes the fused hits to the cache. Failures are logged and counted only.
func (s *Service) store(ctx context.Context, log *zap.Logger, fingerprint string, hits []result.Hit, started time.Time) {
	stored, err := s.cache.Set(ctx, fingerprint, hits, s.cfg.CacheTTL, started)
	switch {
	case err != nil:
		metrics.CacheWriteFailuresTotal.Inc()
		log.Warn("Cache write failed", zap.Error(err))
	case !stored:
		metrics.CacheWritesSkippedTotal.Inc()
		log.Debug("Cache write skipped, a contributing document changed during the query")
	}
}
