package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/logger"
	"github.com/kailas-cloud/dsearch/internal/metrics"
)

const modeSimilar = "similar"

// Similar returns the documents nearest to an indexed one in embedding space,
// best first, without the reference document. Only the vector backend is
// consulted and results are never cached. Hits below the request's minimum
// similarity are dropped.
func (s *Service) Similar(ctx context.Context, req *request.SimilarRequest) (result.Response, error) {
	started := s.now()
	log := logger.FromContextOr(ctx, s.logger)

	res := s.call(ctx, result.BackendVector, func(ctx context.Context) ([]result.Candidate, error) {
		return s.vector.SearchSimilar(ctx, req.DocumentID(), req.Filters(), req.Limit())
	})
	if err := ctx.Err(); err != nil {
		return result.Response{}, err
	}
	switch {
	case errors.Is(res.err, domain.ErrInvalidQuery):
		metrics.SearchRequestsTotal.WithLabelValues(modeSimilar, "invalid").Inc()
		return result.Response{}, res.err
	case errors.Is(res.err, domain.ErrNotFound):
		metrics.SearchRequestsTotal.WithLabelValues(modeSimilar, "not_found").Inc()
		return result.Response{}, res.err
	case res.err != nil:
		metrics.SearchBackendFailuresTotal.WithLabelValues(result.BackendVector, string(res.status)).Inc()
		metrics.SearchRequestsTotal.WithLabelValues(modeSimilar, "unavailable").Inc()
		log.Warn("Similar-document search failed",
			zap.String("document_id", req.DocumentID()), zap.String("status", string(res.status)), zap.Error(res.err))
		return result.Response{}, fmt.Errorf("%w: %s: %w", domain.ErrSearchUnavailable, result.BackendVector, res.err)
	}

	hits := make([]result.Hit, 0, len(res.hits))
	for _, c := range res.hits {
		if c.Score < req.MinScore() {
			continue
		}
		score := c.Score
		hits = append(hits, result.New(c.ID, c.Title, c.Source, nil, &score, score))
	}
	metrics.SearchRequestsTotal.WithLabelValues(modeSimilar, "ok").Inc()

	return result.Response{
		Hits: hits,
		Backends: map[string]result.BackendStatus{
			result.BackendLexical: result.BackendSkipped,
			result.BackendVector:  result.BackendOK,
		},
		Took: time.Since(started),
	}, nil
}
