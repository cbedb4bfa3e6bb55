package search

import (
	"context"
	"time"

	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
)

// LexicalSearcher runs field-boosted full-text queries.
type LexicalSearcher interface {
	Search(
		ctx context.Context, text string, boosts map[string]float64,
		filters filter.Expression, limit int,
	) ([]result.Candidate, error)
}

// VectorSearcher runs nearest-neighbour queries over embedded text or seeded
// with the stored embedding of an indexed document.
type VectorSearcher interface {
	Search(ctx context.Context, text string, filters filter.Expression, limit int) ([]result.Candidate, error)
	SearchSimilar(ctx context.Context, id string, filters filter.Expression, limit int) ([]result.Candidate, error)
}

// Fuser merges both candidate lists into a single ranking.
type Fuser interface {
	Fuse(lexical, vector []result.Candidate, limit int) []result.Hit
}

// Cache stores fused results by query fingerprint.
type Cache interface {
	Get(ctx context.Context, fingerprint string) ([]result.Hit, bool, error)
	Set(ctx context.Context, fingerprint string, hits []result.Hit, ttl time.Duration, startedAt time.Time) (bool, error)
}
