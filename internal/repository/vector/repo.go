// Package vector is the semantic search adapter: it embeds the query and runs
// a nearest-neighbour lookup on a vector index (Redis HNSW or Milvus).
package vector

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/repository/backoff"
)

// Index is a vector index backend. Search returns document ids as entry keys
// and cosine similarities in [0,1] as scores.
type Index interface {
	Ensure(ctx context.Context) error
	Put(ctx context.Context, recs []db.VectorRecord) error
	Delete(ctx context.Context, ids ...string) error
	Search(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Vector(ctx context.Context, id string) ([]float32, error)
	Count(ctx context.Context) (int, error)
}

// Config configures the vector adapter.
type Config struct {
	Dimensions   int
	FilterFields filter.Schema
	Retry        backoff.Policy
}

// Repo is the VectorSearchAdapter.
type Repo struct {
	index    Index
	embedder domain.Embedder
	cfg      Config
}

// New creates a vector adapter. embedder produces query embeddings.
func New(index Index, embedder domain.Embedder, cfg Config) *Repo {
	return &Repo{index: index, embedder: embedder, cfg: cfg}
}

// Name identifies the backend in health reports and metrics.
func (r *Repo) Name() string { return result.BackendVector }

// EnsureIndex creates the backing index or collection when missing.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	return r.index.Ensure(ctx)
}

// Put stores the embedding of doc, replacing a previous version with the same id.
func (r *Repo) Put(ctx context.Context, doc document.Document, vec []float32) error {
	if err := domain.CheckDimension(vec, r.cfg.Dimensions); err != nil {
		return err
	}
	rec := db.VectorRecord{
		ID:       doc.ID(),
		Title:    doc.Title(),
		Source:   doc.Source(),
		Vector:   vec,
		Metadata: doc.Metadata(),
	}
	err := backoff.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.index.Put(ctx, []db.VectorRecord{rec})
	})
	if err != nil {
		return classify(fmt.Errorf("put vector %s: %w", doc.ID(), err))
	}
	return nil
}

// Delete removes the embedding of a document. Absent ids are ignored.
func (r *Repo) Delete(ctx context.Context, id string) error {
	err := backoff.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.index.Delete(ctx, id)
	})
	if err != nil {
		return classify(fmt.Errorf("delete vector %s: %w", id, err))
	}
	return nil
}

// Count returns the number of stored embeddings.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.index.Count(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("count vectors: %w", err))
	}
	return n, nil
}

// Search embeds text and returns up to limit nearest documents, best first.
func (r *Repo) Search(ctx context.Context, text string, filters filter.Expression, limit int) ([]result.Candidate, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty query text", domain.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidQuery)
	}
	if err := r.cfg.FilterFields.Check(filters); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}

	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	if err := domain.CheckDimension(emb.Embedding, r.cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}

	return r.knn(ctx, emb.Embedding, filters, limit)
}

// SearchSimilar runs a nearest-neighbour lookup seeded with the stored
// embedding of document id. The document itself is left out of the results.
// An id without an embedding yields domain.ErrNotFound.
func (r *Repo) SearchSimilar(ctx context.Context, id string, filters filter.Expression, limit int) ([]result.Candidate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidQuery)
	}
	if err := r.cfg.FilterFields.Check(filters); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}

	vec, err := backoff.DoValue(ctx, r.cfg.Retry, func(ctx context.Context) ([]float32, error) {
		return r.index.Vector(ctx, id)
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("read vector %s: %w", id, err))
	}

	// One extra neighbour covers the reference document.
	hits, err := r.knn(ctx, vec, filters, limit+1)
	if err != nil {
		return nil, err
	}
	hits = slices.DeleteFunc(hits, func(c result.Candidate) bool { return c.ID == id })
	return hits[:min(limit, len(hits))], nil
}

func (r *Repo) knn(ctx context.Context, vec []float32, filters filter.Expression, k int) ([]result.Candidate, error) {
	q := &db.KNNQuery{Filters: filters, Vector: vec, K: k}
	sr, err := backoff.DoValue(ctx, r.cfg.Retry, func(ctx context.Context) (*db.SearchResult, error) {
		return r.index.Search(ctx, q)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("knn: %w", err))
	}

	out := make([]result.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, result.Candidate{
			ID:     e.Key,
			Score:  e.Score,
			Title:  e.Fields[fieldTitle],
			Source: e.Fields[fieldSource],
		})
	}
	return out, nil
}

// classify maps storage errors onto the domain taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, db.ErrQuerySyntax):
		return fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrVectorDimMismatch), errors.Is(err, domain.ErrInvalidQuery):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}
