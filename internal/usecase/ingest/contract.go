package ingest

import (
	"context"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
)

// LexicalWriter writes documents to the full-text index.
type LexicalWriter interface {
	Put(ctx context.Context, doc document.Document) error
	Delete(ctx context.Context, id string) error
}

// VectorWriter writes document embeddings to the vector index.
type VectorWriter interface {
	Put(ctx context.Context, doc document.Document, vec []float32) error
	Delete(ctx context.Context, id string) error
}

// Embedder vectorizes document text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbeddingResult, error)
}

// CacheInvalidator drops cached queries that reference a document.
type CacheInvalidator interface {
	InvalidateDocument(ctx context.Context, id string) (int, error)
}

// JobStore persists job records.
type JobStore interface {
	Save(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	Delete(ctx context.Context, id string) error
}
