package chi

import (
	"context"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	augmentuc "github.com/kailas-cloud/dsearch/internal/usecase/augment"
	healthuc "github.com/kailas-cloud/dsearch/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/dsearch/internal/usecase/ingest"
	scheduleruc "github.com/kailas-cloud/dsearch/internal/usecase/scheduler"
)

// Searcher runs routed queries and similar-document lookups.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
	Similar(ctx context.Context, req *request.SimilarRequest) (result.Response, error)
}

// Ingester submits documents and manages ingestion jobs.
type Ingester interface {
	Submit(ctx context.Context, docs []document.Document, source job.Source) (*job.Job, error)
	DeleteDocument(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) (*job.Job, error)
	Retry(ctx context.Context, id string) (*job.Job, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (ingestuc.Stats, error)
}

// DocumentReader reads indexed documents.
type DocumentReader interface {
	Get(ctx context.Context, id string) (document.Document, error)
}

// CacheAdmin drops cached search results.
type CacheAdmin interface {
	InvalidateDocument(ctx context.Context, id string) (int, error)
	InvalidatePrefix(ctx context.Context) (int, error)
}

// Scheduler exposes scheduled job state and manual triggers.
type Scheduler interface {
	Status() []scheduleruc.JobStatus
	Trigger(name string) error
}

// Augmenter answers prompts with a language model.
type Augmenter interface {
	Augment(ctx context.Context, req augmentuc.Request) (augmentuc.Response, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
