package domain

import "errors"

// Query path.
var (
	// ErrInvalidQuery signals malformed search input. Never retried.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrBackendUnavailable signals a transient backend failure that survived adapter retries.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrSearchUnavailable signals that no consulted backend produced results.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrEmbeddingFailure signals a model inference failure.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrCacheWriteFailure signals a failed cache write. Logged, never returned to callers.
	ErrCacheWriteFailure = errors.New("cache write failure")
)

// Ingestion path.
var (
	// ErrIngestionPartialFailure signals that some documents of a job were not fully indexed.
	ErrIngestionPartialFailure = errors.New("ingestion partial failure")
	// ErrInvalidDocument signals a document that fails validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrBatchTooLarge signals a batch above the configured limit.
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrJobConflict signals an operation that is not allowed in the job's current status.
	ErrJobConflict = errors.New("job status conflict")
	// ErrJobRunning signals that a scheduled job is already running.
	ErrJobRunning = errors.New("job already running")
)

// Shared.
var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited signals a rate limit hit at a provider.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrAugmentationDisabled signals that generative augmentation is not configured.
	ErrAugmentationDisabled = errors.New("augmentation disabled")
	// ErrAugmentationFailed signals a language model failure.
	ErrAugmentationFailed = errors.New("augmentation failed")
)
