// Package ingest is the batch ingestion pipeline: it embeds documents, writes
// them to both indexes, invalidates cached queries and tracks each batch as a
// persisted job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/metrics"
)

// Defaults.
const (
	DefaultBatchSize    = 100
	DefaultWorkers      = 4
	DefaultMaxDocuments = 10000
)

// storeTimeout bounds job record and cache writes made outside a request.
const storeTimeout = 10 * time.Second

// Config tunes the pipeline.
type Config struct {
	// BatchSize is the number of documents embedded per provider call.
	BatchSize int
	// Workers is the size of the shared worker pool.
	Workers int
	// MaxDocuments caps a single job.
	MaxDocuments int
}

// Service is the BatchIngestionPipeline.
type Service struct {
	lexical  LexicalWriter
	vector   VectorWriter
	embedder Embedder
	cache    CacheInvalidator
	jobs     JobStore
	cfg      Config
	pool     *ants.Pool
	locks    *keyedMutex
	logger   *zap.Logger
	now      func() time.Time

	// ctx is the pipeline lifetime; jobs run under it, never under a request.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*runState
	closed bool
	wg     sync.WaitGroup
}

type runState struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// New creates the pipeline and its worker pool. cache may be nil.
func New(
	lexical LexicalWriter, vector VectorWriter, embedder Embedder,
	cache CacheInvalidator, jobs JobStore, cfg Config, logger *zap.Logger,
) (*Service, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = DefaultMaxDocuments
	}
	log := logger.Named("ingest")

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		log.Error("Ingestion worker panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		cache:    cache,
		jobs:     jobs,
		cfg:      cfg,
		pool:     pool,
		locks:    newKeyedMutex(),
		logger:   log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*runState),
	}, nil
}

// Submit validates and persists a job, then processes it in the background.
// The returned job is a snapshot in pending state.
func (s *Service) Submit(ctx context.Context, docs []document.Document, source job.Source) (*job.Job, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", domain.ErrInvalidDocument)
	}
	if len(docs) > s.cfg.MaxDocuments {
		return nil, fmt.Errorf("%w: %d documents (max %d)", domain.ErrBatchTooLarge, len(docs), s.cfg.MaxDocuments)
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("%w: unknown job source %q", domain.ErrInvalidDocument, source)
	}
	if s.isClosed() {
		return nil, errPipelineClosed
	}

	j, err := job.New(docs, source, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err)
	}
	if err := s.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	snapshot := j.Clone()

	if err := s.start(j, j.PendingIndexes()); err != nil {
		return nil, err
	}
	s.logger.Info("Ingestion job submitted",
		zap.String("job_id", j.ID), zap.String("source", string(source)), zap.Int("documents", len(docs)))
	return snapshot, nil
}

var errPipelineClosed = errors.New("ingestion pipeline closed")

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// start launches the processing goroutine for j. It owns j from here on.
func (s *Service) start(j *job.Job, indexes []int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errPipelineClosed
	}
	ctx, cancel := context.WithCancel(s.ctx)
	rs := &runState{cancel: cancel, done: make(chan struct{})}
	s.active[j.ID] = rs
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(rs.done)
		defer func() {
			s.mu.Lock()
			delete(s.active, j.ID)
			s.mu.Unlock()
		}()
		defer cancel()
		s.process(ctx, j, indexes, rs)
	}()
	return nil
}

func (s *Service) process(ctx context.Context, j *job.Job, indexes []int, rs *runState) {
	log := s.logger.With(zap.String("job_id", j.ID), zap.Int("attempt", j.Attempts+1))

	started := s.now().UTC()
	j.Status = job.StatusRunning
	j.Attempts++
	j.StartedAt = &started
	j.FinishedAt = nil
	j.Error = ""
	s.save(j, log)
	log.Info("Ingestion job running", zap.Int("documents", len(indexes)))

	for from := 0; from < len(indexes); from += s.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		chunk := indexes[from:min(from+s.cfg.BatchSize, len(indexes))]
		s.processChunk(ctx, j, chunk, log)
		s.save(j, log)
	}

	if ctx.Err() != nil {
		s.abort(j, rs.cancelled.Load())
	}
	j.Status = j.Resolve()
	finished := s.now().UTC()
	j.FinishedAt = &finished
	if err := JobError(j); err != nil {
		j.Error = err.Error()
	}
	s.save(j, log)
	metrics.IngestJobsTotal.WithLabelValues(string(j.Status)).Inc()

	sum := j.Summary()
	log.Info("Ingestion job finished",
		zap.String("status", string(j.Status)),
		zap.Int("completed", sum.Completed),
		zap.Int("partial_failure", sum.PartialFailure),
		zap.Int("failed", sum.Failed),
		zap.Int("cancelled", sum.Cancelled),
		zap.Duration("took", finished.Sub(started)))
}

// processChunk embeds the chunk in one call and indexes its documents on the
// pool. Documents sharing an id run in one task, in input order.
func (s *Service) processChunk(ctx context.Context, j *job.Job, chunk []int, log *zap.Logger) {
	texts := make([]string, len(chunk))
	for k, i := range chunk {
		texts[k] = j.Documents[i].EmbeddingText()
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("Batch embedding failed, embedding documents one by one", zap.Error(err))
		vecs = nil
	}

	groups := make(map[string][]int, len(chunk))
	order := make([]string, 0, len(chunk))
	for k, i := range chunk {
		id := j.Documents[i].ID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], k)
	}

	var wg sync.WaitGroup
	for _, id := range order {
		positions := groups[id]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			unlock := s.locks.Lock(id)
			defer unlock()
			for _, k := range positions {
				if ctx.Err() != nil {
					return
				}
				i := chunk[k]
				var vec []float32
				if vecs != nil {
					vec = vecs[k].Embedding
				}
				o := s.indexDocument(ctx, j.Documents[i], i, vec, log)
				j.Outcomes[i] = o
				if o.Status != job.StatusPending {
					metrics.IngestDocumentsTotal.WithLabelValues(string(o.Status), string(o.Kind)).Inc()
				}
			}
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			log.Error("Worker pool rejected task", zap.String("doc_id", id), zap.Error(err))
		}
	}
	wg.Wait()
}

// indexDocument embeds (when vec is nil) and writes one document. The outcome
// stays pending when ctx was cancelled before anything was written.
func (s *Service) indexDocument(
	ctx context.Context, doc document.Document, index int, vec []float32, log *zap.Logger,
) job.Outcome {
	o := job.Outcome{Index: index, ID: doc.ID(), Status: job.StatusPending}

	if vec == nil {
		res, err := s.embedder.Embed(ctx, doc.EmbeddingText())
		if err != nil {
			if ctx.Err() != nil {
				return o
			}
			return failOutcome(o, job.StatusFailed, embedKind(err), err)
		}
		vec = res.Embedding
	}

	lexErr := s.lexical.Put(ctx, doc)
	vecErr := s.vector.Put(ctx, doc, vec)
	if lexErr != nil && vecErr != nil && ctx.Err() != nil {
		return o
	}
	if lexErr == nil || vecErr == nil {
		s.invalidate(ctx, doc.ID(), log)
	}

	switch {
	case lexErr == nil && vecErr == nil:
		o.Status = job.StatusCompleted
		return o
	case lexErr != nil && vecErr != nil:
		return failOutcome(o, job.StatusFailed, lexicalKind(lexErr), errors.Join(lexErr, vecErr))
	case lexErr != nil:
		return failOutcome(o, job.StatusPartialFailure, lexicalKind(lexErr), lexErr)
	default:
		return failOutcome(o, job.StatusPartialFailure, vectorKind(vecErr), vecErr)
	}
}

// invalidate drops cached queries referencing id. It runs even when the job
// was cancelled after the write landed.
func (s *Service) invalidate(ctx context.Context, id string, log *zap.Logger) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if _, err := s.cache.InvalidateDocument(ctx, id); err != nil {
		log.Warn("Cache invalidation failed, entries expire with their TTL",
			zap.String("doc_id", id), zap.Error(err))
	}
}

// abort settles documents left pending by a cancelled context. A user
// cancellation cancels the job; a shutdown fails the documents so the job
// can be retried.
func (s *Service) abort(j *job.Job, userCancelled bool) {
	for i, o := range j.Outcomes {
		if o.Status != job.StatusPending {
			continue
		}
		if userCancelled {
			j.Outcomes[i] = failOutcome(o, job.StatusCancelled, job.KindCancelled, errors.New("job cancelled"))
		} else {
			j.Outcomes[i] = failOutcome(o, job.StatusFailed, job.KindCancelled, errors.New("interrupted by shutdown"))
		}
		metrics.IngestDocumentsTotal.WithLabelValues(string(j.Outcomes[i].Status), string(job.KindCancelled)).Inc()
	}
	if userCancelled {
		j.Status = job.StatusCancelled
	}
}

func (s *Service) save(j *job.Job, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(s.ctxForStore(), storeTimeout)
	defer cancel()
	if err := s.jobs.Save(ctx, j); err != nil {
		log.Error("Failed to persist job", zap.Error(err))
	}
}

// ctxForStore outlives the pipeline context so final records land during shutdown.
func (s *Service) ctxForStore() context.Context {
	return context.WithoutCancel(s.ctx)
}

// DeleteDocument removes a document from both indexes and drops its cached
// queries. Deleting an absent document is not an error.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := document.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	lexErr := s.lexical.Delete(ctx, id)
	vecErr := s.vector.Delete(ctx, id)
	s.invalidate(ctx, id, s.logger)
	if err := errors.Join(lexErr, vecErr); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Close stops accepting jobs and waits for running ones. When ctx expires
// first the remaining jobs are interrupted.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("drain ingestion jobs: %w", ctx.Err())
		s.cancel()
		<-done
	}
	s.cancel()
	s.pool.Release()
	return err
}

// JobError summarizes a finished job that did not fully succeed. It wraps
// domain.ErrIngestionPartialFailure and returns nil for completed jobs.
func JobError(j *job.Job) error {
	if j.Status == job.StatusCompleted {
		return nil
	}
	sum := j.Summary()
	return fmt.Errorf("%w: %d of %d documents not indexed",
		domain.ErrIngestionPartialFailure, sum.Total-sum.Completed, sum.Total)
}

func failOutcome(o job.Outcome, status job.Status, kind job.ErrorKind, err error) job.Outcome {
	o.Status = status
	o.Kind = kind
	o.Message = err.Error()
	return o
}

func embedKind(err error) job.ErrorKind {
	switch {
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return job.KindDimensionMismatch
	case errors.Is(err, domain.ErrInvalidQuery):
		return job.KindInvalidDocument
	}
	return job.KindEmbeddingFailure
}

func lexicalKind(err error) job.ErrorKind {
	if errors.Is(err, domain.ErrInvalidDocument) {
		return job.KindInvalidDocument
	}
	return job.KindLexicalWriteFailure
}

func vectorKind(err error) job.ErrorKind {
	switch {
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return job.KindDimensionMismatch
	case errors.Is(err, domain.ErrInvalidDocument):
		return job.KindInvalidDocument
	}
	return job.KindVectorWriteFailure
}
