package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
)

// Stats aggregates stored jobs.
type Stats struct {
	Total    int                `json:"total"`
	Active   int                `json:"active"`
	ByStatus map[job.Status]int `json:"by_status"`
	// SuccessRate is the share of finished jobs that completed, 0 when none finished.
	SuccessRate float64 `json:"success_rate"`
}

// Get returns a job with its outcomes.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns jobs matching f, newest first.
func (s *Service) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrInvalidQuery, f.Status)
	}
	if f.Source != "" && !f.Source.IsValid() {
		return nil, fmt.Errorf("%w: unknown job source %q", domain.ErrInvalidQuery, f.Source)
	}
	return s.jobs.List(ctx, f)
}

// Wait blocks until the job is no longer processed by this pipeline or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*job.Job, error) {
	if rs, ok := s.running(id); ok {
		select {
		case <-rs.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.jobs.Get(ctx, id)
}

// Cancel stops a pending or running job. Documents not yet indexed become cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*job.Job, error) {
	if rs, ok := s.running(id); ok {
		rs.cancelled.Store(true)
		rs.cancel()
		select {
		case <-rs.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.jobs.Get(ctx, id)
	}

	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusPending && j.Status != job.StatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobConflict, id, j.Status)
	}
	// Nothing processes this record any more (left over from a previous process).
	s.abort(j, true)
	now := s.now().UTC()
	j.FinishedAt = &now
	if err := s.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job %s: %w", id, err)
	}
	return j, nil
}

// Retry reprocesses the documents of a failed or partially failed job that
// did not complete.
func (s *Service) Retry(ctx context.Context, id string) (*job.Job, error) {
	if _, ok := s.running(id); ok {
		return nil, fmt.Errorf("%w: job %s is running", domain.ErrJobConflict, id)
	}
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !j.Retryable() {
		return nil, fmt.Errorf("%w: job %s is %s after %d of %d attempts",
			domain.ErrJobConflict, id, j.Status, j.Attempts, job.MaxAttempts)
	}

	indexes := j.PendingIndexes()
	for _, i := range indexes {
		j.Outcomes[i] = job.Outcome{Index: i, ID: j.Outcomes[i].ID, Status: job.StatusPending}
	}
	j.Status = job.StatusPending
	j.Error = ""
	j.FinishedAt = nil
	if err := s.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job %s: %w", id, err)
	}
	snapshot := j.Clone()
	if err := s.start(j, indexes); err != nil {
		return nil, err
	}
	s.logger.Info("Ingestion job retried", zap.String("job_id", id), zap.Int("documents", len(indexes)))
	return snapshot, nil
}

// Delete removes a job record. Running jobs must be cancelled first.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, ok := s.running(id); ok {
		return fmt.Errorf("%w: job %s is running", domain.ErrJobConflict, id)
	}
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return err
	}
	return s.jobs.Delete(ctx, id)
}

// Stats counts stored jobs per status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.jobs.List(ctx, job.Filter{})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(all), ByStatus: make(map[job.Status]int)}
	finished := 0
	for _, j := range all {
		st.ByStatus[j.Status]++
		if j.Status.IsTerminal() {
			finished++
		}
	}
	if finished > 0 {
		st.SuccessRate = float64(st.ByStatus[job.StatusCompleted]) / float64(finished)
	}
	s.mu.Lock()
	st.Active = len(s.active)
	s.mu.Unlock()
	return st, nil
}

// Cleanup deletes finished jobs older than maxAge and returns how many were removed.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := s.jobs.List(ctx, job.Filter{})
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	var removed int
	var errs []error
	for _, j := range all {
		if !j.Status.IsTerminal() {
			continue
		}
		if _, ok := s.running(j.ID); ok {
			continue
		}
		at := j.CreatedAt
		if j.FinishedAt != nil {
			at = *j.FinishedAt
		}
		if at.After(cutoff) {
			continue
		}
		if err := s.jobs.Delete(ctx, j.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Old ingestion jobs removed", zap.Int("count", removed), zap.Duration("max_age", maxAge))
	}
	return removed, errors.Join(errs...)
}

// RecoverInterrupted settles pending or running records that no pipeline is
// processing, typically after a restart. Unfinished documents fail so that
// the job can be retried.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	all, err := s.jobs.List(ctx, job.Filter{})
	if err != nil {
		return 0, err
	}
	var recovered int
	for _, j := range all {
		if j.Status != job.StatusPending && j.Status != job.StatusRunning {
			continue
		}
		if _, ok := s.running(j.ID); ok {
			continue
		}
		s.abort(j, false)
		j.Status = j.Resolve()
		now := s.now().UTC()
		j.FinishedAt = &now
		if jerr := JobError(j); jerr != nil {
			j.Error = jerr.Error()
		}
		if err := s.jobs.Save(ctx, j); err != nil {
			return recovered, fmt.Errorf("save job %s: %w", j.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("Interrupted ingestion jobs marked for retry", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *Service) running(id string) (*runState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.active[id]
	return rs, ok
}
