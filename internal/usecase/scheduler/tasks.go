package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/usecase/ingest"
)

// Built-in job names.
const (
	JobSpoolIngest      = "spool-ingest"
	JobCleanup          = "job-cleanup"
	JobIndexMaintenance = "index-maintenance"
)

// Spool subdirectories for processed files.
const (
	spoolDone   = "done"
	spoolFailed = "failed"
)

// Submitter starts and awaits ingestion jobs.
type Submitter interface {
	Submit(ctx context.Context, docs []document.Document, source job.Source) (*job.Job, error)
	Wait(ctx context.Context, id string) (*job.Job, error)
}

// Cleaner removes old job records.
type Cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// IndexEnsurer creates a backing index when it is missing.
type IndexEnsurer interface {
	EnsureIndex(ctx context.Context) error
}

// SpoolIngest returns a task that ingests every JSON, JSON Lines and Parquet file in dir,
// one job per file, and moves each file to done/ or failed/ afterwards.
func SpoolIngest(dir string, submitter Submitter, logger *zap.Logger) Task {
	log := logger.Named("spool")
	return func(ctx context.Context) error {
		files, err := spoolFiles(dir)
		if err != nil {
			return err
		}
		var errs []error
		for _, path := range files {
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
			err := ingestFile(ctx, path, submitter)
			if ctx.Err() != nil {
				// Leave the file in place for the next run.
				return errors.Join(append(errs, ctx.Err())...)
			}
			dest := spoolDone
			if err != nil {
				dest = spoolFailed
				errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
				log.Warn("Spool file not fully ingested", zap.String("file", path), zap.Error(err))
			} else {
				log.Info("Spool file ingested", zap.String("file", path))
			}
			if mvErr := moveTo(path, filepath.Join(dir, dest)); mvErr != nil {
				errs = append(errs, mvErr)
			}
		}
		return errors.Join(errs...)
	}
}

func spoolFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ingest.Supported(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func ingestFile(ctx context.Context, path string, submitter Submitter) error {
	records, err := ingest.ReadFile(path)
	if err != nil {
		return err
	}
	docs, err := ingest.Documents(records)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	submitted, err := submitter.Submit(ctx, docs, job.SourceScheduler)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	j, err := submitter.Wait(ctx, submitted.ID)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", submitted.ID, err)
	}
	return ingest.JobError(j)
}

func moveTo(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("move %s: %w", filepath.Base(path), err)
	}
	return nil
}

// JobCleanupTask returns a task that removes finished jobs older than retention.
func JobCleanupTask(c Cleaner, retention time.Duration) Task {
	return func(ctx context.Context) error {
		_, err := c.Cleanup(ctx, retention)
		return err
	}
}

// IndexMaintenance returns a task that ensures every index exists.
func IndexMaintenance(indexes ...IndexEnsurer) Task {
	return func(ctx context.Context) error {
		var errs []error
		for _, idx := range indexes {
			if err := idx.EnsureIndex(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
