// Package jobs persists ingestion job records with a retention TTL.
package jobs

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
)

// store is the consumer interface for job records (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
}

// Repo is the JobStore.
type Repo struct {
	store  store
	prefix string
	ttl    time.Duration
}

// New creates a job repository. Records expire ttl after their last save.
func New(s store, keyPrefix string, ttl time.Duration) *Repo {
	return &Repo{store: s, prefix: keyPrefix, ttl: ttl}
}

// Save writes the job record and registers it in the job index.
// Completed jobs are compacted before they are written.
func (r *Repo) Save(ctx context.Context, j *job.Job) error {
	c := j.Clone()
	c.Compact()
	data, err := json.Marshal(toDTO(c))
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	if err := r.store.Set(ctx, r.jobKey(j.ID), data, r.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	if err := r.store.SAdd(ctx, r.indexKey(), r.ttl, j.ID); err != nil {
		return fmt.Errorf("index job %s: %w", j.ID, err)
	}
	return nil
}

// Get returns a job by id.
func (r *Repo) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := r.store.Get(ctx, r.jobKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var d jobDTO
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return fromDTO(&d), nil
}

// List returns jobs matching f, newest first.
func (r *Repo) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, j := range all {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Source != "" && j.Source != f.Source {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *job.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a job record. Deleting an absent job is not an error.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, r.jobKey(id)); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if err := r.store.SRem(ctx, r.indexKey(), id); err != nil {
		return fmt.Errorf("unindex job %s: %w", id, err)
	}
	return nil
}

// all loads every indexed job. Index members whose record expired are pruned.
func (r *Repo) all(ctx context.Context) ([]*job.Job, error) {
	ids, err := r.store.SMembers(ctx, r.indexKey())
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.jobKey(id)
	}
	vals, err := r.store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	var stale []string
	out := make([]*job.Job, 0, len(vals))
	for i, v := range vals {
		if v == nil {
			stale = append(stale, ids[i])
			continue
		}
		var d jobDTO
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		out = append(out, fromDTO(&d))
	}
	if len(stale) > 0 {
		// Best effort; a failure only leaves dangling ids for the next call.
		_ = r.store.SRem(ctx, r.indexKey(), stale...)
	}
	return out, nil
}

func (r *Repo) jobKey(id string) string { return r.prefix + "job:" + id }

func (r *Repo) indexKey() string { return r.prefix + "jobs" }
