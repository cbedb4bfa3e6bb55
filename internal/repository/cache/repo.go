// Package cache stores fused search results keyed by query fingerprint, with a
// reverse index from document id to the cached queries that contain it.
//
// Every document invalidation also advances an index epoch. An entry computed
// before the current epoch is a miss, so a document that starts matching a
// cached query (or moves into its top hits) is never hidden by that entry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
)

// deleteChunk bounds the number of keys removed by one DEL.
const deleteChunk = 500

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Repo is the CacheStore.
type Repo struct {
	store  store
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) { r.now = now }
}

// New creates a result cache. keyPrefix namespaces every key; ttl is the
// default entry lifetime and the lifetime of invalidation tombstones.
func New(s store, keyPrefix string, ttl time.Duration, logger *zap.Logger, opts ...Option) *Repo {
	r := &Repo{
		store:  s,
		prefix: keyPrefix + "cache:",
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("cache"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// TTL returns the default entry lifetime.
func (r *Repo) TTL() time.Duration { return r.ttl }

// Get returns the cached hits for fingerprint. A missing, expired,
// mismatched or pre-epoch entry is a miss (ok=false, err=nil).
func (r *Repo) Get(ctx context.Context, fingerprint string) ([]result.Hit, bool, error) {
	vals, err := r.store.MGet(ctx, []string{r.queryKey(fingerprint), r.epochKey()})
	if err != nil {
		return nil, false, fmt.Errorf("get cached query: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, false, nil
	}
	data := vals[0]

	var e entryDTO
	if err := json.Unmarshal(data, &e); err != nil {
		r.logger.Warn("Dropping unreadable cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false, nil
	}
	if e.Fingerprint != fingerprint {
		return nil, false, nil
	}
	if ttl := time.Duration(e.TTLMs) * time.Millisecond; ttl > 0 && r.now().After(e.CreatedAt.Add(ttl)) {
		return nil, false, nil
	}
	if epoch, ok := parseStamp(vals[1]); ok && !epoch.Before(e.StartedAt) {
		return nil, false, nil
	}
	return fromDTO(e.Hits), true, nil
}

// Set stores hits under fingerprint and records the key in the reverse index
// of every contributing document. The write is skipped (stored=false) when
// any document was invalidated at or after startedAt. Failures wrap
// domain.ErrCacheWriteFailure.
func (r *Repo) Set(
	ctx context.Context, fingerprint string, hits []result.Hit, ttl time.Duration, startedAt time.Time,
) (bool, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	ids := result.IDs(hits)

	stale, err := r.invalidatedSince(ctx, ids, startedAt)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrCacheWriteFailure, err)
	}
	if stale {
		return false, nil
	}

	data, err := json.Marshal(entryDTO{
		Fingerprint: fingerprint,
		StartedAt:   startedAt.UTC(),
		CreatedAt:   r.now().UTC(),
		TTLMs:       ttl.Milliseconds(),
		Hits:        toDTO(hits),
	})
	if err != nil {
		return false, fmt.Errorf("%w: marshal entry: %w", domain.ErrCacheWriteFailure, err)
	}

	key := r.queryKey(fingerprint)
	// Reverse index first: an entry is never visible without a path to invalidate it.
	for _, id := range ids {
		if err := r.store.SAdd(ctx, r.docKey(id), ttl, key); err != nil {
			return false, fmt.Errorf("%w: index %s: %w", domain.ErrCacheWriteFailure, id, err)
		}
	}
	if err := r.store.Set(ctx, key, data, ttl); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrCacheWriteFailure, err)
	}
	return true, nil
}

// InvalidateDocument drops every cached query that contains id, leaves a
// tombstone so that in-flight queries cannot write stale results back, and
// advances the index epoch so that no entry computed earlier is served.
// The returned count covers the queries that contained id.
func (r *Repo) InvalidateDocument(ctx context.Context, id string) (int, error) {
	stamp := []byte(strconv.FormatInt(r.now().UnixNano(), 10))
	if err := r.store.Set(ctx, r.tombKey(id), stamp, r.ttl); err != nil {
		return 0, fmt.Errorf("write tombstone %s: %w", id, err)
	}
	if err := r.store.Set(ctx, r.epochKey(), stamp, 0); err != nil {
		return 0, fmt.Errorf("advance epoch: %w", err)
	}

	docKey := r.docKey(id)
	keys, err := r.store.SMembers(ctx, docKey)
	if err != nil {
		return 0, fmt.Errorf("read reverse index %s: %w", id, err)
	}
	if err := r.deleteKeys(ctx, append(keys, docKey)); err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", id, err)
	}
	return len(keys), nil
}

// InvalidatePrefix deletes every cached result, reverse index and tombstone.
func (r *Repo) InvalidatePrefix(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan cache keys: %w", err)
	}
	if err := r.deleteKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}
	return len(keys), nil
}

// invalidatedSince reports whether the epoch or the tombstone of any id is
// not older than t.
func (r *Repo) invalidatedSince(ctx context.Context, ids []string, t time.Time) (bool, error) {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, r.epochKey())
	for _, id := range ids {
		keys = append(keys, r.tombKey(id))
	}
	vals, err := r.store.MGet(ctx, keys)
	if err != nil {
		return false, fmt.Errorf("read tombstones: %w", err)
	}
	for _, v := range vals {
		if v == nil {
			continue
		}
		stamp, ok := parseStamp(v)
		if !ok {
			// Unreadable marker: treat as fresh.
			return true, nil
		}
		if !stamp.Before(t) {
			return true, nil
		}
	}
	return false, nil
}

// parseStamp decodes a tombstone or epoch value. ok is false for nil or
// unreadable input.
func parseStamp(v []byte) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func (r *Repo) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteChunk {
		end := min(start+deleteChunk, len(keys))
		if err := r.store.Del(ctx, keys[start:end]...); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) queryKey(fingerprint string) string { return r.prefix + "q:" + fingerprint }

func (r *Repo) docKey(id string) string { return r.prefix + "doc:" + id }

func (r *Repo) tombKey(id string) string { return r.prefix + "tomb:" + id }

func (r *Repo) epochKey() string { return r.prefix + "epoch" }
