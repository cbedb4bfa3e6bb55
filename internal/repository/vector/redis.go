package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
)

const (
	fieldVector   = "vector"
	fieldTitle    = "title"
	fieldSource   = "source"
	fieldMetadata = "metadata"
)

// hashStore is the consumer interface for the Redis vector index (ISP).
type hashStore interface {
	HReplace(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, keys ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// RedisConfig configures the HNSW index kept in Redis.
type RedisConfig struct {
	Index           string
	KeyPrefix       string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
	FilterFields    filter.Schema
}

// RedisIndex stores embeddings as hashes under <prefix>vec: with an HNSW FT index.
type RedisIndex struct {
	store hashStore
	cfg   RedisConfig
}

// NewRedisIndex creates a Redis-backed vector index.
func NewRedisIndex(s hashStore, cfg RedisConfig) *RedisIndex {
	return &RedisIndex{store: s, cfg: cfg}
}

// Ensure creates the FT index when missing.
func (r *RedisIndex) Ensure(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.cfg.Index)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.cfg.Index, err)
	}
	if exists {
		return nil
	}

	b := db.NewIndex(r.cfg.Index).OnHash().Prefix(r.prefix()).
		VectorHNSW(fieldVector, r.cfg.Dimensions, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEFConstruct)
	for _, name := range slices.Sorted(maps.Keys(r.cfg.FilterFields)) {
		if r.cfg.FilterFields[name] == filter.KindNumeric {
			b = b.Numeric(name)
		} else {
			b = b.Tag(name)
		}
	}
	def, err := b.Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.cfg.Index, err)
	}
	return nil
}

// Put writes one hash per record, replacing earlier versions.
func (r *RedisIndex) Put(ctx context.Context, recs []db.VectorRecord) error {
	for _, rec := range recs {
		fields, err := r.hashFields(rec)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if err := r.store.HReplace(ctx, r.key(rec.ID), fields); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes records by id.
func (r *RedisIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	return r.store.Del(ctx, keys...)
}

// Search runs a KNN query; entry keys are returned as document ids.
func (r *RedisIndex) Search(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	kq := *q
	kq.IndexName = r.cfg.Index
	kq.ReturnFields = []string{fieldTitle, fieldSource, "__vector_score"}

	sr, err := r.store.SearchKNN(ctx, &kq)
	if err != nil {
		return nil, err
	}
	prefix := r.prefix()
	for i := range sr.Entries {
		sr.Entries[i].Key = strings.TrimPrefix(sr.Entries[i].Key, prefix)
	}
	return sr, nil
}

// Vector reads the stored embedding of id. A missing id yields db.ErrKeyNotFound.
func (r *RedisIndex) Vector(ctx context.Context, id string) ([]float32, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		return nil, err
	}
	raw, ok := m[fieldVector]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return bytesToVector(raw)
}

// Count returns the number of stored vectors.
func (r *RedisIndex) Count(ctx context.Context) (int, error) {
	return r.store.SearchCount(ctx, r.cfg.Index, "*")
}

func (r *RedisIndex) hashFields(rec db.VectorRecord) (map[string]string, error) {
	m := map[string]string{
		fieldVector: vectorToBytes(rec.Vector),
		fieldTitle:  rec.Title,
		fieldSource: rec.Source,
	}
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		m[fieldMetadata] = string(data)
	}
	for name, kind := range r.cfg.FilterFields {
		switch v := rec.Metadata[name].(type) {
		case float64:
			m[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			if kind == filter.KindTag && v != "" {
				m[name] = v
			}
		case bool:
			if kind == filter.KindTag {
				m[name] = strconv.FormatBool(v)
			}
		}
	}
	return m, nil
}

func (r *RedisIndex) prefix() string { return r.cfg.KeyPrefix + "vec:" }

func (r *RedisIndex) key(id string) string { return r.prefix() + id }

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector is the inverse of vectorToBytes.
func bytesToVector(s string) ([]float32, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(s))
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v, nil
}
