// Package milvus stores document embeddings in a Milvus collection.
package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/db"
)

// Field names of the collection schema.
const (
	FieldID       = "id"
	FieldTitle    = "title"
	FieldSource   = "source"
	FieldMetadata = "metadata"
	FieldVector   = "vector"
)

// Config holds Milvus connection and collection settings.
type Config struct {
	Address         string
	Username        string
	Password        string
	Collection      string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
}

// Store is a vector index backed by a Milvus collection.
type Store struct {
	client *milvusclient.Client
	cfg    Config
	logger *zap.Logger
}

// NewStore connects to Milvus.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("milvus address is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("milvus dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	return &Store{client: c, cfg: cfg, logger: logger.Named("milvus")}, nil
}

// Ping checks connectivity with a cheap metadata call.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.cfg.Collection)); err != nil {
		return fmt.Errorf("milvus ping: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (s *Store) Close() {
	if err := s.client.Close(context.Background()); err != nil {
		s.logger.Warn("Failed to close milvus client", zap.Error(err))
	}
}

// Ensure creates the collection with its HNSW index when missing and loads it for search.
func (s *Store) Ensure(ctx context.Context) error {
	coll := s.cfg.Collection

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return &db.Error{Op: "HAS_COLLECTION", Err: err}
	}

	if !exists {
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(coll, s.schema())); err != nil {
			return &db.Error{Op: "CREATE_COLLECTION", Err: err}
		}

		idx := index.NewHNSWIndex(entity.COSINE, s.cfg.HNSWM, s.cfg.HNSWEFConstruct)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(coll, FieldVector, idx))
		if err != nil {
			return &db.Error{Op: "CREATE_INDEX", Err: err}
		}
		if err := task.Await(ctx); err != nil {
			return &db.Error{Op: "CREATE_INDEX", Err: err}
		}
		s.logger.Info("Created collection", zap.String("collection", coll), zap.Int("dim", s.cfg.Dimensions))
	}

	load, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(coll))
	if err != nil {
		return &db.Error{Op: "LOAD_COLLECTION", Err: err}
	}
	if err := load.Await(ctx); err != nil {
		return &db.Error{Op: "LOAD_COLLECTION", Err: err}
	}
	return nil
}

func (s *Store) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: s.cfg.Collection,
		Description:    "dsearch document embeddings",
		Fields: []*entity.Field{
			{
				Name:       FieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       FieldTitle,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:       FieldSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:     FieldMetadata,
				DataType: entity.FieldTypeJSON,
			},
			{
				Name:       FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.cfg.Dimensions)},
			},
		},
	}
}

// Put upserts records; an existing id is replaced.
func (s *Store) Put(ctx context.Context, recs []db.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ids := make([]string, len(recs))
	titles := make([]string, len(recs))
	sources := make([]string, len(recs))
	metas := make([][]byte, len(recs))
	vecs := make([][]float32, len(recs))
	for i, r := range recs {
		if len(r.Vector) != s.cfg.Dimensions {
			return fmt.Errorf("record %s: vector has %d dimensions, collection has %d", r.ID, len(r.Vector), s.cfg.Dimensions)
		}
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("record %s: marshal metadata: %w", r.ID, err)
		}
		ids[i], titles[i], sources[i], metas[i], vecs[i] = r.ID, r.Title, r.Source, data, r.Vector
	}

	opt := milvusclient.NewColumnBasedInsertOption(s.cfg.Collection).
		WithVarcharColumn(FieldID, ids).
		WithVarcharColumn(FieldTitle, titles).
		WithVarcharColumn(FieldSource, sources).
		WithFloatVectorColumn(FieldVector, s.cfg.Dimensions, vecs).
		WithColumns(column.NewColumnJSONBytes(FieldMetadata, metas))

	if _, err := s.client.Upsert(ctx, opt); err != nil {
		return &db.Error{Op: db.OpUpsert, Err: err}
	}
	return nil
}

// Delete removes records by id. Absent ids are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.cfg.Collection).WithStringIDs(FieldID, ids)); err != nil {
		return &db.Error{Op: db.OpDelete, Err: err}
	}
	return nil
}

// Search runs an ANN query. Scores are COSINE similarities clamped to [0,1].
func (s *Store) Search(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if len(q.Vector) == 0 {
		return nil, errors.New("vector is required")
	}
	if q.K <= 0 {
		return nil, errors.New("k must be positive")
	}

	opt := milvusclient.NewSearchOption(s.cfg.Collection, q.K, []entity.Vector{entity.FloatVector(q.Vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldTitle, FieldSource)
	if expr := buildExpr(q.Filters); expr != "" {
		opt = opt.WithFilter(expr)
	}

	sets, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(sets) == 0 {
		return &db.SearchResult{}, nil
	}

	rs := sets[0]
	titles := rs.GetColumn(FieldTitle)
	sources := rs.GetColumn(FieldSource)

	entries := make([]db.SearchEntry, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: id, Fields: map[string]string{}}
		if i < len(rs.Scores) {
			entry.Score = clamp01(float64(rs.Scores[i]))
		}
		if titles != nil {
			if v, err := titles.GetAsString(i); err == nil {
				entry.Fields[FieldTitle] = v
			}
		}
		if sources != nil {
			if v, err := sources.GetAsString(i); err == nil {
				entry.Fields[FieldSource] = v
			}
		}
		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.cfg.Collection).WithOutputFields("count(*)"))
	if err != nil {
		return 0, &db.Error{Op: "COUNT", Err: err}
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(n), nil
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

// Vector reads the stored embedding of id. A missing id yields db.ErrKeyNotFound.
func (s *Store) Vector(ctx context.Context, id string) ([]float32, error) {
	opt := milvusclient.NewQueryOption(s.cfg.Collection).
		WithFilter(FieldID + " == " + strconv.Quote(id)).
		WithOutputFields(FieldVector)
	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	col := rs.GetColumn(FieldVector)
	if col == nil || col.Len() == 0 {
		return nil, db.ErrKeyNotFound
	}
	v, err := col.Get(0)
	if err != nil {
		return nil, fmt.Errorf("read vector %s: %w", id, err)
	}
	switch vec := v.(type) {
	case entity.FloatVector:
		return []float32(vec), nil
	case []float32:
		return vec, nil
	}
	return nil, fmt.Errorf("read vector %s: unexpected column value %T", id, v)
}
