package vector

import (
	"context"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain"
)

// mockHashStore implements hashStore for tests.
type mockHashStore struct {
	hreplaceFn    func(ctx context.Context, key string, fields map[string]string) error
	delFn         func(ctx context.Context, keys ...string) error
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	hashes        map[string]map[string]string
}

func (m *mockHashStore) HReplace(ctx context.Context, key string, fields map[string]string) error {
	if m.hreplaceFn != nil {
		return m.hreplaceFn(ctx, key, fields)
	}
	return nil
}

func (m *mockHashStore) Del(ctx context.Context, keys ...string) error {
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return nil
}

func (m *mockHashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return m.hashes[key], nil
}

func (m *mockHashStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockHashStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockHashStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockHashStore) SearchCount(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

// mockIndex implements Index for tests.
type mockIndex struct {
	putFn    func(ctx context.Context, recs []db.VectorRecord) error
	deleteFn func(ctx context.Context, ids ...string) error
	searchFn func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	vectors  map[string][]float32
}

func (m *mockIndex) Ensure(context.Context) error { return nil }

func (m *mockIndex) Put(ctx context.Context, recs []db.VectorRecord) error {
	if m.putFn != nil {
		return m.putFn(ctx, recs)
	}
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, ids ...string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ids...)
	}
	return nil
}

func (m *mockIndex) Search(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockIndex) Vector(_ context.Context, id string) ([]float32, error) {
	v, ok := m.vectors[id]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockIndex) Count(context.Context) (int, error) { return 7, nil }

// mockEmbedder returns a fixed vector or error.
type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}
