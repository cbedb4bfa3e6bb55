package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
)

// --- Mocks ---

type mockLexical struct {
	mu      sync.Mutex
	putFn   func(ctx context.Context, doc document.Document) error
	puts    []document.Document
	deleted []string
}

func (m *mockLexical) Put(ctx context.Context, doc document.Document) error {
	if m.putFn != nil {
		if err := m.putFn(ctx, doc); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, doc)
	return nil
}

func (m *mockLexical) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockLexical) putIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.puts))
	for i := range m.puts {
		ids[i] = m.puts[i].ID()
	}
	return ids
}

type mockVector struct {
	mu      sync.Mutex
	putFn   func(doc document.Document) error
	puts    []string
	deleted []string
}

func (m *mockVector) Put(_ context.Context, doc document.Document, _ []float32) error {
	if m.putFn != nil {
		if err := m.putFn(doc); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, doc.ID())
	return nil
}

func (m *mockVector) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

type mockEmbedder struct {
	mu         sync.Mutex
	embedErr   func(text string) error
	batchErr   error
	batchCalls int
	embedCalls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()
	if m.embedErr != nil {
		if err := m.embedErr(text); err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0}}, nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([]domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.batchCalls++
	m.mu.Unlock()
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make([]domain.EmbeddingResult, len(texts))
	for i := range texts {
		out[i] = domain.EmbeddingResult{Embedding: []float32{1, 0}}
	}
	return out, nil
}

type mockCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (m *mockCache) InvalidateDocument(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
	return 1, nil
}

func (m *mockCache) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invalidated)
}

// memJobs keeps clones so that tests observe stored state only.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]*job.Job{}} }

func (m *memJobs) Save(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j.Clone(), nil
}

func (m *memJobs) List(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (m *memJobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// --- Helpers ---

type fixture struct {
	svc   *Service
	lex   *mockLexical
	vec   *mockVector
	emb   *mockEmbedder
	cache *mockCache
	jobs  *memJobs
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		lex:   &mockLexical{},
		vec:   &mockVector{},
		emb:   &mockEmbedder{},
		cache: &mockCache{},
		jobs:  newMemJobs(),
	}
	svc, err := New(f.lex, f.vec, f.emb, f.cache, f.jobs, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	f.svc = svc
	return f
}

func testDoc(t *testing.T, id, body string) document.Document {
	t.Helper()
	d, err := document.New(id, "Title "+id, body, "", nil)
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	return d
}

func testDocs(t *testing.T, ids ...string) []document.Document {
	t.Helper()
	docs := make([]document.Document, len(ids))
	for i, id := range ids {
		docs[i] = testDoc(t, id, "body of "+id)
	}
	return docs
}

func (f *fixture) submitAndWait(t *testing.T, docs []document.Document) *job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	submitted, err := f.svc.Submit(ctx, docs, job.SourceAPI)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	j, err := f.svc.Wait(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return j
}
