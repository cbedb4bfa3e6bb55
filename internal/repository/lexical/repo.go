// Package lexical is the full-text search adapter: documents live in Redis
// hashes indexed by the Query Engine and are ranked with BM25.
package lexical

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/repository/backoff"
)

// store is the consumer interface for the lexical index (ISP).
type store interface {
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Config configures the lexical adapter.
type Config struct {
	Index     string
	KeyPrefix string
	// DefaultBoosts maps title/body/source to their weight. Zero excludes the
	// field from scoring while keeping it indexed.
	DefaultBoosts map[string]float64
	FilterFields  filter.Schema
	Retry         backoff.Policy
}

// Repo is the LexicalSearchAdapter.
type Repo struct {
	store store
	cfg   Config
}

// New creates a lexical repository.
func New(s store, cfg Config) *Repo {
	if cfg.DefaultBoosts == nil {
		cfg.DefaultBoosts = map[string]float64{
			document.FieldTitle:  2,
			document.FieldBody:   1,
			document.FieldSource: 0,
		}
	}
	return &Repo{store: s, cfg: cfg}
}

// Name identifies the backend in health reports and metrics.
func (r *Repo) Name() string { return result.BackendLexical }

// EnsureIndex creates the FT index when it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.cfg.Index)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.cfg.Index, err)
	}
	if exists {
		return nil
	}

	b := db.NewIndex(r.cfg.Index).OnHash().Prefix(r.docPrefix())
	for _, f := range document.TextFields {
		b = b.TextWeighted(f, r.cfg.DefaultBoosts[f])
	}
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

// RebuildIndex drops and recreates the FT index so that changed boosts or
// filter fields take effect. Document hashes are kept and indexed again by
// the server in the background.
func (r *Repo) RebuildIndex(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, r.cfg.Index); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index %s: %w", r.cfg.Index, err)
	}
	return r.EnsureIndex(ctx)
}

// Put writes the document hash, replacing any previous version with the same id.
func (r *Repo) Put(ctx context.Context, doc document.Document) error {
	fields, err := buildHashFields(&doc, r.cfg.FilterFields)
	if err != nil {
		return fmt.Errorf("%w: metadata: %w", domain.ErrInvalidDocument, err)
	}
	key := r.docKey(doc.ID())
	err = backoff.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.store.HReplace(ctx, key, fields)
	})
	if err != nil {
		return classify(fmt.Errorf("hset %s: %w", key, err))
	}
	return nil
}

// Get reads a document back from its hash.
func (r *Repo) Get(ctx context.Context, id string) (document.Document, error) {
	key := r.docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return document.Document{}, classify(fmt.Errorf("hgetall %s: %w", key, err))
	}
	if len(m) == 0 {
		return document.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	doc, err := parseHashFields(id, m)
	if err != nil {
		return document.Document{}, fmt.Errorf("parse document %s: %w", id, err)
	}
	return doc, nil
}

// GetMany reads several documents in one round-trip. Missing ids are absent
// from the result.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]document.Document, error) {
	if len(ids) == 0 {
		return map[string]document.Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}
	rows, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, classify(fmt.Errorf("hgetall %d documents: %w", len(keys), err))
	}
	out := make(map[string]document.Document, len(ids))
	for i, m := range rows {
		if i >= len(ids) || len(m) == 0 {
			continue
		}
		doc, err := parseHashFields(ids[i], m)
		if err != nil {
			return nil, fmt.Errorf("parse document %s: %w", ids[i], err)
		}
		out[ids[i]] = doc
	}
	return out, nil
}

// Exists reports whether a document with id is indexed.
func (r *Repo) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, r.docKey(id))
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.docKey(id)
	err := backoff.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.store.Del(ctx, key)
	})
	if err != nil {
		return classify(fmt.Errorf("del %s: %w", key, err))
	}
	return nil
}

// Count returns the number of indexed documents.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.cfg.Index, "*")
	if err != nil {
		return 0, classify(fmt.Errorf("count %s: %w", r.cfg.Index, err))
	}
	return n, nil
}

// Search runs a field-boosted BM25 query. boosts override the defaults per field.
// Candidates come back in engine order (best first) with raw BM25 scores.
func (r *Repo) Search(
	ctx context.Context, text string, boosts map[string]float64, filters filter.Expression, limit int,
) ([]result.Candidate, error) {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty query text", domain.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidQuery)
	}
	if err := r.cfg.FilterFields.Check(filters); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}

	fields := make([]db.WeightedField, 0, len(document.TextFields))
	for _, f := range document.TextFields {
		w := r.cfg.DefaultBoosts[f]
		if b, ok := boosts[f]; ok {
			w = b
		}
		if w > 0 {
			fields = append(fields, db.WeightedField{Name: f, Weight: w})
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: every text field has a zero boost", domain.ErrInvalidQuery)
	}

	q := &db.TextQuery{
		IndexName:    r.cfg.Index,
		Terms:        terms,
		Fields:       fields,
		Filters:      filters,
		TopK:         limit,
		ReturnFields: []string{document.FieldTitle, document.FieldSource},
	}

	sr, err := backoff.DoValue(ctx, r.cfg.Retry, func(ctx context.Context) (*db.SearchResult, error) {
		return r.store.SearchBM25(ctx, q)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("bm25 %s: %w", r.cfg.Index, err))
	}

	prefix := r.docPrefix()
	out := make([]result.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, result.Candidate{
			ID:     strings.TrimPrefix(e.Key, prefix),
			Score:  e.Score,
			Title:  e.Fields[document.FieldTitle],
			Source: e.Fields[document.FieldSource],
		})
	}
	return out, nil
}

func (r *Repo) docPrefix() string { return r.cfg.KeyPrefix + "doc:" }

func (r *Repo) docKey(id string) string { return r.docPrefix() + id }

// classify maps storage errors onto the domain taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, db.ErrQuerySyntax):
		return fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInvalidDocument):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}
