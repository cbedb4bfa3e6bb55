package result

import "time"

// Candidate is a raw backend hit before fusion.
type Candidate struct {
	ID     string
	Score  float64
	Title  string
	Source string
}

// Hit is a single fused search hit.
type Hit struct {
	id      string
	title   string
	source  string
	lexical *float64
	vector  *float64
	score   float64
}

// New creates a fused hit. lexical/vector are nil when the document was absent
// from that backend's result set.
func New(id, title, source string, lexical, vector *float64, score float64) Hit {
	return Hit{id: id, title: title, source: source, lexical: lexical, vector: vector, score: score}
}

// ID returns the document identifier.
func (h *Hit) ID() string { return h.id }

// Title returns the document title, when known.
func (h *Hit) Title() string { return h.title }

// Source returns the document source path, when known.
func (h *Hit) Source() string { return h.source }

// LexicalScore returns the raw lexical score, or nil.
func (h *Hit) LexicalScore() *float64 { return h.lexical }

// VectorScore returns the raw vector similarity, or nil.
func (h *Hit) VectorScore() *float64 { return h.vector }

// Score returns the fused score.
func (h *Hit) Score() float64 { return h.score }

// IDs returns the document ids of hits in order.
func IDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i := range hits {
		ids[i] = hits[i].id
	}
	return ids
}

// BackendStatus describes how a backend contributed to a response.
type BackendStatus string

// Backend status values.
const (
	BackendOK               BackendStatus = "ok"
	BackendUnavailable      BackendStatus = "unavailable"
	BackendTimeout          BackendStatus = "timeout"
	BackendEmbeddingFailure BackendStatus = "embedding_failure"
	BackendSkipped          BackendStatus = "skipped"
)

// Backend names.
const (
	BackendLexical = "lexical"
	BackendVector  = "vector"
)

// Response is the outcome of a routed query.
type Response struct {
	Hits []Hit
	// Degraded is set when only a subset of the consulted backends answered.
	Degraded bool
	Backends map[string]BackendStatus
	Cached   bool
	Took     time.Duration
}
