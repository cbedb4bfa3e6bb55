package db

import "github.com/kailas-cloud/dsearch/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// WeightedField is a text field taking part in a BM25 query with its boost.
type WeightedField struct {
	Name   string
	Weight float64
}

// TextQuery is the input for BM25 text search. Terms are OR-ed within each field;
// fields are OR-ed with each other, each scaled by its weight.
type TextQuery struct {
	IndexName    string
	Terms        []string
	Fields       []WeightedField
	Filters      filter.Expression
	TopK         int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// VectorRecord is one stored embedding with its display fields and filterable metadata.
type VectorRecord struct {
	ID       string
	Title    string
	Source   string
	Vector   []float32
	Metadata map[string]any
}
