// Package fusion merges lexical and vector candidate lists into one ranking.
package fusion

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
)

// Method names.
const (
	MethodWeighted = "weighted"
	MethodRRF      = "rrf"
)

// Defaults.
const (
	DefaultWeight = 0.5
	// DefaultRRFK is the Reciprocal Rank Fusion constant (Cormack et al. 2009).
	DefaultRRFK = 60
)

// scoreScale fixes the precision of fused scores to 1e-9. Rounding makes
// float noise from different summation orders compare equal, keeps the tie
// relation transitive, and makes the returned scores exactly non-increasing.
const scoreScale = 1e9

// Config selects the fusion method and per-backend weights.
type Config struct {
	Method        string
	LexicalWeight float64
	VectorWeight  float64
	RRFK          int
}

// Ranker is the ResultFusionRanker. It is stateless and safe for concurrent use.
type Ranker struct {
	cfg Config
}

// New validates cfg and creates a Ranker. An empty method means weighted.
func New(cfg Config) (*Ranker, error) {
	if cfg.Method == "" {
		cfg.Method = MethodWeighted
	}
	if cfg.Method != MethodWeighted && cfg.Method != MethodRRF {
		return nil, fmt.Errorf("unknown fusion method %q", cfg.Method)
	}
	if cfg.LexicalWeight < 0 || cfg.VectorWeight < 0 ||
		math.IsNaN(cfg.LexicalWeight) || math.IsNaN(cfg.VectorWeight) {
		return nil, fmt.Errorf("fusion weights must be non-negative")
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	return &Ranker{cfg: cfg}, nil
}

// Method returns the configured method name.
func (r *Ranker) Method() string { return r.cfg.Method }

type merged struct {
	id      string
	title   string
	source  string
	lexical *float64
	vector  *float64
	score   float64
}

// Fuse merges both candidate lists and returns at most limit hits.
// A nil list stands for a backend that was not consulted or failed.
//
// Fused scores are rounded to 9 decimal places. Order: fused score
// descending, then higher raw lexical score (absent below present), then
// document id ascending.
func (r *Ranker) Fuse(lexical, vector []result.Candidate, limit int) []result.Hit {
	byID := make(map[string]*merged, len(lexical)+len(vector))
	order := make([]*merged, 0, len(lexical)+len(vector))

	get := func(c result.Candidate) *merged {
		m, ok := byID[c.ID]
		if !ok {
			m = &merged{id: c.ID}
			byID[c.ID] = m
			order = append(order, m)
		}
		if m.title == "" {
			m.title = c.Title
		}
		if m.source == "" {
			m.source = c.Source
		}
		return m
	}

	lexNorm := r.contributions(lexical, r.cfg.LexicalWeight)
	for i, c := range lexical {
		m := get(c)
		if m.lexical != nil {
			continue
		}
		raw := c.Score
		m.lexical = &raw
		m.score += lexNorm[i]
	}

	vecNorm := r.contributions(vector, r.cfg.VectorWeight)
	for i, c := range vector {
		m := get(c)
		if m.vector != nil {
			continue
		}
		raw := c.Score
		m.vector = &raw
		m.score += vecNorm[i]
	}

	for _, m := range order {
		m.score = math.Round(m.score*scoreScale) / scoreScale
	}
	slices.SortStableFunc(order, compare)

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	hits := make([]result.Hit, len(order))
	for i, m := range order {
		hits[i] = result.New(m.id, m.title, m.source, m.lexical, m.vector, m.score)
	}
	return hits
}

// contributions returns the weighted fused contribution of every candidate by position.
func (r *Ranker) contributions(list []result.Candidate, weight float64) []float64 {
	out := make([]float64, len(list))
	if len(list) == 0 {
		return out
	}
	if r.cfg.Method == MethodRRF {
		for rank := range list {
			out[rank] = weight / float64(r.cfg.RRFK+rank+1)
		}
		return out
	}

	lo, hi := list[0].Score, list[0].Score
	for _, c := range list[1:] {
		lo = min(lo, c.Score)
		hi = max(hi, c.Score)
	}
	span := hi - lo
	for i, c := range list {
		n := 1.0
		if span > 0 {
			n = (c.Score - lo) / span
		}
		out[i] = weight * n
	}
	return out
}

func compare(a, b *merged) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	switch {
	case a.lexical != nil && b.lexical == nil:
		return -1
	case a.lexical == nil && b.lexical != nil:
		return 1
	case a.lexical != nil && b.lexical != nil && *a.lexical != *b.lexical:
		return -cmp.Compare(*a.lexical, *b.lexical)
	}
	return strings.Compare(a.id, b.id)
}
