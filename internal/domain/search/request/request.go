package request

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 10
	MaxLimit       = 500
	MaxBoost       = 100
)

// Request is a validated search query.
type Request struct {
	text        string
	normalized  string
	searchMode  mode.Mode
	filters     filter.Expression
	boosts      map[string]float64
	limit       int
	bypassCache bool
}

// New validates and normalizes search parameters.
// Defaults: mode=hybrid, limit=10. Boost keys must name an indexed text field.
func New(
	text string,
	m mode.Mode,
	filters filter.Expression,
	boosts map[string]float64,
	limit int,
	bypassCache bool,
) (Request, error) {
	if len(text) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	normalized := Normalize(text)
	if normalized == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if m == "" {
		m = mode.Hybrid
	}
	if !m.IsValid() {
		return Request{}, fmt.Errorf("invalid search mode: %q", m)
	}
	if limit < 0 {
		return Request{}, fmt.Errorf("limit must be positive")
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return Request{}, fmt.Errorf("limit too large (max %d)", MaxLimit)
	}

	var cleanBoosts map[string]float64
	if len(boosts) > 0 {
		cleanBoosts = make(map[string]float64, len(boosts))
		for field, w := range boosts {
			if !slices.Contains(document.TextFields, field) {
				return Request{}, fmt.Errorf("unknown boost field %q (want one of %s)",
					field, strings.Join(document.TextFields, ", "))
			}
			if math.IsNaN(w) || w < 0 || w > MaxBoost {
				return Request{}, fmt.Errorf("boost for %q must be between 0 and %d", field, MaxBoost)
			}
			cleanBoosts[field] = w
		}
	}

	return Request{
		text:        text,
		normalized:  normalized,
		searchMode:  m,
		filters:     filters,
		boosts:      cleanBoosts,
		limit:       limit,
		bypassCache: bypassCache,
	}, nil
}

// Normalize trims, collapses internal whitespace and lowercases query text.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Text returns the raw query text as supplied.
func (r *Request) Text() string { return r.text }

// Normalized returns the normalized query text sent to the backends.
func (r *Request) Normalized() string { return r.normalized }

// Mode returns the search strategy.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Filters returns the pre-filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Boosts returns per-field boost overrides (nil means defaults).
func (r *Request) Boosts() map[string]float64 { return r.boosts }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// BypassCache reports whether the cache lookup should be skipped.
func (r *Request) BypassCache() bool { return r.bypassCache }

// WithLimit returns a copy with the limit replaced.
func (r *Request) WithLimit(limit int) Request {
	c := *r
	c.limit = limit
	return c
}

type fingerprintBoost struct {
	Field  string  `json:"f"`
	Weight float64 `json:"w"`
}

type fingerprintInput struct {
	Version string             `json:"v"`
	Text    string             `json:"q"`
	Mode    mode.Mode          `json:"m"`
	Limit   int                `json:"l"`
	Boosts  []fingerprintBoost `json:"b,omitempty"`
	Filters string             `json:"f,omitempty"`
}

// Fingerprint is the cache key digest: sha256 over the canonical JSON encoding of
// normalized text, mode, limit, sorted boosts and canonical filters.
// The bypass flag is not part of the fingerprint.
func (r *Request) Fingerprint() string {
	in := fingerprintInput{
		Version: "1",
		Text:    r.normalized,
		Mode:    r.searchMode,
		Limit:   r.limit,
		Filters: r.filters.Canonical(),
	}
	for field, w := range r.boosts {
		in.Boosts = append(in.Boosts, fingerprintBoost{Field: field, Weight: w})
	}
	slices.SortFunc(in.Boosts, func(a, b fingerprintBoost) int { return strings.Compare(a.Field, b.Field) })

	// Marshal of a struct with only strings, ints, floats and slices cannot fail.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
