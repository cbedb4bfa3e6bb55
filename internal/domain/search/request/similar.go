package request

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
)

// Similar-document limits.
const (
	DefaultSimilarLimit = 10
	MaxSimilarLimit     = 50
)

// SimilarRequest is a validated "documents like this one" query.
type SimilarRequest struct {
	documentID string
	filters    filter.Expression
	limit      int
	minScore   float64
}

// NewSimilar validates similar-document parameters.
// A zero limit means DefaultSimilarLimit; minScore is a cosine similarity in [0,1].
func NewSimilar(documentID string, filters filter.Expression, limit int, minScore float64) (SimilarRequest, error) {
	if documentID == "" {
		return SimilarRequest{}, fmt.Errorf("document id is required")
	}
	if limit < 0 {
		return SimilarRequest{}, fmt.Errorf("limit must be positive")
	}
	if limit == 0 {
		limit = DefaultSimilarLimit
	}
	if limit > MaxSimilarLimit {
		return SimilarRequest{}, fmt.Errorf("limit too large (max %d)", MaxSimilarLimit)
	}
	if math.IsNaN(minScore) || minScore < 0 || minScore > 1 {
		return SimilarRequest{}, fmt.Errorf("min_score must be between 0 and 1")
	}

	return SimilarRequest{
		documentID: documentID,
		filters:    filters,
		limit:      limit,
		minScore:   minScore,
	}, nil
}

// DocumentID returns the id of the reference document.
func (r *SimilarRequest) DocumentID() string { return r.documentID }

// Filters returns the pre-filter expression.
func (r *SimilarRequest) Filters() filter.Expression { return r.filters }

// Limit returns the maximum results to return.
func (r *SimilarRequest) Limit() int { return r.limit }

// MinScore returns the minimum similarity threshold.
func (r *SimilarRequest) MinScore() float64 { return r.minScore }
