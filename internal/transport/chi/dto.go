package chi

import (
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	augmentuc "github.com/kailas-cloud/dsearch/internal/usecase/augment"
	ingestuc "github.com/kailas-cloud/dsearch/internal/usecase/ingest"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type searchBody struct {
	Query       string             `json:"query"`
	Limit       int                `json:"limit,omitempty"`
	Mode        string             `json:"mode,omitempty"`
	Filters     *filterDTO         `json:"filters,omitempty"`
	Boosts      map[string]float64 `json:"boosts,omitempty"`
	BypassCache bool               `json:"bypass_cache,omitempty"`
}

type similarBody struct {
	Limit    int        `json:"limit,omitempty"`
	MinScore float64    `json:"min_score,omitempty"`
	Filters  *filterDTO `json:"filters,omitempty"`
}

type filterDTO struct {
	Must    []conditionDTO `json:"must,omitempty"`
	Should  []conditionDTO `json:"should,omitempty"`
	MustNot []conditionDTO `json:"must_not,omitempty"`
}

type conditionDTO struct {
	Key   string    `json:"key"`
	Match *string   `json:"match,omitempty"`
	Range *rangeDTO `json:"range,omitempty"`
}

type rangeDTO struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

type hitDTO struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	Source       string   `json:"source,omitempty"`
	Score        float64  `json:"score"`
	LexicalScore *float64 `json:"lexical_score,omitempty"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
}

type searchResponse struct {
	Items    []hitDTO                        `json:"items"`
	Total    int                             `json:"total"`
	Degraded bool                            `json:"degraded"`
	Cached   bool                            `json:"cached"`
	Backends map[string]result.BackendStatus `json:"backends,omitempty"`
	TookMs   int64                           `json:"took_ms"`
}

type batchBody struct {
	Documents []ingestuc.Record `json:"documents"`
}

type documentResponse struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type jobResponse struct {
	ID         string        `json:"id"`
	Source     job.Source    `json:"source"`
	Status     job.Status    `json:"status"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Summary    job.Summary   `json:"summary"`
	Outcomes   []job.Outcome `json:"outcomes,omitempty"`
}

type jobListResponse struct {
	Items []jobResponse `json:"items"`
	Total int           `json:"total"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

type augmentBody struct {
	Prompt string `json:"prompt"`
	Ground *bool  `json:"ground,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type augmentResponse struct {
	Answer   string   `json:"answer"`
	Sources  []hitDTO `json:"sources,omitempty"`
	Grounded bool     `json:"grounded"`
	Degraded bool     `json:"degraded"`
}

func hitsToDTO(hits []result.Hit) []hitDTO {
	out := make([]hitDTO, len(hits))
	for i := range hits {
		h := &hits[i]
		out[i] = hitDTO{
			ID:           h.ID(),
			Title:        h.Title(),
			Source:       h.Source(),
			Score:        h.Score(),
			LexicalScore: h.LexicalScore(),
			VectorScore:  h.VectorScore(),
		}
	}
	return out
}

func searchToDTO(resp *result.Response) searchResponse {
	return searchResponse{
		Items:    hitsToDTO(resp.Hits),
		Total:    len(resp.Hits),
		Degraded: resp.Degraded,
		Cached:   resp.Cached,
		Backends: resp.Backends,
		TookMs:   resp.Took.Milliseconds(),
	}
}

func documentToDTO(d *document.Document) documentResponse {
	return documentResponse{
		ID:       d.ID(),
		Title:    d.Title(),
		Body:     d.Body(),
		Source:   d.Source(),
		Metadata: d.Metadata(),
	}
}

func jobToDTO(j *job.Job, withOutcomes bool) jobResponse {
	resp := jobResponse{
		ID:         j.ID,
		Source:     j.Source,
		Status:     j.Status,
		Attempts:   j.Attempts,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Summary:    j.Summary(),
	}
	if withOutcomes {
		resp.Outcomes = j.Outcomes
	}
	return resp
}

func augmentToDTO(r *augmentuc.Response) augmentResponse {
	return augmentResponse{
		Answer:   r.Answer,
		Sources:  hitsToDTO(r.Sources),
		Grounded: r.Grounded,
		Degraded: r.Degraded,
	}
}

func filtersFromDTO(f *filterDTO) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromDTO(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromDTO(cs []conditionDTO) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c conditionDTO) (filter.Condition, error) {
	if c.Match != nil && c.Range != nil {
		return filter.Condition{},
			fmt.Errorf("filter condition for %q must have match or range, not both", c.Key)
	}
	if c.Match != nil {
		cond, err := filter.NewMatch(c.Key, *c.Match)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	}
	if c.Range != nil {
		rf, err := filter.NewRangeFilter(c.Range.Gt, c.Range.Gte, c.Range.Lt, c.Range.Lte)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		cond, err := filter.NewRange(c.Key, rf)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range condition: %w", err)
		}
		return cond, nil
	}
	return filter.Condition{}, errors.New("filter condition must have either match or range")
}
