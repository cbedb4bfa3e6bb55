package cache

import (
	"time"

	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
)

type hitDTO struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Source  string   `json:"source,omitempty"`
	Lexical *float64 `json:"lexical,omitempty"`
	Vector  *float64 `json:"vector,omitempty"`
	Score   float64  `json:"score"`
}

type entryDTO struct {
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
	CreatedAt   time.Time `json:"created_at"`
	TTLMs       int64     `json:"ttl_ms"`
	Hits        []hitDTO  `json:"hits"`
}

func toDTO(hits []result.Hit) []hitDTO {
	out := make([]hitDTO, len(hits))
	for i := range hits {
		h := &hits[i]
		out[i] = hitDTO{
			ID:      h.ID(),
			Title:   h.Title(),
			Source:  h.Source(),
			Lexical: h.LexicalScore(),
			Vector:  h.VectorScore(),
			Score:   h.Score(),
		}
	}
	return out
}

func fromDTO(in []hitDTO) []result.Hit {
	out := make([]result.Hit, len(in))
	for i, h := range in {
		out[i] = result.New(h.ID, h.Title, h.Source, h.Lexical, h.Vector, h.Score)
	}
	return out
}
