package jobs

import (
	"time"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
)

type documentDTO struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// jobDTO is the stored form of a job. Documents dropped by compaction are null.
type jobDTO struct {
	ID         string         `json:"id"`
	Source     job.Source     `json:"source"`
	Status     job.Status     `json:"status"`
	Documents  []*documentDTO `json:"documents,omitempty"`
	Outcomes   []job.Outcome  `json:"outcomes"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func toDTO(j *job.Job) jobDTO {
	d := jobDTO{
		ID:         j.ID,
		Source:     j.Source,
		Status:     j.Status,
		Outcomes:   j.Outcomes,
		Attempts:   j.Attempts,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if len(j.Documents) > 0 {
		d.Documents = make([]*documentDTO, len(j.Documents))
		for i := range j.Documents {
			doc := &j.Documents[i]
			if doc.ID() == "" {
				continue
			}
			d.Documents[i] = &documentDTO{
				ID:       doc.ID(),
				Title:    doc.Title(),
				Body:     doc.Body(),
				Source:   doc.Source(),
				Metadata: doc.Metadata(),
			}
		}
	}
	return d
}

func fromDTO(d *jobDTO) *job.Job {
	j := &job.Job{
		ID:         d.ID,
		Source:     d.Source,
		Status:     d.Status,
		Outcomes:   d.Outcomes,
		Attempts:   d.Attempts,
		Error:      d.Error,
		CreatedAt:  d.CreatedAt,
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
	}
	if len(d.Documents) > 0 {
		j.Documents = make([]document.Document, len(d.Documents))
		for i, doc := range d.Documents {
			if doc == nil {
				continue
			}
			j.Documents[i] = document.Reconstruct(doc.ID, doc.Title, doc.Body, doc.Source, doc.Metadata)
		}
	}
	return j
}
