// Package job models a batch ingestion job and its per-document outcomes.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
)

// Status is the lifecycle state of a job or of a single document in it.
type Status string

// Status values.
const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusPartialFailure Status = "partial_failure"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// IsValid checks if s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPartialFailure, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no more processing will happen without a retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartialFailure || s == StatusCancelled
}

// Source tells where a job came from.
type Source string

// Source values.
const (
	SourceAPI       Source = "api"
	SourceCLI       Source = "cli"
	SourceScheduler Source = "scheduler"
)

// IsValid checks if s is a known source.
func (s Source) IsValid() bool {
	return s == SourceAPI || s == SourceCLI || s == SourceScheduler
}

// ErrorKind classifies why a document was not fully indexed.
type ErrorKind string

// Error kinds.
const (
	KindNone                ErrorKind = ""
	KindInvalidDocument     ErrorKind = "invalid_document"
	KindEmbeddingFailure    ErrorKind = "embedding_failure"
	KindDimensionMismatch   ErrorKind = "dimension_mismatch"
	KindLexicalWriteFailure ErrorKind = "lexical_write_failure"
	KindVectorWriteFailure  ErrorKind = "vector_write_failure"
	KindCancelled           ErrorKind = "cancelled"
)

// MaxAttempts bounds how many times a job may be run (first run included).
const MaxAttempts = 3

// Outcome is the per-document result record.
type Outcome struct {
	Index   int       `json:"index"`
	ID      string    `json:"id"`
	Status  Status    `json:"status"`
	Kind    ErrorKind `json:"error_kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Job is a batch ingestion job. Documents are retained only while the job
// might still need them (pending, running, or retryable).
type Job struct {
	ID         string
	Source     Source
	Status     Status
	Documents  []document.Document
	Outcomes   []Outcome
	Attempts   int
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// New creates a pending job for docs.
func New(docs []document.Document, source Source, now time.Time) (*Job, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("at least one document is required")
	}
	outcomes := make([]Outcome, len(docs))
	for i := range docs {
		outcomes[i] = Outcome{Index: i, ID: docs[i].ID(), Status: StatusPending}
	}
	return &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    StatusPending,
		Documents: docs,
		Outcomes:  outcomes,
		CreatedAt: now,
	}, nil
}

// Filter narrows job listings. Zero values match everything.
type Filter struct {
	Status Status
	Source Source
	Limit  int
}

// Summary counts outcomes by status.
type Summary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	PartialFailure int `json:"partial_failure"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	Pending        int `json:"pending"`
}

// Summary aggregates the per-document outcomes.
func (j *Job) Summary() Summary {
	s := Summary{Total: len(j.Outcomes)}
	for _, o := range j.Outcomes {
		switch o.Status {
		case StatusCompleted:
			s.Completed++
		case StatusPartialFailure:
			s.PartialFailure++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		default:
			s.Pending++
		}
	}
	return s
}

// Resolve derives the job status from its outcomes: completed when every
// document completed, failed when none did, partial failure otherwise.
// A cancelled job stays cancelled.
func (j *Job) Resolve() Status {
	if j.Status == StatusCancelled {
		return StatusCancelled
	}
	s := j.Summary()
	switch {
	case s.Completed == s.Total:
		return StatusCompleted
	case s.Completed == 0 && s.PartialFailure == 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}

// Retryable reports whether Retry is permitted.
func (j *Job) Retryable() bool {
	return (j.Status == StatusFailed || j.Status == StatusPartialFailure) && j.Attempts < MaxAttempts
}

// PendingIndexes returns indexes of documents that are not completed.
func (j *Job) PendingIndexes() []int {
	var idx []int
	for i, o := range j.Outcomes {
		if o.Status != StatusCompleted {
			idx = append(idx, i)
		}
	}
	return idx
}

// Compact drops payloads of completed documents; a completed job keeps none.
func (j *Job) Compact() {
	if len(j.Documents) == 0 {
		return
	}
	if j.Status == StatusCompleted {
		j.Documents = nil
		return
	}
	for i, o := range j.Outcomes {
		if o.Status == StatusCompleted && i < len(j.Documents) {
			j.Documents[i] = document.Document{}
		}
	}
}

// Clone returns a deep copy safe to hand to callers while processing continues.
func (j *Job) Clone() *Job {
	c := *j
	c.Outcomes = append([]Outcome(nil), j.Outcomes...)
	c.Documents = append([]document.Document(nil), j.Documents...)
	return &c
}
