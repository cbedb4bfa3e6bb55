package job

import (
	"testing"
	"time"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
)

func docs(n int) []document.Document {
	out := make([]document.Document, n)
	for i := range out {
		out[i] = document.Reconstruct(string(rune('a'+i)), "t", "b", "", nil)
	}
	return out
}

func TestNew(t *testing.T) {
	j, err := New(docs(3), SourceAPI, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ID == "" {
		t.Error("expected generated id")
	}
	if j.Status != StatusPending {
		t.Errorf("Status = %q", j.Status)
	}
	if len(j.Outcomes) != 3 || j.Outcomes[1].ID != "b" || j.Outcomes[1].Status != StatusPending {
		t.Errorf("unexpected outcomes: %+v", j.Outcomes)
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New(nil, SourceAPI, time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all completed", []Status{StatusCompleted, StatusCompleted}, StatusCompleted},
		{"all failed", []Status{StatusFailed, StatusFailed}, StatusFailed},
		{"one vector failure", []Status{StatusCompleted, StatusPartialFailure}, StatusPartialFailure},
		{"mixed", []Status{StatusCompleted, StatusFailed}, StatusPartialFailure},
		{"only partial", []Status{StatusPartialFailure, StatusFailed}, StatusPartialFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j, _ := New(docs(len(tc.statuses)), SourceAPI, time.Now())
			for i, s := range tc.statuses {
				j.Outcomes[i].Status = s
			}
			if got := j.Resolve(); got != tc.want {
				t.Errorf("Resolve() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_CancelledSticks(t *testing.T) {
	j, _ := New(docs(1), SourceAPI, time.Now())
	j.Status = StatusCancelled
	j.Outcomes[0].Status = StatusCompleted
	if j.Resolve() != StatusCancelled {
		t.Error("cancelled job must stay cancelled")
	}
}

func TestRetryable(t *testing.T) {
	j, _ := New(docs(1), SourceAPI, time.Now())
	j.Status = StatusPartialFailure
	j.Attempts = 1
	if !j.Retryable() {
		t.Error("expected retryable")
	}
	j.Attempts = MaxAttempts
	if j.Retryable() {
		t.Error("attempts exhausted")
	}
	j.Attempts = 1
	j.Status = StatusCompleted
	if j.Retryable() {
		t.Error("completed job is not retryable")
	}
}

func TestPendingIndexesAndCompact(t *testing.T) {
	j, _ := New(docs(3), SourceAPI, time.Now())
	j.Outcomes[0].Status = StatusCompleted
	j.Outcomes[1].Status = StatusPartialFailure
	j.Outcomes[2].Status = StatusFailed
	j.Status = j.Resolve()

	idx := j.PendingIndexes()
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 2 {
		t.Errorf("PendingIndexes() = %v", idx)
	}

	j.Compact()
	if j.Documents[0].ID() != "" {
		t.Error("completed payload should be dropped")
	}
	if j.Documents[1].ID() != "b" {
		t.Error("failed payload must be kept for retry")
	}

	j.Status = StatusCompleted
	j.Compact()
	if j.Documents != nil {
		t.Error("completed job keeps no payloads")
	}
}

func TestSummary(t *testing.T) {
	j, _ := New(docs(4), SourceAPI, time.Now())
	j.Outcomes[0].Status = StatusCompleted
	j.Outcomes[1].Status = StatusFailed
	j.Outcomes[2].Status = StatusCancelled
	s := j.Summary()
	if s.Total != 4 || s.Completed != 1 || s.Failed != 1 || s.Cancelled != 1 || s.Pending != 1 {
		t.Errorf("Summary() = %+v", s)
	}
}
