package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
)

// --- Mocks ---

type mockSearcher struct {
	resp       result.Response
	err        error
	got        *request.Request
	gotSimilar *request.SimilarRequest
}

func (m *mockSearcher) Search(_ context.Context, req *request.Request) (result.Response, error) {
	c := *req
	m.got = &c
	return m.resp, m.err
}

func (m *mockSearcher) Similar(_ context.Context, req *request.SimilarRequest) (result.Response, error) {
	c := *req
	m.gotSimilar = &c
	return m.resp, m.err
}

type mockJobs struct {
	jobs map[string]*job.Job
	err  error
}

func (m *mockJobs) Get(_ context.Context, id string) (*job.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestSearchTool(t *testing.T) {
	s := &mockSearcher{resp: result.Response{
		Hits: []result.Hit{result.New("a", "Alpha", "/a.pdf", nil, nil, 0.9)},
	}}
	srv := NewServer(s, &mockJobs{}, 50, zap.NewNop())

	res, err := srv.handleSearch(context.Background(),
		callTool(ToolSearch, map[string]any{"query": "Alpha", "limit": float64(3), "mode": "semantic"}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if s.got.Limit() != 3 || s.got.Mode() != mode.Semantic || s.got.Normalized() != "alpha" {
		t.Errorf("request = %d/%s/%q", s.got.Limit(), s.got.Mode(), s.got.Normalized())
	}

	var body struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || body.Items[0]["id"] != "a" {
		t.Errorf("body = %+v", body)
	}
}

func TestSearchTool_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"limit above max", map[string]any{"query": "a", "limit": float64(51)}},
		{"zero limit", map[string]any{"query": "a", "limit": float64(0)}},
		{"bad mode", map[string]any{"query": "a", "mode": "fuzzy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{}
			srv := NewServer(s, &mockJobs{}, 50, zap.NewNop())
			res, err := srv.handleSearch(context.Background(), callTool(ToolSearch, tt.args))
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if !res.IsError {
				t.Error("expected tool error")
			}
			if s.got != nil {
				t.Error("search must not run")
			}
		})
	}
}

func TestSearchTool_BackendErrors(t *testing.T) {
	s := &mockSearcher{err: fmt.Errorf("%w: both down", domain.ErrSearchUnavailable)}
	srv := NewServer(s, &mockJobs{}, 0, zap.NewNop())
	res, err := srv.handleSearch(context.Background(), callTool(ToolSearch, map[string]any{"query": "a"}))
	if err != nil || !res.IsError {
		t.Errorf("unavailable: res=%v err=%v", res, err)
	}

	s.err = errors.New("boom")
	if _, err := srv.handleSearch(context.Background(), callTool(ToolSearch, map[string]any{"query": "a"})); err == nil {
		t.Error("expected protocol error for internal failure")
	}
}

func TestSimilarTool(t *testing.T) {
	s := &mockSearcher{resp: result.Response{
		Hits: []result.Hit{result.New("b", "Beta", "", nil, nil, 0.8)},
	}}
	srv := NewServer(s, &mockJobs{}, 0, zap.NewNop())

	res, err := srv.handleSimilar(context.Background(),
		callTool(ToolSimilar, map[string]any{"id": "doc-1", "limit": float64(4), "min_score": 0.6}))
	if err != nil {
		t.Fatalf("handleSimilar: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if got := s.gotSimilar; got.DocumentID() != "doc-1" || got.Limit() != 4 || got.MinScore() != 0.6 {
		t.Errorf("request = %s/%d/%v", got.DocumentID(), got.Limit(), got.MinScore())
	}
	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 1 || body.Items[0]["id"] != "b" {
		t.Errorf("body = %+v", body)
	}
}

func TestSimilarTool_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		err     error
		wantRun bool
	}{
		{"missing id", map[string]any{}, nil, false},
		{"limit above max", map[string]any{"id": "a", "limit": float64(request.MaxSimilarLimit + 1)}, nil, false},
		{"min_score above one", map[string]any{"id": "a", "min_score": 1.5}, nil, false},
		{"unknown document", map[string]any{"id": "a"}, fmt.Errorf("document a: %w", domain.ErrNotFound), true},
		{"unavailable", map[string]any{"id": "a"}, fmt.Errorf("%w: vector down", domain.ErrSearchUnavailable), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{err: tt.err}
			srv := NewServer(s, &mockJobs{}, 0, zap.NewNop())
			res, err := srv.handleSimilar(context.Background(), callTool(ToolSimilar, tt.args))
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if !res.IsError {
				t.Error("expected tool error")
			}
			if ran := s.gotSimilar != nil; ran != tt.wantRun {
				t.Errorf("similar ran = %v, want %v", ran, tt.wantRun)
			}
		})
	}
}

func TestJobStatusTool(t *testing.T) {
	d, err := document.New("a", "A", "body", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	j, err := job.New([]document.Document{d}, job.SourceAPI, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(&mockSearcher{}, &mockJobs{jobs: map[string]*job.Job{j.ID: j}}, 0, zap.NewNop())

	res, err := srv.handleJobStatus(context.Background(), callTool(ToolJobStatus, map[string]any{"id": j.ID}))
	if err != nil || res.IsError {
		t.Fatalf("res=%v err=%v", res, err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if body["id"] != j.ID || body["status"] != string(job.StatusPending) {
		t.Errorf("body = %v", body)
	}

	res, err = srv.handleJobStatus(context.Background(), callTool(ToolJobStatus, map[string]any{"id": "missing"}))
	if err != nil || !res.IsError {
		t.Errorf("missing: res=%v err=%v", res, err)
	}

	res, err = srv.handleJobStatus(context.Background(), callTool(ToolJobStatus, map[string]any{}))
	if err != nil || !res.IsError {
		t.Errorf("no id: res=%v err=%v", res, err)
	}
}

func TestHandler(t *testing.T) {
	srv := NewServer(&mockSearcher{}, &mockJobs{}, 0, zap.NewNop())
	if srv.Handler() == nil {
		t.Error("nil handler")
	}
}
