// Package mcp exposes search, similar documents and job status as MCP tools
// over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/version"
)

// ServerName is the MCP server name.
const ServerName = "dsearch"

// Tool names.
const (
	ToolSearch    = "search"
	ToolSimilar   = "similar_documents"
	ToolJobStatus = "job_status"
)

const defaultLimit = 10

// Searcher runs routed queries and similar-document lookups.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
	Similar(ctx context.Context, req *request.SimilarRequest) (result.Response, error)
}

// JobReader loads ingestion jobs.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp      *server.MCPServer
	search   Searcher
	jobs     JobReader
	maxLimit int
	logger   *zap.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(search Searcher, jobs JobReader, maxLimit int, logger *zap.Logger) *Server {
	if maxLimit <= 0 || maxLimit > request.MaxLimit {
		maxLimit = request.MaxLimit
	}
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version.Version, server.WithToolCapabilities(false)),
		search:   search,
		jobs:     jobs,
		maxLimit: maxLimit,
		logger:   logger.Named("mcp"),
	}
	s.mcp.AddTool(searchTool(maxLimit), s.handleSearch)
	s.mcp.AddTool(similarTool(), s.handleSimilar)
	s.mcp.AddTool(jobStatusTool(), s.handleJobStatus)
	return s
}

// Handler serves the MCP streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func searchTool(maxLimit int) mcp.Tool {
	return mcp.Tool{
		Name:        ToolSearch,
		Description: "Search indexed documents with hybrid lexical and semantic ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query text",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     defaultLimit,
					"minimum":     1,
					"maximum":     maxLimit,
				},
				"mode": map[string]any{
					"type":        "string",
					"description": "Search strategy",
					"enum":        []string{string(mode.Hybrid), string(mode.Keyword), string(mode.Semantic)},
					"default":     string(mode.Hybrid),
				},
			},
			Required: []string{"query"},
		},
	}
}

func similarTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSimilar,
		Description: "Find documents semantically similar to an indexed document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Identifier of the reference document",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     request.DefaultSimilarLimit,
					"minimum":     1,
					"maximum":     request.MaxSimilarLimit,
				},
				"min_score": map[string]any{
					"type":        "number",
					"description": "Minimum cosine similarity",
					"default":     0,
					"minimum":     0,
					"maximum":     1,
				},
			},
			Required: []string{"id"},
		},
	}
}

func jobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolJobStatus,
		Description: "Get the status and per-document summary of an ingestion job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Job identifier",
				},
			},
			Required: []string{"id"},
		},
	}
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)

	query, _ := args["query"].(string)
	limit := getIntDefault(args, "limit", defaultLimit)
	if limit < 1 || limit > s.maxLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", s.maxLimit)), nil
	}
	m, err := mode.Parse(getStringDefault(args, "mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sr, err := request.New(query, m, filter.Expression{}, nil, limit, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.search.Search(ctx, &sr)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) || errors.Is(err, domain.ErrSearchUnavailable) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Error("Search tool failed", zap.Error(err))
		return nil, fmt.Errorf("search: %w", err)
	}

	return mcp.NewToolResultText(formatJSON(responseJSON(&resp))), nil
}

func (s *Server) handleSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	minScore, _ := args["min_score"].(float64)
	sr, err := request.NewSimilar(id, filter.Expression{}, getIntDefault(args, "limit", 0), minScore)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.search.Similar(ctx, &sr)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("document %s not found", id)), nil
		case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrSearchUnavailable):
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Error("Similar tool failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("similar %s: %w", id, err)
	}
	return mcp.NewToolResultText(formatJSON(responseJSON(&resp))), nil
}

func responseJSON(resp *result.Response) map[string]any {
	items := make([]map[string]any, len(resp.Hits))
	for i := range resp.Hits {
		h := &resp.Hits[i]
		items[i] = map[string]any{
			"id":     h.ID(),
			"title":  h.Title(),
			"source": h.Source(),
			"score":  h.Score(),
		}
	}
	return map[string]any{
		"items":    items,
		"total":    len(items),
		"degraded": resp.Degraded,
		"cached":   resp.Cached,
	}
}

func (s *Server) handleJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("job %s not found", id)), nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	out := map[string]any{
		"id":         j.ID,
		"status":     j.Status,
		"source":     j.Source,
		"attempts":   j.Attempts,
		"summary":    j.Summary(),
		"created_at": j.CreatedAt,
	}
	if j.Error != "" {
		out["error"] = j.Error
	}
	if j.FinishedAt != nil {
		out["finished_at"] = *j.FinishedAt
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func formatJSON(data map[string]any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

// getIntDefault reads a JSON number argument; JSON decoding yields float64.
func getIntDefault(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func getStringDefault(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}
