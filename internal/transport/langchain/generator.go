// Package langchain adapts an OpenAI-compatible chat model for answer generation.
package langchain

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-3.5-turbo"

// Config holds generator settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds one completion; zero leaves it to the caller's context.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Generator produces chat completions through langchaingo.
type Generator struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGenerator creates a generator. A local server without auth still needs a non-empty token.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		model:       model,
		name:        cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger.Named("generator"),
	}, nil
}

// Generate returns the first choice of a system + human chat completion.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		g.logger.Warn("Chat completion failed", zap.String("model", g.name), zap.Error(err))
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate: no choices returned")
	}
	g.logger.Debug("Chat completion",
		zap.String("model", g.name), zap.Duration("took", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)))
	return resp.Choices[0].Content, nil
}

// HealthCheck reports whether a generator is configured. It does not spend a completion.
func (g *Generator) HealthCheck(_ context.Context) error {
	if g.model == nil {
		return fmt.Errorf("chat model not configured")
	}
	return nil
}
