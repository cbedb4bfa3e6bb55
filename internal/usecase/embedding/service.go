// Package embedding turns text into fixed-dimension vectors. The Service owns
// the model lifecycle and the token policy; decorators in this package add
// observability around the provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/metrics"
)

const sampleText = "dimension check"

// Service lifecycle states.
const (
	stateNew int32 = iota
	stateReady
	stateClosed
)

// Config is the token and dimension policy of the deployed model.
type Config struct {
	Dimensions int
	// MaxTokens bounds the whitespace tokens sent to the model; longer inputs are cut.
	MaxTokens int
	// DocumentInstruction and QueryInstruction are prepended to inputs for
	// instruction-tuned models. Empty for symmetric models such as MiniLM.
	DocumentInstruction string
	QueryInstruction    string
}

// Service is the EmbeddingService.
type Service struct {
	embedder domain.Embedder
	health   domain.HealthChecker
	cfg      Config
	state    atomic.Int32
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHealthChecker sets the dependency HealthCheck pings.
func WithHealthChecker(h domain.HealthChecker) Option {
	return func(s *Service) { s.health = h }
}

// NewService wraps a decorated embedder chain. The service is unusable until Load.
func NewService(embedder domain.Embedder, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{embedder: embedder, cfg: cfg, logger: logger.Named("embedding")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load embeds a sample text once and checks that it produces vectors of the
// configured dimension. Calling Load on a ready service is a no-op.
func (s *Service) Load(ctx context.Context) error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return fmt.Errorf("%w: service closed", domain.ErrEmbeddingFailure)
	}

	res, err := s.embedder.Embed(ctx, s.cfg.DocumentInstruction+sampleText)
	if err != nil {
		return fmt.Errorf("%w: load model: %w", domain.ErrEmbeddingFailure, err)
	}
	if err := domain.CheckDimension(res.Embedding, s.cfg.Dimensions); err != nil {
		return fmt.Errorf("model reports a different dimension: %w", err)
	}

	s.state.CompareAndSwap(stateNew, stateReady)
	s.logger.Info("Embedding model loaded", zap.Int("dimensions", s.cfg.Dimensions), zap.Int("max_tokens", s.cfg.MaxTokens))
	return nil
}

// Close releases the model. Embed fails afterwards.
func (s *Service) Close() {
	if s.state.Swap(stateClosed) != stateClosed {
		s.logger.Info("Embedding model released")
	}
}

// Ready reports whether Load succeeded and Close has not been called.
func (s *Service) Ready() bool { return s.state.Load() == stateReady }

// Embed vectorizes a document text.
func (s *Service) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return s.embed(ctx, s.cfg.DocumentInstruction, text)
}

// Query returns an Embedder for search queries.
func (s *Service) Query() domain.Embedder { return queryEmbedder{s} }

// EmbedBatch vectorizes document texts in one provider round-trip.
// Any empty text fails the whole batch with ErrInvalidQuery.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbeddingResult, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	inputs := make([]string, len(texts))
	truncated := make([]bool, len(texts))
	for i, t := range texts {
		cut, ok, err := s.prepare(t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		inputs[i], truncated[i] = s.cfg.DocumentInstruction+cut, ok
	}

	var res domain.BatchEmbeddingResult
	var err error
	if be, ok := s.embedder.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, inputs)
	} else {
		res, err = domain.BatchFallback(ctx, s.embedder, inputs)
	}
	if err != nil {
		return nil, s.failure(ctx, err)
	}

	out := make([]domain.EmbeddingResult, len(res.Embeddings))
	for i, vec := range res.Embeddings {
		if err := domain.CheckDimension(vec, s.cfg.Dimensions); err != nil {
			return nil, fmt.Errorf("%w: text %d: %w", domain.ErrEmbeddingFailure, i, err)
		}
		out[i] = domain.EmbeddingResult{Embedding: vec, Truncated: truncated[i]}
	}
	return out, nil
}

// HealthCheck reports whether the model is loaded and its endpoint reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if s.health != nil {
		return s.health.HealthCheck(ctx)
	}
	return nil
}

func (s *Service) embed(ctx context.Context, instruction, text string) (domain.EmbeddingResult, error) {
	if err := s.checkReady(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	input, truncated, err := s.prepare(text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	res, err := s.embedder.Embed(ctx, instruction+input)
	if err != nil {
		return domain.EmbeddingResult{}, s.failure(ctx, err)
	}
	if err := domain.CheckDimension(res.Embedding, s.cfg.Dimensions); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	res.Truncated = truncated
	return res, nil
}

// prepare applies the token policy.
func (s *Service) prepare(text string) (string, bool, error) {
	cut, truncated := Truncate(text, s.cfg.MaxTokens)
	if cut == "" {
		return "", false, fmt.Errorf("%w: empty text", domain.ErrInvalidQuery)
	}
	if truncated {
		metrics.EmbeddingTruncatedTotal.Inc()
	}
	return cut, truncated, nil
}

func (s *Service) checkReady() error {
	switch s.state.Load() {
	case stateNew:
		return fmt.Errorf("%w: model not loaded", domain.ErrEmbeddingFailure)
	case stateClosed:
		return fmt.Errorf("%w: service closed", domain.ErrEmbeddingFailure)
	}
	return nil
}

// failure wraps provider errors. Cancellation is passed through untouched.
func (s *Service) failure(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
}

// Truncate keeps the first maxTokens whitespace-separated tokens of text,
// joined by single spaces. Text within the limit is returned trimmed but
// otherwise unchanged. maxTokens <= 0 disables the limit.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return strings.TrimSpace(text), false
	}
	tokens := strings.Fields(text)
	if len(tokens) <= maxTokens {
		return strings.TrimSpace(text), false
	}
	return strings.Join(tokens[:maxTokens], " "), true
}

type queryEmbedder struct{ s *Service }

func (q queryEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return q.s.embed(ctx, q.s.cfg.QueryInstruction, text)
}
