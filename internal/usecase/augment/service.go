// Package augment answers prompts with a language model, optionally grounded
// with search hits. Retrieval is best effort; generation is not.
package augment

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	"github.com/kailas-cloud/dsearch/internal/logger"
)

// Defaults.
const (
	DefaultContextHits  = 5
	DefaultContextChars = 4000
	// perDocumentChars bounds the body excerpt of a single grounding document.
	perDocumentChars = 1000
	MaxPromptLength  = 8192
)

const systemPrompt = "You answer questions using the provided documents when they are relevant. " +
	"If the documents do not contain the answer, say so and answer from general knowledge."

// Generator produces a completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Searcher runs a routed search.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
}

// DocumentReader loads indexed documents for grounding.
type DocumentReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]document.Document, error)
}

// Config tunes grounding.
type Config struct {
	ContextHits  int
	ContextChars int
}

// Request is a generation request.
type Request struct {
	Prompt string
	// Ground asks for search hits to be added to the prompt.
	Ground bool
	Mode   mode.Mode
	Limit  int
}

// Response carries the answer and the hits used to ground it.
type Response struct {
	Answer   string
	Sources  []result.Hit
	Grounded bool
	// Degraded is set when grounding was requested but retrieval failed or was partial.
	Degraded bool
}

// Service is the AugmentationService.
type Service struct {
	gen    Generator
	search Searcher
	docs   DocumentReader
	cfg    Config
	logger *zap.Logger
}

// New creates a service. A nil generator disables augmentation.
func New(gen Generator, search Searcher, docs DocumentReader, cfg Config, logger *zap.Logger) *Service {
	if cfg.ContextHits <= 0 {
		cfg.ContextHits = DefaultContextHits
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}
	return &Service{gen: gen, search: search, docs: docs, cfg: cfg, logger: logger.Named("augment")}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool { return s.gen != nil }

// Augment generates an answer for req.
func (s *Service) Augment(ctx context.Context, req Request) (Response, error) {
	if s.gen == nil {
		return Response{}, domain.ErrAugmentationDisabled
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Response{}, fmt.Errorf("%w: prompt is required", domain.ErrInvalidQuery)
	}
	if len(prompt) > MaxPromptLength {
		return Response{}, fmt.Errorf("%w: prompt too long (max %d chars)", domain.ErrInvalidQuery, MaxPromptLength)
	}

	var resp Response
	if req.Ground {
		resp = s.ground(ctx, prompt, req)
		if resp.Grounded {
			prompt = buildPrompt(prompt, s.renderContext(ctx, resp.Sources))
		}
	}

	answer, err := s.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%w: %w", domain.ErrAugmentationFailed, err)
	}
	resp.Answer = strings.TrimSpace(answer)
	return resp, nil
}

// ground runs the search. Any failure leaves the response ungrounded.
func (s *Service) ground(ctx context.Context, prompt string, req Request) Response {
	log := logger.FromContextOr(ctx, s.logger)
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.ContextHits
	}
	sr, err := request.New(prompt, req.Mode, filter.Expression{}, nil, min(limit, request.MaxLimit), false)
	if err != nil {
		log.Warn("Grounding query rejected", zap.Error(err))
		return Response{Degraded: true}
	}
	res, err := s.search.Search(ctx, &sr)
	if err != nil {
		log.Warn("Grounding search failed, answering without documents", zap.Error(err))
		return Response{Degraded: true}
	}
	return Response{Sources: res.Hits, Grounded: len(res.Hits) > 0, Degraded: res.Degraded}
}

// renderContext renders the grounding documents within the character budget.
// Hits whose body cannot be loaded are rendered by title alone.
func (s *Service) renderContext(ctx context.Context, hits []result.Hit) string {
	var docs map[string]document.Document
	if s.docs != nil {
		var err error
		docs, err = s.docs.GetMany(ctx, result.IDs(hits))
		if err != nil {
			logger.FromContextOr(ctx, s.logger).Warn("Grounding documents not loaded", zap.Error(err))
		}
	}

	var b strings.Builder
	for i := range hits {
		h := &hits[i]
		excerpt := ""
		if d, ok := docs[h.ID()]; ok {
			excerpt = truncateRunes(d.Body(), perDocumentChars)
		}
		block := fmt.Sprintf("Document %d: %s\n%s\n\n", i+1, h.Title(), excerpt)
		if b.Len()+len(block) > s.cfg.ContextChars {
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

func buildPrompt(question, docs string) string {
	if docs == "" {
		return question
	}
	return "Documents:\n\n" + docs + "Question: " + question
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
