package chi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/logger"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeBadRequest             = "bad_request"
	CodeInvalidQuery           = "invalid_query"
	CodeInvalidDocument        = "invalid_document"
	CodeVectorDimMismatch      = "vector_dim_mismatch"
	CodeNotFound               = "not_found"
	CodeJobConflict            = "job_conflict"
	CodeJobRunning             = "job_running"
	CodeBatchTooLarge          = "batch_too_large"
	CodeRateLimited            = "rate_limited"
	CodeSearchUnavailable      = "search_unavailable"
	CodeEmbeddingProviderError = "embedding_provider_error"
	CodeAugmentationDisabled   = "augmentation_disabled"
	CodeAugmentationFailed     = "augmentation_failed"
	CodeTimeout                = "timeout"
	CodeClientClosedRequest    = "client_closed_request"
	CodeInternalError          = "internal_error"
)

// statusClientClosedRequest is the de-facto status for a request abandoned by the client.
const statusClientClosedRequest = 499

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// defaultErrorHandlers is ordered: the first match wins.
func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		clientError(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
		clientError(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeVectorDimMismatch),
		clientError(domain.ErrInvalidDocument, http.StatusBadRequest, CodeInvalidDocument),
		clientError(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		clientError(domain.ErrJobConflict, http.StatusConflict, CodeJobConflict),
		clientError(domain.ErrJobRunning, http.StatusConflict, CodeJobRunning),
		clientError(domain.ErrBatchTooLarge, http.StatusRequestEntityTooLarge, CodeBatchTooLarge),
		clientError(domain.ErrAugmentationDisabled, http.StatusNotFound, CodeAugmentationDisabled),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusServiceUnavailable, CodeSearchUnavailable),
		sentinelHandler(domain.ErrAugmentationFailed, http.StatusBadGateway, CodeAugmentationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout),
		sentinelHandler(context.Canceled, statusClientClosedRequest, CodeClientClosedRequest),
	}
}

// clientError matches a sentinel and reports the full error text: it only
// carries validation detail about the caller's own input.
func clientError(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

// sentinelHandler matches a sentinel and reports only the sentinel text.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("Request failed", zap.Error(err))
			return
		}
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
