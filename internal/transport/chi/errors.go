package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

// ErrorCode is the machine-readable error code in every error response.
type ErrorCode string

// Error codes returned by the API.
const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeInvalidQuery       ErrorCode = "invalid_query"
	CodeUnknownModel       ErrorCode = "unknown_model"
	CodeDocumentNotFound   ErrorCode = "document_not_found"
	CodeInsufficientData   ErrorCode = "insufficient_data"
	CodeVectorDimMismatch  ErrorCode = "vector_dim_mismatch"
	CodeQuotaExceeded      ErrorCode = "quota_exceeded"
	CodeBackendTimeout     ErrorCode = "backend_timeout"
	CodeBackendRejected    ErrorCode = "backend_rejected"
	CodeBackendUnavailable ErrorCode = "backend_unavailable"
	CodeIndexClosed        ErrorCode = "index_closed"
	CodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Order matters: more specific sentinels first.
var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeVectorDimMismatch),
	sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
	sentinelHandler(domain.ErrUnknownModel, http.StatusNotFound, CodeUnknownModel),
	sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, CodeDocumentNotFound),
	insufficientDataHandler,
	sentinelHandler(domain.ErrQuotaExceeded, http.StatusPaymentRequired, CodeQuotaExceeded),
	sentinelHandler(domain.ErrBackendTimeout, http.StatusGatewayTimeout, CodeBackendTimeout),
	sentinelHandler(domain.ErrBackendRejected, http.StatusBadGateway, CodeBackendRejected),
	sentinelHandler(domain.ErrBackendUnavailable, http.StatusBadGateway, CodeBackendUnavailable),
	sentinelHandler(store.ErrClosed, http.StatusServiceUnavailable, CodeIndexClosed),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// sentinelHandler matches a single sentinel and replies with the sentinel's
// own message, never the wrapped chain.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// insufficientDataHandler reports the sample counts.
func insufficientDataHandler(w http.ResponseWriter, err error) bool {
	var ide *domain.InsufficientDataError
	if !errors.As(err, &ide) {
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"code":    CodeInsufficientData,
		"message": domain.ErrInsufficientData.Error(),
		"have":    ide.Have,
		"need":    ide.Need,
	})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range errorHandlers {
		if h(w, err) {
			s.logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
