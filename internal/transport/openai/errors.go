package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/flowbot/internal/domain"
)

// mapAPIError turns a client error into a domain error. Deadlines become
// ErrBackendTimeout, 4xx other than 408/429 become ErrBackendRejected, and
// everything else wraps the backend's provider error (transient).
func mapAPIError(ctx context.Context, err error, provider error, what string) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, domain.ErrBackendTimeout)
	}

	status, detail := 0, ""
	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if detail = extractDetail(reqErr.Body); detail == "" {
			detail = string(reqErr.Body)
		}
	default:
		return fmt.Errorf("%s request failed: %v: %w", what, err, provider)
	}

	wrap := provider
	if rejected(status) {
		wrap = domain.ErrBackendRejected
	}
	return fmt.Errorf("%s API error %d: %s: %w", what, status, detail, wrap)
}

func rejected(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// errorType is the metrics label for a mapped error.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrBackendRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "api_error"
	}
}

// extractDetail reads the "detail" field some OpenAI-compatible providers use
// instead of the standard error envelope.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
