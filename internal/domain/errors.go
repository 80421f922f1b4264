package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed prediction, query or document (caller error).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidQuery signals an empty query text or a non-positive top_k.
	ErrInvalidQuery = fmt.Errorf("invalid query: %w", ErrInvalidInput)
	// ErrInvalidScore signals raw scores that cannot be normalized (empty or non-finite).
	ErrInvalidScore = fmt.Errorf("invalid score: %w", ErrInvalidInput)
	// ErrUnknownModel signals a model_id without registered calibration parameters.
	ErrUnknownModel = errors.New("unknown model")
	// ErrInsufficientData signals a calibration fit below the minimum sample count.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrNotFound signals a missing stored entity.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)

	// ErrBackendTimeout signals an external backend call that exceeded its deadline.
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrBackendUnavailable signals an external backend failure (transport or API error).
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = fmt.Errorf("embedding provider error: %w", ErrBackendUnavailable)
	// ErrGenerationProviderError signals a generation provider failure.
	ErrGenerationProviderError = fmt.Errorf("generation provider error: %w", ErrBackendUnavailable)
	// ErrBackendRejected signals a backend that refused the request itself
	// (bad credentials, malformed input). Retrying cannot help.
	ErrBackendRejected = errors.New("backend rejected request")
	// ErrQuotaExceeded signals an exhausted backend token budget.
	ErrQuotaExceeded = errors.New("backend quota exceeded")
)

// DimensionMismatchError wraps ErrVectorDimMismatch with the expected and actual lengths.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrVectorDimMismatch.Error(), e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(want, got int) error {
	return &DimensionMismatchError{Want: want, Got: got}
}

// InsufficientDataError wraps ErrInsufficientData with the sample counts.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: have %d samples, need %d", ErrInsufficientData.Error(), e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// IsTransient reports whether err is worth retrying against an external backend.
// Context cancellation is never transient: the caller gave up.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendTimeout)
}
