package flowbot

import (
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput       = domain.ErrInvalidInput
	ErrInvalidQuery       = domain.ErrInvalidQuery
	ErrInvalidScore       = domain.ErrInvalidScore
	ErrUnknownModel       = domain.ErrUnknownModel
	ErrInsufficientData   = domain.ErrInsufficientData
	ErrVectorDimMismatch  = domain.ErrVectorDimMismatch
	ErrDocumentNotFound   = domain.ErrDocumentNotFound
	ErrBackendTimeout     = domain.ErrBackendTimeout
	ErrBackendUnavailable = domain.ErrBackendUnavailable
	ErrBackendRejected    = domain.ErrBackendRejected
	ErrQuotaExceeded      = domain.ErrQuotaExceeded
	ErrClosed             = store.ErrClosed
)

// InsufficientDataError reports how many labelled samples a fit had and needed.
type InsufficientDataError = domain.InsufficientDataError
