package calibration

import (
	"context"

	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
)

// Repository persists calibration versions. Save must write the version and
// make it the model's active one atomically.
type Repository interface {
	Save(ctx context.Context, params domcal.Params) error
	LoadActive(ctx context.Context) ([]domcal.Params, error)
	// Versions returns a model's history, oldest first, or ErrUnknownModel.
	Versions(ctx context.Context, modelID string) ([]domcal.Params, error)
}
