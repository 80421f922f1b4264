package orchestrator

import (
	"context"

	"github.com/kailas-cloud/flowbot/internal/domain/confidence"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/usecase/retrieval"
)

// Calibrator scores a prediction.
type Calibrator interface {
	Calibrate(ctx context.Context, pred prediction.Prediction, threshold float64) (confidence.Report, error)
}

// Retriever finds supporting documents.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int, minSimilarity float64) (retrieval.Result, error)
}
