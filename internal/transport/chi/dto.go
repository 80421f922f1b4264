package chi

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/answer"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	domdoc "github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/domain/query"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
)

// PredictionRequest is the JSON form of a predictor output.
type PredictionRequest struct {
	Modality       string     `json:"modality"`
	RawScores      []float64  `json:"raw_scores"`
	PredictedLabel string     `json:"predicted_label"`
	ModelID        string     `json:"model_id"`
	Embedding      []float32  `json:"embedding,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Query               string             `json:"query"`
	Prediction          *PredictionRequest `json:"prediction,omitempty"`
	TopK                int                `json:"top_k,omitempty"`
	MinSimilarity       float64            `json:"min_similarity,omitempty"`
	ConfidenceThreshold float64            `json:"confidence_threshold,omitempty"`
}

// AskResponse is the assembled answer.
type AskResponse struct {
	Answer                string   `json:"answer"`
	SupportingDocumentIDs []string `json:"supporting_document_ids"`
	Confidence            *float64 `json:"confidence"`
	FallbackUsed          bool     `json:"fallback_used"`
	FallbackReasons       []string `json:"fallback_reasons"`
	State                 string   `json:"state"`
	CalibrationVersion    string   `json:"calibration_version,omitempty"`
}

// ModelRequest is the body of PUT /models/{model}.
type ModelRequest struct {
	Modality               string        `json:"modality"`
	Method                 string        `json:"method,omitempty"`
	Temperature            float64       `json:"temperature,omitempty"`
	Knots                  []domcal.Knot `json:"knots,omitempty"`
	Bounds                 *score.Bounds `json:"bounds,omitempty"`
	LowConfidenceThreshold float64       `json:"low_confidence_threshold,omitempty"`
	OODThreshold           float64       `json:"ood_threshold,omitempty"`
	Centroids              [][]float32   `json:"centroids,omitempty"`
}

// FitRequest is the body of POST /models/{model}/fit.
type FitRequest struct {
	Method  string                 `json:"method,omitempty"`
	Samples []calibrationuc.Sample `json:"samples"`
}

// CentroidsRequest is the body of PUT /models/{model}/centroids.
type CentroidsRequest struct {
	Centroids [][]float32 `json:"centroids"`
	Threshold float64     `json:"threshold,omitempty"`
}

// ModelResponse describes a published calibration version.
type ModelResponse struct {
	ModelID                string        `json:"model_id"`
	Version                string        `json:"version"`
	Modality               string        `json:"modality"`
	Method                 string        `json:"method"`
	Temperature            float64       `json:"temperature,omitempty"`
	Knots                  []domcal.Knot `json:"knots,omitempty"`
	Bounds                 score.Bounds  `json:"bounds"`
	LowConfidenceThreshold float64       `json:"low_confidence_threshold"`
	OODThreshold           float64       `json:"ood_threshold"`
	Centroids              int           `json:"centroids"`
	SampleCount            int           `json:"sample_count"`
	CreatedAt              time.Time     `json:"created_at"`
}

// ModelVersionsResponse lists a model's calibration history, oldest first.
type ModelVersionsResponse struct {
	Versions []ModelResponse `json:"versions"`
}

// DocumentItem is one document in POST /documents.
type DocumentItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceTag string `json:"source_tag,omitempty"`
}

// IngestRequest is the body of POST /documents.
type IngestRequest struct {
	Documents []DocumentItem `json:"documents"`
}

// IngestResponse reports how many documents were indexed.
type IngestResponse struct {
	Indexed int `json:"indexed"`
}

// ReindexRequest is the body of POST /reindex.
type ReindexRequest struct {
	EmbeddingVersion string `json:"embedding_version"`
}

// ReindexResponse reports the new generation.
type ReindexResponse struct {
	Indexed          int    `json:"indexed"`
	EmbeddingVersion string `json:"embedding_version"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string            `json:"status"`
	Checks           map[string]string `json:"checks"`
	IndexDocuments   int               `json:"index_documents"`
	EmbeddingVersion string            `json:"embedding_version,omitempty"`
}

func queryFromRequest(req AskRequest) (query.Query, error) {
	var pred *prediction.Prediction
	if req.Prediction != nil {
		p, err := predictionFromRequest(*req.Prediction)
		if err != nil {
			return query.Query{}, err
		}
		pred = &p
	}
	q, err := query.New(req.Query, pred, req.TopK, req.MinSimilarity, req.ConfidenceThreshold)
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	return q, nil
}

func predictionFromRequest(p PredictionRequest) (prediction.Prediction, error) {
	var ts time.Time
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	pred, err := prediction.New(
		prediction.Modality(p.Modality), p.RawScores, p.PredictedLabel, p.ModelID, p.Embedding, ts,
	)
	if err != nil {
		return prediction.Prediction{}, fmt.Errorf("%w: prediction: %w", domain.ErrInvalidInput, err)
	}
	return pred, nil
}

func answerToResponse(a answer.Answer) AskResponse {
	reasons := make([]string, len(a.FallbackReasons()))
	for i, r := range a.FallbackReasons() {
		reasons[i] = string(r)
	}
	return AskResponse{
		Answer:                a.Text(),
		SupportingDocumentIDs: a.SupportingDocumentIDs(),
		Confidence:            a.Confidence(),
		FallbackUsed:          a.FallbackUsed(),
		FallbackReasons:       reasons,
		State:                 string(a.State()),
		CalibrationVersion:    a.CalibrationVersion(),
	}
}

func paramsFromRequest(modelID string, req ModelRequest) domcal.Params {
	p := domcal.Params{
		ModelID:                modelID,
		Modality:               prediction.Modality(req.Modality),
		Method:                 domcal.Method(req.Method),
		Temperature:            req.Temperature,
		Knots:                  req.Knots,
		LowConfidenceThreshold: req.LowConfidenceThreshold,
		OODThreshold:           req.OODThreshold,
		Centroids:              req.Centroids,
	}
	if req.Bounds != nil {
		p.Bounds = *req.Bounds
	}
	return p
}

func paramsToResponse(p domcal.Params) ModelResponse {
	return ModelResponse{
		ModelID:                p.ModelID,
		Version:                p.Version,
		Modality:               string(p.Modality),
		Method:                 string(p.Method),
		Temperature:            p.Temperature,
		Knots:                  p.Knots,
		Bounds:                 p.Bounds,
		LowConfidenceThreshold: p.LowConfidenceThreshold,
		OODThreshold:           p.OODThreshold,
		Centroids:              len(p.Centroids),
		SampleCount:            p.SampleCount,
		CreatedAt:              p.CreatedAt,
	}
}

func documentsFromRequest(items []DocumentItem) ([]domdoc.Document, error) {
	docs := make([]domdoc.Document, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("%w: documents[%d]: duplicate id %q", domain.ErrInvalidInput, i, item.ID)
		}
		seen[item.ID] = struct{}{}
		d, err := domdoc.New(item.ID, item.Text, item.SourceTag)
		if err != nil {
			return nil, fmt.Errorf("%w: documents[%d]: %w", domain.ErrInvalidInput, i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
