package prediction

import (
	"fmt"
	"math"
	"time"
)

// Modality is the closed set of model output families.
type Modality string

const (
	// Vision is an image classifier.
	Vision Modality = "vision"
	// Audio is an audio classifier.
	Audio Modality = "audio"
	// Medical is a medical-imaging model; a single raw score is an anomaly score.
	Medical Modality = "medical"
	// Tabular is a tabular classifier.
	Tabular Modality = "tabular"
)

// IsValid checks that the modality is one of the known values.
func (m Modality) IsValid() bool {
	switch m {
	case Vision, Audio, Medical, Tabular:
		return true
	}
	return false
}

// Prediction is the raw output of an external predictor (immutable value object).
type Prediction struct {
	modality       Modality
	rawScores      []float64
	predictedLabel string
	modelID        string
	embedding      []float32
	timestamp      time.Time
}

// New validates and creates a Prediction. The embedding is optional and only
// used for the out-of-distribution check.
func New(
	modality Modality, rawScores []float64, predictedLabel, modelID string,
	embedding []float32, timestamp time.Time,
) (Prediction, error) {
	if !modality.IsValid() {
		return Prediction{}, fmt.Errorf("invalid modality %q", modality)
	}
	if modelID == "" {
		return Prediction{}, fmt.Errorf("model_id is required")
	}
	if len(rawScores) == 0 {
		return Prediction{}, fmt.Errorf("raw_scores must not be empty")
	}
	for i, s := range rawScores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Prediction{}, fmt.Errorf("raw_scores[%d] is not finite", i)
		}
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return Prediction{
		modality:       modality,
		rawScores:      append([]float64(nil), rawScores...),
		predictedLabel: predictedLabel,
		modelID:        modelID,
		embedding:      append([]float32(nil), embedding...),
		timestamp:      timestamp,
	}, nil
}

// Modality returns the model output family.
func (p *Prediction) Modality() Modality { return p.modality }

// RawScores returns a copy of the raw model outputs.
func (p *Prediction) RawScores() []float64 { return append([]float64(nil), p.rawScores...) }

// PredictedLabel returns the label the predictor chose.
func (p *Prediction) PredictedLabel() string { return p.predictedLabel }

// ModelID returns the model identifier.
func (p *Prediction) ModelID() string { return p.modelID }

// Embedding returns the predictor-supplied representation (may be empty).
func (p *Prediction) Embedding() []float32 { return p.embedding }

// Timestamp returns when the prediction was made.
func (p *Prediction) Timestamp() time.Time { return p.timestamp }

// Ref returns a stable reference string for reports and logs.
func (p *Prediction) Ref() string {
	return fmt.Sprintf("%s@%d", p.modelID, p.timestamp.UnixNano())
}
