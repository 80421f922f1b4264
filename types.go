package flowbot

import (
	"context"
	"time"
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single call.
// Optional: when the Embedder also implements it, ingest and reindex use it.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Generator produces answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (GenerationResult, error)
}

// Prompt is the input to a Generator.
type Prompt struct {
	System string
	User   string
}

// GenerationResult carries the generated text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Modality is the output family of a predictor.
type Modality string

const (
	Vision  Modality = "vision"
	Audio   Modality = "audio"
	Medical Modality = "medical"
	Tabular Modality = "tabular"
)

// Prediction is a predictor output referenced by a question.
type Prediction struct {
	Modality       Modality
	RawScores      []float64
	PredictedLabel string
	ModelID        string
	Embedding      []float32 // optional, enables the out-of-distribution check
	Timestamp      time.Time // zero means now
}

// Question is an analyst question. Zero TopK, MinSimilarity and
// ConfidenceThreshold take the configured defaults.
type Question struct {
	Text                string
	Prediction          *Prediction
	TopK                int
	MinSimilarity       float64
	ConfidenceThreshold float64
}

// Answer is the assembled response.
type Answer struct {
	Text                  string
	SupportingDocumentIDs []string
	Confidence            *float64 // nil when the question referenced no prediction
	FallbackUsed          bool
	FallbackReasons       []string
	CalibrationVersion    string
}

// Document is a unit of supporting text.
type Document struct {
	ID        string
	Text      string
	SourceTag string
}

// CalibrationMethod selects the calibration transform.
type CalibrationMethod string

const (
	MethodTemperature CalibrationMethod = "temperature"
	MethodIsotonic    CalibrationMethod = "isotonic"
)

// Knot is one point of an isotonic calibration curve.
type Knot struct {
	X float64
	Y float64
}

// ScoreBounds maps raw scores of unbounded modalities into [0,1].
type ScoreBounds struct {
	Min float64
	Max float64
}

// ModelParams is one calibration version of a model. Zero fields take the
// configured defaults on RegisterModel; Version and CreatedAt are assigned.
type ModelParams struct {
	ModelID                string
	Version                string
	Modality               Modality
	Method                 CalibrationMethod
	Temperature            float64
	Knots                  []Knot
	Bounds                 ScoreBounds
	LowConfidenceThreshold float64
	OODThreshold           float64
	Centroids              [][]float32
	SampleCount            int
	CreatedAt              time.Time
}

// Sample is one labelled prediction used to fit calibration.
type Sample struct {
	RawScores []float64
	Label     int
}
