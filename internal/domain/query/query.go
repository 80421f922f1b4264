package query

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
)

// Limits for query fields.
const (
	MaxTextLength = 8192
	MaxTopK       = 100
	DefaultTopK   = 5
)

// Query is an analyst question (immutable value object).
type Query struct {
	text                string
	prediction          *prediction.Prediction
	topK                int
	minSimilarity       float64
	confidenceThreshold float64
}

// New validates and creates a Query.
// topK 0 means DefaultTopK. minSimilarity 0 means the configured retrieval floor.
// confidenceThreshold 0 means the model's registered threshold.
func New(
	text string, pred *prediction.Prediction, topK int, minSimilarity, confidenceThreshold float64,
) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return Query{}, fmt.Errorf("query text is required")
	}
	if len(text) > MaxTextLength {
		return Query{}, fmt.Errorf("query text too long (max %d bytes)", MaxTextLength)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return Query{}, fmt.Errorf("top_k must be between 1 and %d", MaxTopK)
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return Query{}, fmt.Errorf("min_similarity must be in [-1,1]")
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return Query{}, fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	return Query{
		text:                text,
		prediction:          pred,
		topK:                topK,
		minSimilarity:       minSimilarity,
		confidenceThreshold: confidenceThreshold,
	}, nil
}

// Text returns the question text.
func (q Query) Text() string { return q.text }

// Prediction returns the referenced prediction, or nil.
func (q Query) Prediction() *prediction.Prediction { return q.prediction }

// TopK returns the number of documents to retrieve.
func (q Query) TopK() int { return q.topK }

// MinSimilarity returns the similarity floor, 0 when unset.
func (q Query) MinSimilarity() float64 { return q.minSimilarity }

// ConfidenceThreshold returns the per-query low-confidence threshold, 0 when unset.
func (q Query) ConfidenceThreshold() float64 { return q.confidenceThreshold }
