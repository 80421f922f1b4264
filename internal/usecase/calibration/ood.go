package calibration

import (
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/index"
)

// oodDistance is 1 - cosine similarity to the nearest centroid.
// checked is false when there is nothing to compare.
func oodDistance(embedding []float32, centroids [][]float32) (distance float64, checked bool, err error) {
	if len(embedding) == 0 || len(centroids) == 0 {
		return 0, false, nil
	}
	best := -1.0
	for _, c := range centroids {
		if len(c) != len(embedding) {
			return 0, false, domain.NewDimensionMismatch(len(c), len(embedding))
		}
		if s := index.Cosine(embedding, c); s > best {
			best = s
		}
	}
	return 1 - best, true, nil
}
