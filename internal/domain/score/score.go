// Package score turns raw model outputs into a probability distribution.
// Everything here is a pure function of its arguments.
package score

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
)

// SimplexTolerance is the allowed deviation of the sum from 1.
const SimplexTolerance = 1e-6

// Bounds is the expected raw range of a score-only output.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultBounds maps raw anomaly scores already in [0,1].
func DefaultBounds() Bounds { return Bounds{Min: 0, Max: 1} }

// Distribution is a probability distribution over classes.
type Distribution []float64

// Top returns the index and probability of the most likely class.
// Ties resolve to the lowest index.
func (d Distribution) Top() (int, float64) {
	best := 0
	for i := 1; i < len(d); i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	if len(d) == 0 {
		return -1, 0
	}
	return best, d[best]
}

// logFloor keeps log-probabilities finite for zero-probability classes.
const logFloor = 1e-12

// LogProbs returns log d with zero entries floored.
func (d Distribution) LogProbs() []float64 {
	out := make([]float64, len(d))
	for i, p := range d {
		out[i] = math.Log(math.Max(p, logFloor))
	}
	return out
}

// Temper applies temperature scaling to the whole distribution:
// softmax(log d / t). t < 1 sharpens, t > 1 softens, and class order is kept.
func (d Distribution) Temper(t float64) Distribution {
	if t == 1 || len(d) == 0 {
		return append(Distribution(nil), d...)
	}
	logs := d.LogProbs()
	for i := range logs {
		logs[i] /= t
	}
	return Softmax(logs)
}

// Normalize dispatches on modality:
//   - vision, audio, tabular: simplex pass-through, otherwise softmax;
//   - medical with a single score: clamp to bounds, logistic squash, [1-p, p];
//   - medical with several scores: treated as a classifier.
func Normalize(raw []float64, modality prediction.Modality, bounds Bounds) (Distribution, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty scores", domain.ErrInvalidScore)
	}
	for i, s := range raw {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: scores[%d]=%v", domain.ErrInvalidScore, i, s)
		}
	}

	switch modality {
	case prediction.Vision, prediction.Audio, prediction.Tabular:
		return classify(raw), nil
	case prediction.Medical:
		if len(raw) > 1 {
			return classify(raw), nil
		}
		p, err := squash(raw[0], bounds)
		if err != nil {
			return nil, err
		}
		return Distribution{1 - p, p}, nil
	default:
		return nil, fmt.Errorf("%w: unknown modality %q", domain.ErrInvalidInput, modality)
	}
}

// IsSimplex reports whether scores are non-negative and sum to 1 within tolerance.
func IsSimplex(scores []float64) bool {
	sum := 0.0
	for _, s := range scores {
		if s < 0 {
			return false
		}
		sum += s
	}
	return math.Abs(sum-1) <= SimplexTolerance
}

func classify(raw []float64) Distribution {
	if IsSimplex(raw) {
		return append(Distribution(nil), raw...)
	}
	return Softmax(raw)
}

// Softmax is the numerically stable exponential normalization.
func Softmax(raw []float64) Distribution {
	maxV := math.Inf(-1)
	for _, v := range raw {
		maxV = math.Max(maxV, v)
	}
	out := make(Distribution, len(raw))
	sum := 0.0
	for i, v := range raw {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// squashSteepness controls the logistic slope around the midpoint.
const squashSteepness = 10.0

// squash maps a raw score into (0,1): linear rescale within bounds, clamp,
// then a logistic centred at 0.5. Monotone non-decreasing.
func squash(x float64, b Bounds) (float64, error) {
	if !(b.Max > b.Min) {
		return 0, fmt.Errorf("%w: bounds min %v must be below max %v", domain.ErrInvalidInput, b.Min, b.Max)
	}
	t := clamp((x-b.Min)/(b.Max-b.Min), 0, 1)
	return 1 / (1 + math.Exp(-squashSteepness*(t-0.5))), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
