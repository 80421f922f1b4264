// Package calibration holds versioned per-model calibration parameters and
// the monotone transforms they describe.
package calibration

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
)

// Method selects the calibration transform.
type Method string

const (
	// Temperature rescales the distribution as softmax(log p / T).
	Temperature Method = "temperature"
	// Isotonic interpolates over non-decreasing knots.
	Isotonic Method = "isotonic"
)

// IsValid checks if the method is supported.
func (m Method) IsValid() bool {
	return m == Temperature || m == Isotonic
}

// Default thresholds used when a registration leaves them zero.
const (
	DefaultLowConfidenceThreshold = 0.5
	DefaultOODThreshold           = 0.35
)

// Knot is one point of an isotonic calibration curve.
type Knot struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Params is one immutable calibration version of a model.
type Params struct {
	ModelID                string              `json:"model_id"`
	Version                string              `json:"version"`
	Modality               prediction.Modality `json:"modality"`
	Method                 Method              `json:"method"`
	Temperature            float64             `json:"temperature"`
	Knots                  []Knot              `json:"knots,omitempty"`
	Bounds                 score.Bounds        `json:"bounds"`
	LowConfidenceThreshold float64             `json:"low_confidence_threshold"`
	OODThreshold           float64             `json:"ood_threshold"`
	Centroids              [][]float32         `json:"centroids,omitempty"`
	SampleCount            int                 `json:"sample_count"`
	CreatedAt              time.Time           `json:"created_at"`
}

// ApplyDefaults fills zero-valued fields.
func (p *Params) ApplyDefaults() {
	if p.Method == "" {
		p.Method = Temperature
	}
	if p.Method == Temperature && p.Temperature == 0 {
		p.Temperature = 1
	}
	if p.Bounds == (score.Bounds{}) {
		p.Bounds = score.DefaultBounds()
	}
	if p.LowConfidenceThreshold == 0 {
		p.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	if p.OODThreshold == 0 {
		p.OODThreshold = DefaultOODThreshold
	}
}

// Validate checks the parameters describe a usable monotone transform.
func (p *Params) Validate() error {
	if p.ModelID == "" {
		return fmt.Errorf("%w: model id is required", domain.ErrInvalidInput)
	}
	if !p.Modality.IsValid() {
		return fmt.Errorf("%w: invalid modality %q", domain.ErrInvalidInput, p.Modality)
	}
	if !p.Method.IsValid() {
		return fmt.Errorf("%w: invalid calibration method %q", domain.ErrInvalidInput, p.Method)
	}
	switch p.Method {
	case Temperature:
		if !(p.Temperature > 0) || math.IsInf(p.Temperature, 0) {
			return fmt.Errorf("%w: temperature must be positive and finite", domain.ErrInvalidInput)
		}
	case Isotonic:
		if err := validateKnots(p.Knots); err != nil {
			return err
		}
	}
	if !(p.Bounds.Max > p.Bounds.Min) {
		return fmt.Errorf("%w: bounds min must be below max", domain.ErrInvalidInput)
	}
	if p.LowConfidenceThreshold < 0 || p.LowConfidenceThreshold > 1 {
		return fmt.Errorf("%w: low confidence threshold must be in [0,1]", domain.ErrInvalidInput)
	}
	if p.OODThreshold < 0 || p.OODThreshold > 2 {
		return fmt.Errorf("%w: ood threshold must be in [0,2]", domain.ErrInvalidInput)
	}
	return validateCentroids(p.Centroids)
}

func validateKnots(knots []Knot) error {
	if len(knots) < 2 {
		return fmt.Errorf("%w: isotonic calibration needs at least 2 knots", domain.ErrInvalidInput)
	}
	for i, k := range knots {
		if k.X < 0 || k.X > 1 || k.Y < 0 || k.Y > 1 {
			return fmt.Errorf("%w: knot %d outside [0,1]", domain.ErrInvalidInput, i)
		}
		if i > 0 && (k.X <= knots[i-1].X || k.Y < knots[i-1].Y) {
			return fmt.Errorf("%w: knots must have increasing x and non-decreasing y", domain.ErrInvalidInput)
		}
	}
	return nil
}

func validateCentroids(centroids [][]float32) error {
	if len(centroids) == 0 {
		return nil
	}
	dim := len(centroids[0])
	for i, c := range centroids {
		if len(c) == 0 {
			return fmt.Errorf("%w: centroid %d is empty", domain.ErrInvalidInput, i)
		}
		if len(c) != dim {
			return fmt.Errorf("centroid %d: %w", i, domain.NewDimensionMismatch(dim, len(c)))
		}
	}
	return nil
}

// Apply calibrates a normalized distribution and returns the top class with
// its calibrated probability. Temperature scales the whole distribution
// before the top class is read; isotonic maps the top probability through
// the knots.
func (p *Params) Apply(dist score.Distribution) (int, float64) {
	switch p.Method {
	case Isotonic:
		top, prob := dist.Top()
		return top, interpolate(p.Knots, clamp01(prob))
	default:
		top, prob := dist.Temper(p.Temperature).Top()
		return top, clamp01(prob)
	}
}

func interpolate(knots []Knot, x float64) float64 {
	if len(knots) == 0 {
		return x
	}
	if x <= knots[0].X {
		return knots[0].Y
	}
	last := knots[len(knots)-1]
	if x >= last.X {
		return last.Y
	}
	i := sort.Search(len(knots), func(i int) bool { return knots[i].X >= x })
	lo, hi := knots[i-1], knots[i]
	t := (x - lo.X) / (hi.X - lo.X)
	return lo.Y + t*(hi.Y-lo.Y)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
