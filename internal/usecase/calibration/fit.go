package calibration

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
	"github.com/kailas-cloud/flowbot/internal/metrics"
)

// Temperature search interval and stopping rule.
const (
	minTemperature  = 0.05
	maxTemperature  = 20.0
	searchTolerance = 1e-6
	maxSearchSteps  = 200
)

var invPhi = (math.Sqrt(5) - 1) / 2

// Sample is one labelled prediction: raw model output and the true class index.
type Sample struct {
	RawScores []float64 `json:"raw_scores"`
	Label     int       `json:"label"`
}

// Fit learns a new calibration version for a registered model from labelled
// samples. method empty keeps the model's current method. On any error the
// active version stays published.
func (e *Engine) Fit(
	ctx context.Context, modelID string, samples []Sample, method domcal.Method,
) (domcal.Params, error) {
	params, err := e.Current(modelID)
	if err != nil {
		return domcal.Params{}, err
	}
	if method == "" {
		method = params.Method
	}
	if !method.IsValid() {
		return domcal.Params{}, fmt.Errorf("%w: invalid calibration method %q", domain.ErrInvalidInput, method)
	}
	if len(samples) < e.cfg.MinSamples {
		metrics.CalibrationFitsTotal.WithLabelValues(string(method), "insufficient_data").Inc()
		return domcal.Params{}, &domain.InsufficientDataError{Have: len(samples), Need: e.cfg.MinSamples}
	}

	dists := make([]score.Distribution, len(samples))
	for i, s := range samples {
		d, err := score.Normalize(s.RawScores, params.Modality, params.Bounds)
		if err != nil {
			return domcal.Params{}, fmt.Errorf("sample %d: %w", i, err)
		}
		if s.Label < 0 || s.Label >= len(d) {
			return domcal.Params{}, fmt.Errorf("%w: sample %d label %d out of range [0,%d)",
				domain.ErrInvalidInput, i, s.Label, len(d))
		}
		dists[i] = d
	}

	params.Method = method
	params.SampleCount = len(samples)
	switch method {
	case domcal.Temperature:
		params.Temperature = fitTemperature(dists, samples)
		params.Knots = nil
	case domcal.Isotonic:
		params.Knots = fitIsotonic(dists, samples)
	}
	if err := params.Validate(); err != nil {
		metrics.CalibrationFitsTotal.WithLabelValues(string(method), "error").Inc()
		return domcal.Params{}, fmt.Errorf("validate fitted calibration: %w", err)
	}

	published, err := e.publish(ctx, params)
	if err != nil {
		metrics.CalibrationFitsTotal.WithLabelValues(string(method), "error").Inc()
		return domcal.Params{}, err
	}
	metrics.CalibrationFitsTotal.WithLabelValues(string(method), "ok").Inc()
	e.logger.Info("Calibration fitted",
		zap.String("model", modelID),
		zap.Int("samples", len(samples)),
		zap.Float64("temperature", published.Temperature),
		zap.Int("knots", len(published.Knots)),
	)
	return published, nil
}

// fitTemperature minimizes the mean negative log-likelihood of
// softmax(log p / T) with a golden-section search over log T.
func fitTemperature(dists []score.Distribution, samples []Sample) float64 {
	logits := make([][]float64, len(dists))
	for i, d := range dists {
		logits[i] = d.LogProbs()
	}
	loss := func(logT float64) float64 { return nll(logits, samples, math.Exp(logT)) }

	a, b := math.Log(minTemperature), math.Log(maxTemperature)
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := loss(c), loss(d)
	for i := 0; i < maxSearchSteps && b-a > searchTolerance; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = loss(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = loss(d)
		}
	}
	return math.Exp((a + b) / 2)
}

func nll(logits [][]float64, samples []Sample, t float64) float64 {
	var total float64
	for i, l := range logits {
		maxV := math.Inf(-1)
		for _, v := range l {
			maxV = math.Max(maxV, v/t)
		}
		var sum float64
		for _, v := range l {
			sum += math.Exp(v/t - maxV)
		}
		total -= l[samples[i].Label]/t - maxV - math.Log(sum)
	}
	return total / float64(len(logits))
}

// fitIsotonic maps top-class probability to empirical accuracy with
// pool-adjacent-violators and returns one knot per pooled block.
func fitIsotonic(dists []score.Distribution, samples []Sample) []domcal.Knot {
	type point struct{ x, y float64 }
	pts := make([]point, len(dists))
	for i, d := range dists {
		top, p := d.Top()
		y := 0.0
		if top == samples[i].Label {
			y = 1
		}
		pts[i] = point{x: p, y: y}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].x < pts[j].x })

	type block struct{ sumX, sumY, n float64 }
	var blocks []block
	for i := 0; i < len(pts); {
		b := block{}
		j := i
		for ; j < len(pts) && pts[j].x == pts[i].x; j++ {
			b.sumX += pts[j].x
			b.sumY += pts[j].y
			b.n++
		}
		i = j
		blocks = append(blocks, b)
		for len(blocks) > 1 {
			last, prev := blocks[len(blocks)-1], blocks[len(blocks)-2]
			if prev.sumY/prev.n <= last.sumY/last.n {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{
				sumX: prev.sumX + last.sumX, sumY: prev.sumY + last.sumY, n: prev.n + last.n,
			})
		}
	}

	knots := make([]domcal.Knot, 0, len(blocks)+1)
	for _, b := range blocks {
		knots = append(knots, domcal.Knot{X: b.sumX / b.n, Y: b.sumY / b.n})
	}
	if len(knots) == 1 {
		y := knots[0].Y
		knots = []domcal.Knot{{X: 0, Y: y}, {X: 1, Y: y}}
	}
	return knots
}
