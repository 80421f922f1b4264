package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
)

func validParams() Params {
	p := Params{ModelID: "mri-v1", Modality: prediction.Medical}
	p.ApplyDefaults()
	return p
}

func TestApplyDefaults(t *testing.T) {
	p := validParams()
	if p.Method != Temperature || p.Temperature != 1 {
		t.Errorf("defaults: method=%q temperature=%v", p.Method, p.Temperature)
	}
	if p.LowConfidenceThreshold != DefaultLowConfidenceThreshold {
		t.Errorf("low confidence threshold = %v", p.LowConfidenceThreshold)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestApply_IdentityTemperature(t *testing.T) {
	p := validParams()
	top, got := p.Apply(score.Distribution{0.08, 0.92})
	if top != 1 || got != 0.92 {
		t.Errorf("T=1 must be identity, got top=%d p=%v", top, got)
	}
}

func TestApply_Monotone(t *testing.T) {
	cases := []Params{
		{Method: Temperature, Temperature: 0.3},
		{Method: Temperature, Temperature: 1},
		{Method: Temperature, Temperature: 4.5},
		{Method: Isotonic, Knots: []Knot{{0, 0}, {0.3, 0.1}, {0.6, 0.1}, {1, 0.95}}},
	}
	for _, p := range cases {
		prev := -1.0
		for i := 334; i <= 1000; i++ {
			x := float64(i) / 1000
			rest := (1 - x) / 2
			_, got := p.Apply(score.Distribution{x, rest, rest})
			if got < prev-1e-12 {
				t.Fatalf("%s T=%v not monotone at %v: %v < %v", p.Method, p.Temperature, x, got, prev)
			}
			if got < 0 || got > 1 {
				t.Fatalf("output %v outside [0,1]", got)
			}
			prev = got
		}
	}
}

func TestApply_TemperatureScalesWholeDistribution(t *testing.T) {
	dist := score.Distribution{0.5, 0.25, 0.25}
	tests := []struct {
		temperature float64
		want        float64
	}{
		// 0.5^3 / (0.5^3 + 2*0.25^3)
		{1.0 / 3, 0.8},
		{1, 0.5},
		// sqrt(0.5) / (sqrt(0.5) + 2*sqrt(0.25))
		{2, math.Sqrt(0.5) / (math.Sqrt(0.5) + 1)},
	}
	for _, tt := range tests {
		p := Params{Method: Temperature, Temperature: tt.temperature}
		top, got := p.Apply(dist)
		if top != 0 {
			t.Errorf("T=%v: top = %d, temperature must keep class order", tt.temperature, top)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("T=%v: calibrated = %v, want %v", tt.temperature, got, tt.want)
		}
	}
}

func TestApply_BinaryMatchesLogitScaling(t *testing.T) {
	p := Params{Method: Temperature, Temperature: 2}
	_, got := p.Apply(score.Distribution{0.2, 0.8})
	want := 1 / (1 + math.Exp(-math.Log(0.8/0.2)/2))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("binary calibrated = %v, want sigmoid(logit/T) = %v", got, want)
	}
}

func TestApply_IsotonicInterpolates(t *testing.T) {
	p := Params{Method: Isotonic, Knots: []Knot{{0.2, 0.1}, {0.8, 0.7}}}
	tests := []struct {
		dist score.Distribution
		want float64
	}{
		{score.Distribution{0.5, 0.5}, 0.4},
		{score.Distribution{0.1, 0.9}, 0.7},
		{score.Distribution{0.1, 0.1, 0.1, 0.7}, 0.6},
	}
	for _, tt := range tests {
		if _, got := p.Apply(tt.dist); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Apply(%v) = %v, want %v", tt.dist, got, tt.want)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		target error
	}{
		{"no model", func(p *Params) { p.ModelID = "" }, domain.ErrInvalidInput},
		{"bad modality", func(p *Params) { p.Modality = "lidar" }, domain.ErrInvalidInput},
		{"zero temperature", func(p *Params) { p.Temperature = 0 }, domain.ErrInvalidInput},
		{"negative temperature", func(p *Params) { p.Temperature = -1 }, domain.ErrInvalidInput},
		{"non monotone knots", func(p *Params) {
			p.Method = Isotonic
			p.Knots = []Knot{{0, 0.5}, {1, 0.2}}
		}, domain.ErrInvalidInput},
		{"ragged centroids", func(p *Params) {
			p.Centroids = [][]float32{{1, 0}, {1, 0, 0}}
		}, domain.ErrVectorDimMismatch},
		{"threshold above one", func(p *Params) { p.LowConfidenceThreshold = 1.5 }, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}
