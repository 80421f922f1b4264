package score

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
)

func TestNormalize_SimplexPassThrough(t *testing.T) {
	in := []float64{0.92, 0.08}
	got, err := Normalize(in, prediction.Medical, DefaultBounds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Distribution{0.92, 0.08}, got); diff != "" {
		t.Errorf("distribution mismatch (-want +got):\n%s", diff)
	}
	in[0] = 0
	if got[0] != 0.92 {
		t.Error("result must not alias the input")
	}
}

func TestNormalize_SoftmaxLogits(t *testing.T) {
	got, err := Normalize([]float64{2, 1, 0}, prediction.Vision, DefaultBounds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsSimplex(got) {
		t.Fatalf("softmax output is not a simplex: %v", got)
	}
	if idx, _ := got.Top(); idx != 0 {
		t.Errorf("expected class 0 on top, got %d", idx)
	}
	want := math.Exp(2) / (math.Exp(2) + math.Exp(1) + 1)
	if math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("softmax[0] = %v, want %v", got[0], want)
	}
}

func TestNormalize_SoftmaxLargeLogitsStable(t *testing.T) {
	got, err := Normalize([]float64{1000, 999}, prediction.Audio, DefaultBounds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range got {
		if math.IsNaN(p) {
			t.Fatalf("overflow produced NaN: %v", got)
		}
	}
}

func TestNormalize_MedicalAnomalyScore(t *testing.T) {
	b := Bounds{Min: 0, Max: 10}
	low, _ := Normalize([]float64{1}, prediction.Medical, b)
	high, _ := Normalize([]float64{9}, prediction.Medical, b)
	over, _ := Normalize([]float64{25}, prediction.Medical, b)
	atMax, _ := Normalize([]float64{10}, prediction.Medical, b)
	mid, _ := Normalize([]float64{5}, prediction.Medical, b)

	if !(low[1] < high[1]) {
		t.Errorf("squash must be monotone: %v vs %v", low, high)
	}
	if over[1] != atMax[1] {
		t.Errorf("scores above max clamp to the max, got %v vs %v", over[1], atMax[1])
	}
	if math.Abs(mid[1]-0.5) > 1e-12 {
		t.Errorf("midpoint must squash to 0.5, got %v", mid[1])
	}
	if !IsSimplex(high) {
		t.Errorf("medical output must be a simplex: %v", high)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []struct {
		raw      []float64
		modality prediction.Modality
	}{
		{[]float64{0.7, 0.2, 0.1}, prediction.Vision},
		{[]float64{3, -1, 0.5}, prediction.Tabular},
		{[]float64{0.4}, prediction.Medical},
		{[]float64{1}, prediction.Audio},
	}
	for _, in := range inputs {
		once, err := Normalize(in.raw, in.modality, DefaultBounds())
		if err != nil {
			t.Fatalf("normalize %v: %v", in.raw, err)
		}
		twice, err := Normalize(once, in.modality, DefaultBounds())
		if err != nil {
			t.Fatalf("normalize twice %v: %v", once, err)
		}
		if diff := cmp.Diff(once, twice, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("not idempotent for %v (-once +twice):\n%s", in.raw, diff)
		}
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    []float64
		bounds Bounds
		target error
	}{
		{"empty", nil, DefaultBounds(), domain.ErrInvalidScore},
		{"nan", []float64{math.NaN(), 1}, DefaultBounds(), domain.ErrInvalidScore},
		{"inf", []float64{math.Inf(-1)}, DefaultBounds(), domain.ErrInvalidScore},
		{"inverted bounds", []float64{0.5}, Bounds{Min: 1, Max: 0}, domain.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.raw, prediction.Medical, tc.bounds)
			if !errors.Is(err, tc.target) {
				t.Errorf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestDistribution_Temper(t *testing.T) {
	d := Distribution{0.5, 0.25, 0.25}

	if got := d.Temper(1); !slices.Equal(got, d) {
		t.Errorf("T=1 must be identity, got %v", got)
	}
	sharp := d.Temper(0.5)
	if idx, p := sharp.Top(); idx != 0 || math.Abs(p-0.25/(0.25+2*0.0625)) > 1e-12 {
		t.Errorf("T=0.5: top=%d p=%v", idx, p)
	}
	if !IsSimplex(sharp) {
		t.Errorf("tempered distribution must stay a simplex: %v", sharp)
	}
	if _, p := d.Temper(10).Top(); !(p < 0.5 && p > 1.0/3) {
		t.Errorf("T=10 must soften towards uniform, got %v", p)
	}
	if got := (Distribution{1, 0}).Temper(2); math.IsNaN(got[1]) || got[0] < 0.999 {
		t.Errorf("zero class must stay finite: %v", got)
	}
}
