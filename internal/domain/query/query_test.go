package query

import (
	"strings"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	q, err := New("is there an anomaly?", nil, 0, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TopK() != DefaultTopK {
		t.Errorf("TopK() = %d, want %d", q.TopK(), DefaultTopK)
	}
	if q.Prediction() != nil {
		t.Error("Prediction() should be nil")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		topK      int
		minSim    float64
		threshold float64
	}{
		{"blank text", "   ", 1, 0, 0},
		{"long text", strings.Repeat("q", MaxTextLength+1), 1, 0, 0},
		{"negative top k", "q", -1, 0, 0},
		{"top k too large", "q", MaxTopK + 1, 0, 0},
		{"similarity above one", "q", 1, 1.5, 0},
		{"threshold above one", "q", 1, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.text, nil, tt.topK, tt.minSim, tt.threshold); err == nil {
				t.Error("expected error")
			}
		})
	}
}
