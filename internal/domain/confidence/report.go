package confidence

// Report is the calibrated verdict for one prediction (immutable value object).
// Recalibration produces a new Report.
type Report struct {
	predictionRef        string
	calibratedConfidence float64
	isLowConfidence      bool
	isOutOfDistribution  bool
	oodDistance          float64
	oodChecked           bool
	calibrationVersion   string
	topLabelIndex        int
}

// Fields groups Report inputs for New.
type Fields struct {
	PredictionRef        string
	CalibratedConfidence float64
	IsLowConfidence      bool
	IsOutOfDistribution  bool
	OODDistance          float64
	OODChecked           bool
	CalibrationVersion   string
	TopLabelIndex        int
}

// New creates a Report.
func New(f Fields) Report {
	return Report{
		predictionRef:        f.PredictionRef,
		calibratedConfidence: f.CalibratedConfidence,
		isLowConfidence:      f.IsLowConfidence,
		isOutOfDistribution:  f.IsOutOfDistribution,
		oodDistance:          f.OODDistance,
		oodChecked:           f.OODChecked,
		calibrationVersion:   f.CalibrationVersion,
		topLabelIndex:        f.TopLabelIndex,
	}
}

// PredictionRef identifies the prediction this report was computed for.
func (r Report) PredictionRef() string { return r.predictionRef }

// CalibratedConfidence is the calibrated top-class probability in [0,1].
func (r Report) CalibratedConfidence() float64 { return r.calibratedConfidence }

// IsLowConfidence reports whether confidence fell below the threshold.
func (r Report) IsLowConfidence() bool { return r.isLowConfidence }

// IsOutOfDistribution reports whether the prediction embedding was far from every centroid.
func (r Report) IsOutOfDistribution() bool { return r.isOutOfDistribution }

// OODDistance is 1 - cosine similarity to the nearest centroid.
// Zero when OODChecked is false.
func (r Report) OODDistance() float64 { return r.oodDistance }

// OODChecked is false when the prediction had no embedding or the model no centroids.
func (r Report) OODChecked() bool { return r.oodChecked }

// CalibrationVersion is the parameter version used.
func (r Report) CalibrationVersion() string { return r.calibrationVersion }

// TopLabelIndex is the index of the most likely class in the normalized distribution.
func (r Report) TopLabelIndex() int { return r.topLabelIndex }
