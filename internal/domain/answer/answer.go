package answer

// State is an orchestrator run state.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateScoring    State = "SCORING"
	StateRetrieving State = "RETRIEVING"
	StateGenerating State = "GENERATING"
	StateAssembled  State = "ASSEMBLED"
	StateFailed     State = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateAssembled || s == StateFailed
}

// FallbackReason explains why an answer was hedged.
type FallbackReason string

const (
	ReasonLowConfidence     FallbackReason = "low_confidence"
	ReasonOutOfDistribution FallbackReason = "out_of_distribution"
	ReasonEmptyRetrieval    FallbackReason = "empty_retrieval"
)

// Answer is the assembled response to a query (immutable value object).
type Answer struct {
	text                  string
	supportingDocumentIDs []string
	confidence            *float64
	fallbackReasons       []FallbackReason
	state                 State
	calibrationVersion    string
}

// New creates an assembled Answer. A nil confidence means no prediction was referenced.
func New(text string, docIDs []string, confidence *float64, reasons []FallbackReason, calibrationVersion string) Answer {
	var conf *float64
	if confidence != nil {
		c := *confidence
		conf = &c
	}
	return Answer{
		text:                  text,
		supportingDocumentIDs: append([]string{}, docIDs...),
		confidence:            conf,
		fallbackReasons:       append([]FallbackReason(nil), reasons...),
		state:                 StateAssembled,
		calibrationVersion:    calibrationVersion,
	}
}

// Text returns the generated answer text.
func (a Answer) Text() string { return a.text }

// SupportingDocumentIDs returns document ids in retrieval rank order.
func (a Answer) SupportingDocumentIDs() []string { return a.supportingDocumentIDs }

// Confidence returns the calibrated confidence, or nil when not applicable.
func (a Answer) Confidence() *float64 { return a.confidence }

// FallbackUsed reports whether the answer was hedged.
func (a Answer) FallbackUsed() bool { return len(a.fallbackReasons) > 0 }

// FallbackReasons lists why the answer was hedged.
func (a Answer) FallbackReasons() []FallbackReason { return a.fallbackReasons }

// State returns the terminal run state.
func (a Answer) State() State { return a.state }

// CalibrationVersion returns the calibration version used, empty when none.
func (a Answer) CalibrationVersion() string { return a.calibrationVersion }
