package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ask, calibration and index metrics.
var (
	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "ask_total",
			Help:      "Orchestrator runs by terminal state and whether a fallback was used",
		},
		[]string{"state", "fallback"},
	)

	AskFallbackReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "ask_fallback_reasons_total",
			Help:      "Fallback reasons attached to assembled answers",
		},
		[]string{"reason"},
	)

	AskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowbot",
			Name:      "ask_duration_seconds",
			Help:      "End-to-end orchestrator run duration",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"state"},
	)

	RetrievalDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that returned empty after exhausting embedding retries",
		},
	)

	CalibrationFitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "calibration_fits_total",
			Help:      "Calibration fits by method and outcome",
		},
		[]string{"method", "status"},
	)

	CalibrationFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "calibration_flags_total",
			Help:      "Calibrated predictions flagged as low confidence or out of distribution",
		},
		[]string{"model", "flag"},
	)

	IndexDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowbot",
			Name:      "index_documents",
			Help:      "Documents in the active index generation",
		},
	)

	IndexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "index_rebuilds_total",
			Help:      "Index generation swaps",
		},
		[]string{"status"},
	)
)

var analysisMetricsRegistered bool

// RegisterAnalysisMetrics registers ask, calibration and index metrics. Must be called once from main.
func RegisterAnalysisMetrics() {
	if analysisMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		AskTotal,
		AskFallbackReasonsTotal,
		AskDuration,
		RetrievalDegradedTotal,
		CalibrationFitsTotal,
		CalibrationFlagsTotal,
		IndexDocuments,
		IndexRebuildsTotal,
	)
	analysisMetricsRegistered = true
}
