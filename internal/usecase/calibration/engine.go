// Package calibration maps raw predictions to calibrated confidence reports
// and manages per-model calibration versions.
package calibration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	"github.com/kailas-cloud/flowbot/internal/domain/confidence"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
	"github.com/kailas-cloud/flowbot/internal/metrics"
)

// DefaultMinSamples is the smallest labelled set Fit accepts.
const DefaultMinSamples = 30

// Config holds engine defaults.
type Config struct {
	MinSamples             int
	LowConfidenceThreshold float64
	OODThreshold           float64
}

// registry is an immutable snapshot of the active version per model.
type registry map[string]domcal.Params

// Engine calibrates predictions against the active version of each model.
// Reads load the registry pointer without locking; writers persist first and
// then publish a modified copy.
type Engine struct {
	repo   Repository
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[registry]
}

// New creates an engine with an empty registry. Call Load to hydrate it.
func New(repo Repository, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = domcal.DefaultLowConfidenceThreshold
	}
	if cfg.OODThreshold <= 0 {
		cfg.OODThreshold = domcal.DefaultOODThreshold
	}
	e := &Engine{repo: repo, cfg: cfg, logger: logger, now: time.Now}
	empty := registry{}
	e.current.Store(&empty)
	return e
}

// Load replaces the registry with the persisted active versions.
func (e *Engine) Load(ctx context.Context) error {
	all, err := e.repo.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load calibration versions: %w", err)
	}
	reg := make(registry, len(all))
	for _, p := range all {
		reg[p.ModelID] = p
	}
	e.writeMu.Lock()
	e.current.Store(&reg)
	e.writeMu.Unlock()
	e.logger.Info("Calibration registry loaded", zap.Int("models", len(reg)))
	return nil
}

// Register stores params as a new version of the model. Zero fields take
// the engine defaults.
func (e *Engine) Register(ctx context.Context, params domcal.Params) (domcal.Params, error) {
	if params.LowConfidenceThreshold == 0 {
		params.LowConfidenceThreshold = e.cfg.LowConfidenceThreshold
	}
	if params.OODThreshold == 0 {
		params.OODThreshold = e.cfg.OODThreshold
	}
	params.ApplyDefaults()
	params.Knots = append([]domcal.Knot(nil), params.Knots...)
	params.Centroids = cloneCentroids(params.Centroids)
	if err := params.Validate(); err != nil {
		return domcal.Params{}, fmt.Errorf("validate calibration: %w", err)
	}
	return e.publish(ctx, params)
}

// Current returns the active version of a model.
func (e *Engine) Current(modelID string) (domcal.Params, error) {
	p, ok := (*e.current.Load())[modelID]
	if !ok {
		return domcal.Params{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}
	return p, nil
}

// Versions returns every persisted version of a model, oldest first.
// The last entry is the one Current serves.
func (e *Engine) Versions(ctx context.Context, modelID string) ([]domcal.Params, error) {
	history, err := e.repo.Versions(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("calibration history: %w", err)
	}
	return history, nil
}

// Models lists registered model ids in order.
func (e *Engine) Models() []string {
	reg := *e.current.Load()
	out := make([]string, 0, len(reg))
	for id := range reg {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Calibrate normalizes the prediction's raw scores and builds a report.
// threshold overrides the registered low-confidence threshold when > 0.
func (e *Engine) Calibrate(_ context.Context, pred prediction.Prediction, threshold float64) (confidence.Report, error) {
	params, err := e.Current(pred.ModelID())
	if err != nil {
		return confidence.Report{}, err
	}
	if pred.Modality() != params.Modality {
		return confidence.Report{}, fmt.Errorf("%w: model %s expects %s predictions, got %s",
			domain.ErrInvalidInput, params.ModelID, params.Modality, pred.Modality())
	}
	dist, err := score.Normalize(pred.RawScores(), pred.Modality(), params.Bounds)
	if err != nil {
		return confidence.Report{}, fmt.Errorf("normalize scores: %w", err)
	}
	return e.report(params, pred.Ref(), dist, pred.Embedding(), threshold)
}

// CalibrateDistribution calibrates an already normalized distribution.
func (e *Engine) CalibrateDistribution(
	modelID string, dist score.Distribution, threshold float64,
) (confidence.Report, error) {
	params, err := e.Current(modelID)
	if err != nil {
		return confidence.Report{}, err
	}
	if !score.IsSimplex(dist) {
		return confidence.Report{}, fmt.Errorf("%w: distribution must sum to 1", domain.ErrInvalidScore)
	}
	return e.report(params, "", dist, nil, threshold)
}

func (e *Engine) report(
	params domcal.Params, ref string, dist score.Distribution, embedding []float32, threshold float64,
) (confidence.Report, error) {
	if threshold <= 0 {
		threshold = params.LowConfidenceThreshold
	}
	top, calibrated := params.Apply(dist)

	distance, checked, err := oodDistance(embedding, params.Centroids)
	if err != nil {
		return confidence.Report{}, fmt.Errorf("ood check: %w", err)
	}
	rep := confidence.New(confidence.Fields{
		PredictionRef:        ref,
		CalibratedConfidence: calibrated,
		IsLowConfidence:      calibrated < threshold,
		IsOutOfDistribution:  checked && distance > params.OODThreshold,
		OODDistance:          distance,
		OODChecked:           checked,
		CalibrationVersion:   params.Version,
		TopLabelIndex:        top,
	})
	if rep.IsLowConfidence() {
		metrics.CalibrationFlagsTotal.WithLabelValues(params.ModelID, "low_confidence").Inc()
	}
	if rep.IsOutOfDistribution() {
		metrics.CalibrationFlagsTotal.WithLabelValues(params.ModelID, "out_of_distribution").Inc()
	}
	return rep, nil
}

// SetCentroids publishes a new version with replaced OOD clusters.
// threshold keeps the current one when zero.
func (e *Engine) SetCentroids(
	ctx context.Context, modelID string, centroids [][]float32, threshold float64,
) (domcal.Params, error) {
	params, err := e.Current(modelID)
	if err != nil {
		return domcal.Params{}, err
	}
	params.Centroids = cloneCentroids(centroids)
	if threshold > 0 {
		params.OODThreshold = threshold
	}
	if err := params.Validate(); err != nil {
		return domcal.Params{}, fmt.Errorf("validate centroids: %w", err)
	}
	return e.publish(ctx, params)
}

// publish assigns a fresh version, persists it and swaps the registry.
// The registry is untouched when persisting fails.
func (e *Engine) publish(ctx context.Context, params domcal.Params) (domcal.Params, error) {
	params.Version = uuid.NewString()
	params.CreatedAt = e.now().UTC()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.repo.Save(ctx, params); err != nil {
		return domcal.Params{}, fmt.Errorf("save calibration: %w", err)
	}
	old := *e.current.Load()
	next := make(registry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[params.ModelID] = params
	e.current.Store(&next)

	e.logger.Info("Calibration version published",
		zap.String("model", params.ModelID),
		zap.String("version", params.Version),
		zap.String("method", string(params.Method)),
	)
	return params, nil
}

func cloneCentroids(in [][]float32) [][]float32 {
	if in == nil {
		return nil
	}
	out := make([][]float32, len(in))
	for i, c := range in {
		out[i] = append([]float32(nil), c...)
	}
	return out
}
