// Package orchestrator answers analyst questions: it scores the referenced
// prediction, retrieves supporting documents and generates a grounded answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/answer"
	"github.com/kailas-cloud/flowbot/internal/domain/confidence"
	"github.com/kailas-cloud/flowbot/internal/domain/query"
	logpkg "github.com/kailas-cloud/flowbot/internal/logger"
	"github.com/kailas-cloud/flowbot/internal/metrics"
)

// Config tunes the orchestrator.
type Config struct {
	GenerationTimeout time.Duration
	ExcerptChars      int
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{GenerationTimeout: 30 * time.Second, ExcerptChars: 800}
}

// Service runs the RECEIVED -> SCORING -> RETRIEVING -> GENERATING -> ASSEMBLED
// state machine. Any error moves the run to FAILED.
type Service struct {
	calibrator Calibrator
	retriever  Retriever
	generator  domain.Generator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an orchestrator.
func New(calibrator Calibrator, retriever Retriever, generator domain.Generator, cfg Config, logger *zap.Logger) *Service {
	d := DefaultConfig()
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = d.GenerationTimeout
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = d.ExcerptChars
	}
	return &Service{
		calibrator: calibrator, retriever: retriever, generator: generator,
		cfg: cfg, logger: logger, now: time.Now,
	}
}

// Ask answers q.
func (s *Service) Ask(ctx context.Context, q query.Query) (answer.Answer, error) {
	r := newRun(s.now)
	var (
		report   *confidence.Report
		reasons  []answer.FallbackReason
		degraded bool
		hitIDs   []string
	)

	ans, err := func() (answer.Answer, error) {
		if strings.TrimSpace(q.Text()) == "" || q.TopK() <= 0 {
			return answer.Answer{}, fmt.Errorf("%w: text and top_k are required", domain.ErrInvalidQuery)
		}

		if pred := q.Prediction(); pred != nil {
			r.to(answer.StateScoring)
			rep, err := s.calibrator.Calibrate(ctx, *pred, q.ConfidenceThreshold())
			if err != nil {
				return answer.Answer{}, fmt.Errorf("score prediction: %w", err)
			}
			report = &rep
			if rep.IsLowConfidence() {
				reasons = append(reasons, answer.ReasonLowConfidence)
			}
			if rep.IsOutOfDistribution() {
				reasons = append(reasons, answer.ReasonOutOfDistribution)
			}
		}

		r.to(answer.StateRetrieving)
		res, err := s.retriever.Retrieve(ctx, q.Text(), q.TopK(), q.MinSimilarity())
		if err != nil {
			return answer.Answer{}, fmt.Errorf("retrieve: %w", err)
		}
		degraded = res.Degraded
		if len(res.Hits) == 0 {
			reasons = append(reasons, answer.ReasonEmptyRetrieval)
		}
		hitIDs = make([]string, len(res.Hits))
		for i, h := range res.Hits {
			hitIDs[i] = h.Document.ID()
		}

		r.to(answer.StateGenerating)
		prompt := buildPrompt(promptInput{
			question:     q.Text(),
			hits:         res.Hits,
			pred:         q.Prediction(),
			report:       report,
			reasons:      reasons,
			excerptChars: s.cfg.ExcerptChars,
		})
		gen, err := s.generate(ctx, prompt)
		if err != nil {
			return answer.Answer{}, err
		}

		var conf *float64
		version := ""
		if report != nil {
			c := report.CalibratedConfidence()
			conf = &c
			version = report.CalibrationVersion()
		}
		r.to(answer.StateAssembled)
		return answer.New(gen.Text, hitIDs, conf, reasons, version), nil
	}()

	if err != nil {
		r.to(answer.StateFailed)
	}
	s.observe(ctx, r, reasons, degraded, len(hitIDs), err)
	return ans, err
}

// generate calls the backend once, bounded by the generation timeout.
func (s *Service) generate(ctx context.Context, prompt domain.Prompt) (domain.GenerationResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	res, err := s.generator.Generate(genCtx, prompt)
	if err == nil {
		return res, nil
	}
	if ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrBackendTimeout) {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w: %w", domain.ErrBackendTimeout, err)
	}
	return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
}

// observe emits the canonical log line and metrics of one run. The line goes
// to the request-scoped logger when the transport attached one.
func (s *Service) observe(
	ctx context.Context, r *run, reasons []answer.FallbackReason, degraded bool, hits int, err error,
) {
	fallback := len(reasons) > 0
	metrics.AskTotal.WithLabelValues(string(r.state), strconv.FormatBool(fallback)).Inc()
	metrics.AskDuration.WithLabelValues(string(r.state)).Observe(r.elapsed().Seconds())
	for _, reason := range reasons {
		metrics.AskFallbackReasonsTotal.WithLabelValues(string(reason)).Inc()
	}

	names := make([]string, len(reasons))
	for i, reason := range reasons {
		names[i] = string(reason)
	}
	fields := []zap.Field{
		zap.String("state", string(r.state)),
		zap.String("path", r.path()),
		zap.Duration("duration", r.elapsed()),
		zap.Int("hits", hits),
		zap.Bool("fallback", fallback),
		zap.Strings("fallback_reasons", names),
		zap.Bool("retrieval_degraded", degraded),
	}
	log := logpkg.FromContext(ctx, s.logger)
	if err != nil {
		log.Warn("ask", append(fields, zap.Error(err))...)
		return
	}
	log.Info("ask", fields...)
}
