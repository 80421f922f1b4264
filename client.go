package flowbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/db"
	"github.com/kailas-cloud/flowbot/internal/db/memory"
	dbRedis "github.com/kailas-cloud/flowbot/internal/db/redis"
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/answer"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	domdoc "github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/domain/query"
	"github.com/kailas-cloud/flowbot/internal/domain/score"
	"github.com/kailas-cloud/flowbot/internal/index"
	"github.com/kailas-cloud/flowbot/internal/metrics"
	budgetrepo "github.com/kailas-cloud/flowbot/internal/repository/budget"
	calibrationrepo "github.com/kailas-cloud/flowbot/internal/repository/calibration"
	"github.com/kailas-cloud/flowbot/internal/repository/embcache"
	"github.com/kailas-cloud/flowbot/internal/repository/snapshot"
	"github.com/kailas-cloud/flowbot/internal/usecase/backend"
	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
	"github.com/kailas-cloud/flowbot/internal/usecase/orchestrator"
	"github.com/kailas-cloud/flowbot/internal/usecase/retrieval"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the flowbot entry point. It is safe for concurrent use.
type Client struct {
	kv          db.Store
	calRepo     *calibrationrepo.Repo
	index       *store.Store
	calibration *calibrationuc.Engine
	retrieval   *retrieval.Engine
	asker       *orchestrator.Service
	logger      *zap.Logger
}

// New creates a Client, connects its stores and restores persisted state
// (calibration versions and the last index snapshot).
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.embedder == nil {
		return nil, errors.New("flowbot: embedder required (use WithEmbedder)")
	}
	if cfg.dimensions <= 0 {
		return nil, errors.New("flowbot: embedding dimensions must be positive")
	}
	if cfg.generator == nil {
		return nil, errors.New("flowbot: generator required (use WithGenerator)")
	}

	ctx := context.Background()
	kv, err := createStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	calRepo, err := calibrationrepo.Open(ctx, cfg.sqlitePath)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("flowbot: open calibration db: %w", err)
	}

	c, err := wireClient(ctx, kv, calRepo, cfg)
	if err != nil {
		_ = calRepo.Close()
		kv.Close()
		return nil, err
	}
	return c, nil
}

func createStore(ctx context.Context, cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "memory":
		return memory.New(), nil
	case "redis":
		s, err := dbRedis.Open(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("flowbot: create redis store: %w", err)
		}
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("flowbot: database not ready: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("flowbot: unknown driver %q", cfg.driver)
	}
}

func wireClient(ctx context.Context, kv db.Store, calRepo *calibrationrepo.Repo, cfg *clientConfig) (*Client, error) {
	logger := cfg.logger

	// Passing a nil *BudgetTracker as BudgetChecker would make a non-nil
	// interface, so the checker stays an untyped nil without limits.
	var budget backend.BudgetChecker
	if cfg.dailyTokenLimit > 0 || cfg.monthlyTokenLimit > 0 {
		action := backend.BudgetActionWarn
		if cfg.rejectOverBudget {
			action = backend.BudgetActionReject
		}
		budget = backend.NewBudgetTracker("client", cfg.dailyTokenLimit, cfg.monthlyTokenLimit, action, logger).
			WithStore(ctx, budgetrepo.New(kv, budgetrepo.DefaultRetention()))
	}

	var emb domain.Embedder = &embedderAdapter{inner: cfg.embedder}
	emb = embcache.New(emb, kv, cfg.embeddingModel, cfg.cacheTTL, metrics.EmbeddingCacheTotal, logger)
	emb = backend.NewInstrumentedEmbedder(emb, "client", cfg.embeddingModel, budget, logger)
	queryEmb, docEmb := emb, emb
	if cfg.queryInstruction != "" {
		queryEmb = domain.NewInstructionEmbedder(emb, cfg.queryInstruction)
	}
	if cfg.documentInstruction != "" {
		docEmb = domain.NewInstructionEmbedder(emb, cfg.documentInstruction)
	}

	gen := backend.NewInstrumentedGenerator(&generatorAdapter{inner: cfg.generator}, "client", "custom", budget, logger)

	factory := store.HNSWFactory(index.HNSWConfig{
		M:              cfg.hnswM,
		EFConstruction: cfg.hnswEFConstr,
		EFSearch:       cfg.hnswEFSearch,
		ExactBelow:     cfg.hnswExactBelow,
	})
	if cfg.exactIndex {
		factory = store.FlatFactory()
	}
	idx := store.New(cfg.embeddingVersion, cfg.dimensions, factory, snapshot.New(kv, logger), logger)
	if err := idx.Restore(ctx); err != nil {
		return nil, fmt.Errorf("flowbot: restore index: %w", err)
	}

	cal := calibrationuc.New(calRepo, calibrationuc.Config{
		MinSamples:             cfg.minSamples,
		LowConfidenceThreshold: cfg.lowConfidenceThreshold,
		OODThreshold:           cfg.oodThreshold,
	}, logger)
	if err := cal.Load(ctx); err != nil {
		return nil, fmt.Errorf("flowbot: %w", err)
	}

	rcfg := retrieval.DefaultConfig()
	if cfg.minSimilarity != 0 {
		rcfg.MinSimilarity = cfg.minSimilarity
	}
	if cfg.embedRetries >= 0 {
		rcfg.EmbedRetries = cfg.embedRetries
	}
	ret := retrieval.New(idx, queryEmb, docEmb, rcfg, logger)

	ocfg := orchestrator.DefaultConfig()
	if cfg.generationTimeout > 0 {
		ocfg.GenerationTimeout = cfg.generationTimeout
	}
	if cfg.excerptChars > 0 {
		ocfg.ExcerptChars = cfg.excerptChars
	}

	return &Client{
		kv:          kv,
		calRepo:     calRepo,
		index:       idx,
		calibration: cal,
		retrieval:   ret,
		asker:       orchestrator.New(cal, ret, gen, ocfg, logger),
		logger:      logger,
	}, nil
}

// Close releases all resources. Calls after Close fail with ErrClosed.
func (c *Client) Close() {
	c.index.Close()
	if err := c.calRepo.Close(); err != nil {
		c.logger.Warn("Failed to close calibration db", zap.Error(err))
	}
	c.kv.Close()
}

// Ping checks the key-value store and the calibration database.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.kv.Ping(ctx); err != nil {
		return fmt.Errorf("ping kv: %w", err)
	}
	if err := c.calRepo.Ping(ctx); err != nil {
		return fmt.Errorf("ping calibration db: %w", err)
	}
	return nil
}

// Ask answers a question, scoring its prediction when present.
func (c *Client) Ask(ctx context.Context, q Question) (Answer, error) {
	dq, err := q.toDomain()
	if err != nil {
		return Answer{}, err
	}
	a, err := c.asker.Ask(ctx, dq)
	if err != nil {
		return Answer{}, fmt.Errorf("ask: %w", err)
	}
	return answerFromDomain(a), nil
}

// RegisterModel publishes params as the new active calibration version.
func (c *Client) RegisterModel(ctx context.Context, p ModelParams) (ModelParams, error) {
	out, err := c.calibration.Register(ctx, p.toDomain())
	if err != nil {
		return ModelParams{}, fmt.Errorf("register model: %w", err)
	}
	return paramsFromDomain(out), nil
}

// Model returns the active calibration version of a model.
func (c *Client) Model(modelID string) (ModelParams, error) {
	p, err := c.calibration.Current(modelID)
	if err != nil {
		return ModelParams{}, fmt.Errorf("model: %w", err)
	}
	return paramsFromDomain(p), nil
}

// ModelVersions returns every calibration version of a model, oldest first.
func (c *Client) ModelVersions(ctx context.Context, modelID string) ([]ModelParams, error) {
	history, err := c.calibration.Versions(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("model versions: %w", err)
	}
	out := make([]ModelParams, len(history))
	for i, p := range history {
		out[i] = paramsFromDomain(p)
	}
	return out, nil
}

// FitCalibration learns a new calibration version from labelled samples.
// An empty method keeps the model's current one.
func (c *Client) FitCalibration(
	ctx context.Context, modelID string, samples []Sample, method CalibrationMethod,
) (ModelParams, error) {
	in := make([]calibrationuc.Sample, len(samples))
	for i, s := range samples {
		in[i] = calibrationuc.Sample{RawScores: s.RawScores, Label: s.Label}
	}
	out, err := c.calibration.Fit(ctx, modelID, in, domcal.Method(method))
	if err != nil {
		return ModelParams{}, fmt.Errorf("fit calibration: %w", err)
	}
	return paramsFromDomain(out), nil
}

// SetCentroids replaces the out-of-distribution clusters of a model.
// A zero threshold keeps the current one.
func (c *Client) SetCentroids(
	ctx context.Context, modelID string, centroids [][]float32, threshold float64,
) (ModelParams, error) {
	out, err := c.calibration.SetCentroids(ctx, modelID, centroids, threshold)
	if err != nil {
		return ModelParams{}, fmt.Errorf("set centroids: %w", err)
	}
	return paramsFromDomain(out), nil
}

// IngestDocuments embeds and indexes docs, replacing documents with the same ID.
func (c *Client) IngestDocuments(ctx context.Context, docs []Document) (int, error) {
	in := make([]domdoc.Document, len(docs))
	for i, d := range docs {
		doc, err := domdoc.New(d.ID, d.Text, d.SourceTag)
		if err != nil {
			return 0, fmt.Errorf("%w: document %d: %w", ErrInvalidInput, i, err)
		}
		in[i] = doc
	}
	n, err := c.retrieval.IngestDocuments(ctx, in)
	if err != nil {
		return n, fmt.Errorf("ingest documents: %w", err)
	}
	return n, nil
}

// RemoveDocument deletes a document from the index.
func (c *Client) RemoveDocument(ctx context.Context, id string) error {
	if err := c.retrieval.RemoveDocument(ctx, id); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

// Reindex re-embeds every document under a new embedding version and swaps
// the index once complete. Questions keep using the old index meanwhile.
func (c *Client) Reindex(ctx context.Context, version string) (int, error) {
	n, err := c.retrieval.Reindex(ctx, version)
	if err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	return n, nil
}

// Len returns the number of indexed documents.
func (c *Client) Len() int { return c.index.Len() }

// EmbeddingVersion returns the version tag of the active index.
func (c *Client) EmbeddingVersion() string { return c.index.Version() }

func (q Question) toDomain() (query.Query, error) {
	var pred *prediction.Prediction
	if q.Prediction != nil {
		p := q.Prediction
		dp, err := prediction.New(
			prediction.Modality(p.Modality), p.RawScores, p.PredictedLabel, p.ModelID, p.Embedding, p.Timestamp,
		)
		if err != nil {
			return query.Query{}, fmt.Errorf("%w: prediction: %w", ErrInvalidInput, err)
		}
		pred = &dp
	}
	dq, err := query.New(q.Text, pred, q.TopK, q.MinSimilarity, q.ConfidenceThreshold)
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return dq, nil
}

func answerFromDomain(a answer.Answer) Answer {
	reasons := make([]string, len(a.FallbackReasons()))
	for i, r := range a.FallbackReasons() {
		reasons[i] = string(r)
	}
	return Answer{
		Text:                  a.Text(),
		SupportingDocumentIDs: a.SupportingDocumentIDs(),
		Confidence:            a.Confidence(),
		FallbackUsed:          a.FallbackUsed(),
		FallbackReasons:       reasons,
		CalibrationVersion:    a.CalibrationVersion(),
	}
}

func (p ModelParams) toDomain() domcal.Params {
	knots := make([]domcal.Knot, len(p.Knots))
	for i, k := range p.Knots {
		knots[i] = domcal.Knot{X: k.X, Y: k.Y}
	}
	return domcal.Params{
		ModelID:                p.ModelID,
		Modality:               prediction.Modality(p.Modality),
		Method:                 domcal.Method(p.Method),
		Temperature:            p.Temperature,
		Knots:                  knots,
		Bounds:                 score.Bounds{Min: p.Bounds.Min, Max: p.Bounds.Max},
		LowConfidenceThreshold: p.LowConfidenceThreshold,
		OODThreshold:           p.OODThreshold,
		Centroids:              p.Centroids,
	}
}

func paramsFromDomain(p domcal.Params) ModelParams {
	knots := make([]Knot, len(p.Knots))
	for i, k := range p.Knots {
		knots[i] = Knot{X: k.X, Y: k.Y}
	}
	return ModelParams{
		ModelID:                p.ModelID,
		Version:                p.Version,
		Modality:               Modality(p.Modality),
		Method:                 CalibrationMethod(p.Method),
		Temperature:            p.Temperature,
		Knots:                  knots,
		Bounds:                 ScoreBounds{Min: p.Bounds.Min, Max: p.Bounds.Max},
		LowConfidenceThreshold: p.LowConfidenceThreshold,
		OODThreshold:           p.OODThreshold,
		Centroids:              p.Centroids,
		SampleCount:            p.SampleCount,
		CreatedAt:              p.CreatedAt,
	}
}

// embedderAdapter wraps a public Embedder to satisfy domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	be, ok := a.inner.(BatchEmbedder)
	if !ok {
		return domain.BatchFallback(ctx, a, texts)
	}
	r, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// generatorAdapter wraps a public Generator to satisfy domain.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, p domain.Prompt) (domain.GenerationResult, error) {
	r, err := a.inner.Generate(ctx, Prompt{System: p.System, User: p.User})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}
	return domain.GenerationResult{
		Text:             r.Text,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}, nil
}
