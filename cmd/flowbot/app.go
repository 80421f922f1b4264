package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/config"
	"github.com/kailas-cloud/flowbot/internal/db"
	"github.com/kailas-cloud/flowbot/internal/db/memory"
	dbRedis "github.com/kailas-cloud/flowbot/internal/db/redis"
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/index"
	logpkg "github.com/kailas-cloud/flowbot/internal/logger"
	"github.com/kailas-cloud/flowbot/internal/metrics"
	budgetrepo "github.com/kailas-cloud/flowbot/internal/repository/budget"
	calibrationrepo "github.com/kailas-cloud/flowbot/internal/repository/calibration"
	"github.com/kailas-cloud/flowbot/internal/repository/embcache"
	"github.com/kailas-cloud/flowbot/internal/repository/snapshot"
	anthropicGen "github.com/kailas-cloud/flowbot/internal/transport/anthropic"
	openaiTransport "github.com/kailas-cloud/flowbot/internal/transport/openai"
	"github.com/kailas-cloud/flowbot/internal/usecase/backend"
	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
	healthuc "github.com/kailas-cloud/flowbot/internal/usecase/health"
	"github.com/kailas-cloud/flowbot/internal/usecase/orchestrator"
	"github.com/kailas-cloud/flowbot/internal/usecase/retrieval"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

// app is the composition root shared by every command.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	kv          db.Store
	calRepo     *calibrationrepo.Repo
	index       *store.Store
	calibration *calibrationuc.Engine
	retrieval   *retrieval.Engine
	asker       *orchestrator.Service
	health      *healthuc.Service
}

// loadApp reads config/<env>.yaml, builds the logger and wires the app.
func loadApp(ctx context.Context) (*app, error) {
	env := rootFlags.env
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return buildApp(ctx, cfg, logger)
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	kv, err := openKV(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to key-value store",
		zap.String("driver", cfg.Database.Driver),
		zap.Strings("addrs", cfg.Database.Addrs),
	)

	calRepo, err := calibrationrepo.Open(ctx, cfg.Database.SQLitePath)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("open calibration db: %w", err)
	}

	a, err := wire(ctx, cfg, kv, calRepo, logger)
	if err != nil {
		_ = calRepo.Close()
		kv.Close()
		return nil, err
	}
	return a, nil
}

func openKV(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "redis":
		s, err := dbRedis.Open(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		if err := s.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
			s.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func wire(
	ctx context.Context, cfg config.Config, kv db.Store, calRepo *calibrationrepo.Repo, logger *zap.Logger,
) (*app, error) {
	// Register backend and analysis metrics explicitly (no init())
	metrics.RegisterBackendMetrics()
	metrics.RegisterAnalysisMetrics()

	// Single BudgetTracker shared by the embedding and generation backends.
	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budget backend.BudgetChecker
	if cfg.Budget.DailyTokenLimit > 0 || cfg.Budget.MonthlyTokenLimit > 0 {
		action := backend.BudgetActionWarn
		if cfg.Budget.Action == "reject" {
			action = backend.BudgetActionReject
		}
		budget = backend.NewBudgetTracker(
			"backends", cfg.Budget.DailyTokenLimit, cfg.Budget.MonthlyTokenLimit, action, logger,
		).WithStore(ctx, budgetrepo.New(kv, budgetrepo.DefaultRetention()))
	}

	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})
	docEmbedder := buildEmbedder(base, cfg.Embedding, cfg.Embedding.DocumentInstruction, kv, budget, logger)
	queryEmbedder := buildEmbedder(base, cfg.Embedding, cfg.Embedding.QueryInstruction, kv, budget, logger)
	logger.Info("Embedders created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := buildGenerator(cfg.Generation, budget, logger)
	logger.Info("Generator created",
		zap.String("provider", cfg.Generation.Provider),
		zap.String("model", cfg.Generation.Model),
	)

	factory := store.HNSWFactory(index.HNSWConfig{
		M:              cfg.Index.HNSWM,
		EFConstruction: cfg.Index.HNSWEFConstruct,
		EFSearch:       cfg.Index.HNSWEFSearch,
		ExactBelow:     cfg.Index.ExactBelow,
		Seed:           cfg.Index.Seed,
	})
	if cfg.Index.Type == "flat" {
		factory = store.FlatFactory()
	}
	idx := store.New(cfg.Embedding.Version, cfg.Embedding.Dimensions, factory, snapshot.New(kv, logger), logger)
	if err := idx.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore index: %w", err)
	}
	logger.Info("Index ready",
		zap.String("type", cfg.Index.Type),
		zap.Int("documents", idx.Len()),
		zap.String("embedding_version", idx.Version()),
	)

	cal := calibrationuc.New(calRepo, calibrationuc.Config{
		MinSamples:             cfg.Calibration.MinSamples,
		LowConfidenceThreshold: cfg.Calibration.LowConfidenceThreshold,
		OODThreshold:           cfg.Calibration.OODThreshold,
	}, logger)
	if err := cal.Load(ctx); err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}

	ret := retrieval.New(idx, queryEmbedder, docEmbedder, retrieval.Config{
		MinSimilarity:       cfg.Retrieval.MinSimilarity,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		EmbedRetries:        cfg.Retrieval.EmbedRetries,
		RetryBackoff:        time.Duration(cfg.Retrieval.RetryBackoffMS) * time.Millisecond,
		EmbeddingTimeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		IngestBatchSize:     cfg.Retrieval.IngestBatchSize,
		IngestParallelism:   cfg.Retrieval.IngestParallelism,
	}, logger)

	asker := orchestrator.New(cal, ret, generator, orchestrator.Config{
		GenerationTimeout: time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		ExcerptChars:      cfg.Orchestrator.ExcerptChars,
	}, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		kv:          kv,
		calRepo:     calRepo,
		index:       idx,
		calibration: cal,
		retrieval:   ret,
		asker:       asker,
		health:      healthuc.New(kv, calRepo, newEmbeddingHealthChecker(docEmbedder), idx),
	}, nil
}

// Close releases stores in reverse wiring order.
func (a *app) Close() {
	a.index.Close()
	if err := a.calRepo.Close(); err != nil {
		a.logger.Warn("Failed to close calibration db", zap.Error(err))
	}
	a.kv.Close()
	_ = a.logger.Sync()
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	base domain.Embedder,
	cfg config.EmbeddingConfig,
	instruction string,
	kv db.Store,
	budget backend.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	var embedder domain.Embedder = embcache.New(base, kv, cfg.Model, ttl, metrics.EmbeddingCacheTotal, logger)

	embedder = backend.NewInstrumentedEmbedder(embedder, "openai", cfg.Model, budget, logger)

	// Instruction prefix (outermost, so the cache key includes it)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// buildGenerator picks the provider and wraps it with budget and usage accounting.
func buildGenerator(cfg config.GenerationConfig, budget backend.BudgetChecker, logger *zap.Logger) domain.Generator {
	var base domain.Generator
	switch cfg.Provider {
	case "anthropic":
		base = anthropicGen.NewGenerator(&anthropicGen.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      logger,
		})
	default:
		base = openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
			Config: openaiTransport.Config{
				APIKey:   cfg.APIKey,
				BaseURL:  cfg.BaseURL,
				Model:    cfg.Model,
				Provider: "openai",
				Logger:   logger,
			},
			MaxTokens:   cfg.MaxTokens,
			Temperature: float32(cfg.Temperature),
		})
	}
	return backend.NewInstrumentedGenerator(base, cfg.Provider, cfg.Model, budget, logger)
}
