package flowbot

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "memory" or "redis"
	addrs    []string
	password string

	sqlitePath string

	embedder            Embedder
	dimensions          int
	embeddingModel      string
	embeddingVersion    string
	queryInstruction    string
	documentInstruction string
	cacheTTL            time.Duration

	generator Generator

	exactIndex     bool
	hnswM          int
	hnswEFConstr   int
	hnswEFSearch   int
	hnswExactBelow int

	minSamples             int
	lowConfidenceThreshold float64
	oodThreshold           float64

	minSimilarity     float64
	embedRetries      int
	generationTimeout time.Duration
	excerptChars      int

	dailyTokenLimit   int64
	monthlyTokenLimit int64
	rejectOverBudget  bool

	logger *zap.Logger
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		driver:           "memory",
		sqlitePath:       ":memory:",
		embeddingModel:   "custom",
		embeddingVersion: "v1",
		embedRetries:     -1,
		logger:           zap.NewNop(),
	}
}

// WithRedis stores the embedding cache, index snapshots and budget counters
// in Redis. Without it everything lives in process memory.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithSQLite persists calibration versions in the SQLite file at path.
// Default: an in-memory database lost on Close.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.sqlitePath = path
	})
}

// WithEmbedder sets the embedding backend and its vector dimension. Required.
func WithEmbedder(e Embedder, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
		c.dimensions = dimensions
	})
}

// WithEmbeddingModel names the embedding model in cache keys and metrics.
func WithEmbeddingModel(model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingModel = model
	})
}

// WithEmbeddingVersion sets the version tag of the initial index generation.
// Default: "v1".
func WithEmbeddingVersion(version string) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingVersion = version
	})
}

// WithInstructions prepends instructions to queries and documents before
// embedding (e.g. "query: " and "passage: " for E5 models).
func WithInstructions(query, document string) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryInstruction = query
		c.documentInstruction = document
	})
}

// WithEmbeddingCacheTTL sets how long cached embeddings live. Zero keeps them
// until the store evicts them.
func WithEmbeddingCacheTTL(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheTTL = ttl
	})
}

// WithGenerator sets the generation backend. Required.
func WithGenerator(g Generator) Option {
	return optionFunc(func(c *clientConfig) {
		c.generator = g
	})
}

// WithHNSW tunes the approximate index. Zero values keep the defaults
// (M=16, efConstruction=200, efSearch=64).
func WithHNSW(m, efConstruction, efSearch int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstr = efConstruction
		c.hnswEFSearch = efSearch
	})
}

// WithExactBelow scans every vector while the index holds at most n documents.
func WithExactBelow(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswExactBelow = n
	})
}

// WithExactIndex replaces HNSW with an exact (flat) index.
func WithExactIndex() Option {
	return optionFunc(func(c *clientConfig) {
		c.exactIndex = true
	})
}

// WithCalibrationDefaults sets the minimum fit sample count and the default
// low-confidence and out-of-distribution thresholds for registered models.
func WithCalibrationDefaults(minSamples int, lowConfidence, ood float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.minSamples = minSamples
		c.lowConfidenceThreshold = lowConfidence
		c.oodThreshold = ood
	})
}

// WithRetrieval sets the similarity floor and the number of embedding retries
// on transient backend errors.
func WithRetrieval(minSimilarity float64, embedRetries int) Option {
	return optionFunc(func(c *clientConfig) {
		c.minSimilarity = minSimilarity
		c.embedRetries = embedRetries
	})
}

// WithGenerationTimeout bounds each generation call. Default: 30s.
func WithGenerationTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.generationTimeout = d
	})
}

// WithExcerptChars caps each document excerpt placed in the prompt.
func WithExcerptChars(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.excerptChars = n
	})
}

// WithTokenBudget caps tokens spent across both backends. Zero limits are
// unlimited. With reject set, calls over budget fail with ErrQuotaExceeded;
// otherwise they are only logged.
func WithTokenBudget(daily, monthly int64, reject bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.dailyTokenLimit = daily
		c.monthlyTokenLimit = monthly
		c.rejectOverBudget = reject
	})
}

// WithLogger enables structured logging. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	})
}
