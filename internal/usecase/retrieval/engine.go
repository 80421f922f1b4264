// Package retrieval embeds analyst questions and corpus documents and finds
// the documents nearest to a question.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/metrics"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

// Config tunes retrieval.
type Config struct {
	MinSimilarity       float64       // floor when a query leaves it zero
	CandidateMultiplier int           // index candidates per requested result
	EmbedRetries        int           // retries after the first attempt
	RetryBackoff        time.Duration // linear backoff step
	EmbeddingTimeout    time.Duration // per embedding call
	IngestBatchSize     int           // texts per embedding call while ingesting
	IngestParallelism   int           // concurrent embedding calls while ingesting
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		MinSimilarity:       0.2,
		CandidateMultiplier: 4,
		EmbedRetries:        2,
		RetryBackoff:        100 * time.Millisecond,
		EmbeddingTimeout:    10 * time.Second,
		IngestBatchSize:     32,
		IngestParallelism:   4,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = d.CandidateMultiplier
	}
	if c.EmbedRetries < 0 {
		c.EmbedRetries = 0
	}
	if c.EmbeddingTimeout <= 0 {
		c.EmbeddingTimeout = d.EmbeddingTimeout
	}
	if c.IngestBatchSize <= 0 {
		c.IngestBatchSize = d.IngestBatchSize
	}
	if c.IngestParallelism <= 0 {
		c.IngestParallelism = d.IngestParallelism
	}
}

// Hit is a ranked document.
type Hit struct {
	Document   document.Document
	Similarity float64
}

// Result is a retrieval outcome. Degraded means the embedding backend stayed
// unavailable after retries and Hits is empty for that reason.
type Result struct {
	Hits     []Hit
	Degraded bool
}

// Engine runs retrieval and corpus maintenance.
type Engine struct {
	store         Store
	queryEmbedder domain.Embedder
	docEmbedder   domain.Embedder
	cfg           Config
	logger        *zap.Logger

	adminMu sync.Mutex // serializes ingest, removal and reindex
}

// New creates an engine. Queries and documents may use different embedders
// (e.g. instruction-prefixed) of the same model.
func New(st Store, queryEmbedder, docEmbedder domain.Embedder, cfg Config, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{store: st, queryEmbedder: queryEmbedder, docEmbedder: docEmbedder, cfg: cfg, logger: logger}
}

// Retrieve embeds text and returns up to topK documents with similarity at
// least minSimilarity (0 means the configured floor), most similar first,
// ties by id.
func (e *Engine) Retrieve(ctx context.Context, text string, topK int, minSimilarity float64) (Result, error) {
	if topK <= 0 {
		return Result{}, fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidQuery)
	}
	if minSimilarity == 0 {
		minSimilarity = e.cfg.MinSimilarity
	}

	version := e.store.Version()
	embedCtx := domain.ContextWithEmbeddingVersion(ctx, version)
	res, err := attempt(embedCtx, e.cfg, e.logger, "embed query",
		func(c context.Context) (domain.EmbeddingResult, error) { return e.queryEmbedder.Embed(c, text) })
	if err != nil {
		if ctx.Err() == nil && domain.IsTransient(err) {
			metrics.RetrievalDegradedTotal.Inc()
			e.logger.Warn("Retrieval degraded, embedding backend unavailable", zap.Error(err))
			return Result{Hits: []Hit{}, Degraded: true}, nil
		}
		return Result{}, err
	}
	// An empty index answers with no hits whatever the query dimension.
	if e.store.Len() == 0 {
		return Result{Hits: []Hit{}}, nil
	}
	if dim := e.store.Dim(); len(res.Embedding) != dim {
		return Result{}, fmt.Errorf("query embedding: %w", domain.NewDimensionMismatch(dim, len(res.Embedding)))
	}

	candidates, err := e.store.Query(ctx, res.Embedding, topK*e.cfg.CandidateMultiplier)
	if err != nil {
		return Result{}, fmt.Errorf("query store: %w", err)
	}
	return Result{Hits: rank(candidates, topK, minSimilarity)}, nil
}

func rank(candidates []store.Hit, topK int, minSimilarity float64) []Hit {
	hits := make([]Hit, 0, min(topK, len(candidates)))
	for _, c := range candidates {
		if c.Similarity < minSimilarity {
			continue
		}
		hits = append(hits, Hit{Document: c.Document, Similarity: c.Similarity})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Document.ID() < hits[j].Document.ID()
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// IngestDocuments embeds docs in bounded-parallel batches and inserts them
// into the active generation. Returns the number of documents indexed; on
// error some batches may already be indexed.
func (e *Engine) IngestDocuments(ctx context.Context, docs []document.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	version := e.store.Version()
	embedded, err := e.embedAll(ctx, version, docs)
	if err != nil {
		return 0, err
	}
	for i, d := range embedded {
		if err := e.store.Insert(ctx, version, d); err != nil {
			return i, fmt.Errorf("insert document %s: %w", d.ID(), err)
		}
	}
	e.persist(ctx)
	e.logger.Info("Documents ingested", zap.Int("count", len(embedded)), zap.String("embedding_version", version))
	return len(embedded), nil
}

// RemoveDocument deletes a document from the active generation.
func (e *Engine) RemoveDocument(ctx context.Context, id string) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	if err := e.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	e.persist(ctx)
	return nil
}

// Reindex re-embeds every document for version and swaps the generation.
// Queries keep using the old generation until the swap.
func (e *Engine) Reindex(ctx context.Context, version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("%w: embedding version is required", domain.ErrInvalidInput)
	}
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	docs := e.store.Documents()
	embedded, err := e.embedAll(ctx, version, docs)
	if err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	dim := e.store.Dim()
	if len(embedded) > 0 {
		dim = len(embedded[0].Vector())
	}
	if err := e.store.Rebuild(ctx, version, dim, embedded); err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	e.persist(ctx)
	return len(embedded), nil
}

// embedAll vectorizes docs in batches with bounded parallelism. Output order
// matches input order.
func (e *Engine) embedAll(ctx context.Context, version string, docs []document.Document) ([]document.Document, error) {
	out := make([]document.Document, len(docs))
	g, gctx := errgroup.WithContext(domain.ContextWithEmbeddingVersion(ctx, version))
	g.SetLimit(e.cfg.IngestParallelism)

	for start := 0; start < len(docs); start += e.cfg.IngestBatchSize {
		batch := docs[start:min(start+e.cfg.IngestBatchSize, len(docs))]
		offset := start
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Text()
			}
			res, err := attempt(gctx, e.cfg, e.logger, "embed documents",
				func(c context.Context) (domain.BatchEmbeddingResult, error) { return e.batchEmbed(c, texts) })
			if err != nil {
				return err
			}
			if len(res.Embeddings) != len(batch) {
				return fmt.Errorf("%w: %d embeddings for %d documents",
					domain.ErrEmbeddingProviderError, len(res.Embeddings), len(batch))
			}
			for i, d := range batch {
				out[offset+i] = d.WithVector(res.Embeddings[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(out) > 0 {
		dim := len(out[0].Vector())
		for _, d := range out {
			if len(d.Vector()) != dim {
				return nil, fmt.Errorf("document %s: %w", d.ID(), domain.NewDimensionMismatch(dim, len(d.Vector())))
			}
		}
	}
	return out, nil
}

func (e *Engine) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := e.docEmbedder.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, e.docEmbedder, texts)
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.store.Persist(ctx); err != nil {
		e.logger.Warn("Failed to persist index snapshot", zap.Error(err))
	}
}
