// Package store owns the searchable corpus: documents plus the vector index
// built with one embedding version.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/index"
	"github.com/kailas-cloud/flowbot/internal/metrics"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// IndexFactory creates an empty index for vectors of length dim.
type IndexFactory func(dim int) index.Index

// HNSWFactory builds HNSW indexes with cfg.
func HNSWFactory(cfg index.HNSWConfig) IndexFactory {
	return func(dim int) index.Index { return index.NewHNSW(dim, cfg) }
}

// FlatFactory builds exact indexes.
func FlatFactory() IndexFactory {
	return func(dim int) index.Index { return index.NewFlat(dim) }
}

// generation is one embedding version of the corpus. Readers hold mu.RLock
// for the whole query; writers hold mu.Lock for one insert or remove.
type generation struct {
	version string
	mu      sync.RWMutex
	idx     index.Index
	docs    map[string]document.Document
}

// Hit is a search result with its document.
type Hit struct {
	Document   document.Document
	Similarity float64
}

// Store serves queries against the active generation and swaps generations
// atomically on Rebuild.
type Store struct {
	newIndex IndexFactory
	snapshot SnapshotRepository
	logger   *zap.Logger

	writeMu sync.Mutex
	current atomic.Pointer[generation]
}

// New creates a store with an empty generation.
func New(version string, dim int, factory IndexFactory, snapshot SnapshotRepository, logger *zap.Logger) *Store {
	s := &Store{newIndex: factory, snapshot: snapshot, logger: logger}
	s.current.Store(&generation{version: version, idx: factory(dim), docs: map[string]document.Document{}})
	return s
}

func (s *Store) active() (*generation, error) {
	g := s.current.Load()
	if g == nil {
		return nil, ErrClosed
	}
	return g, nil
}

// Version returns the embedding version of the active generation.
func (s *Store) Version() string {
	g := s.current.Load()
	if g == nil {
		return ""
	}
	return g.version
}

// Dim returns the vector dimension of the active generation.
func (s *Store) Dim() int {
	g := s.current.Load()
	if g == nil {
		return 0
	}
	return g.idx.Dim()
}

// Len returns the number of indexed documents.
func (s *Store) Len() int {
	g := s.current.Load()
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.idx.Len()
}

// Insert adds or replaces a document. The vector must come from the active
// embedding version.
func (s *Store) Insert(_ context.Context, version string, doc document.Document) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g, err := s.active()
	if err != nil {
		return err
	}
	if version != g.version {
		return fmt.Errorf("%w: vector from embedding version %q, index is %q",
			domain.ErrInvalidInput, version, g.version)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.idx.Insert(doc.ID(), doc.Vector()); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID(), err)
	}
	g.docs[doc.ID()] = doc
	metrics.IndexDocuments.Set(float64(g.idx.Len()))
	return nil
}

// Remove deletes a document.
func (s *Store) Remove(_ context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g, err := s.active()
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.docs[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, domain.ErrDocumentNotFound)
	}
	g.idx.Remove(id)
	delete(g.docs, id)
	metrics.IndexDocuments.Set(float64(g.idx.Len()))
	return nil
}

// Query returns up to k nearest documents from one consistent generation,
// most similar first.
func (s *Store) Query(_ context.Context, vector []float32, k int) ([]Hit, error) {
	g, err := s.active()
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	matches, err := g.idx.Search(vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		doc, ok := g.docs[m.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Document: doc, Similarity: m.Similarity})
	}
	return hits, nil
}

// Documents returns every document of the active generation ordered by id.
func (s *Store) Documents() []document.Document {
	g := s.current.Load()
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	entries := g.idx.Entries()
	out := make([]document.Document, 0, len(entries))
	for _, e := range entries {
		out = append(out, g.docs[e.ID])
	}
	return out
}

// Rebuild builds a generation from docs off to the side and swaps it in.
// Queries in flight finish on the old generation. On error nothing changes.
func (s *Store) Rebuild(ctx context.Context, version string, dim int, docs []document.Document) error {
	next := &generation{version: version, idx: s.newIndex(dim), docs: make(map[string]document.Document, len(docs))}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			metrics.IndexRebuildsTotal.WithLabelValues("canceled").Inc()
			return fmt.Errorf("rebuild: %w", err)
		}
		if err := next.idx.Insert(d.ID(), d.Vector()); err != nil {
			metrics.IndexRebuildsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("rebuild: index document %s: %w", d.ID(), err)
		}
		next.docs[d.ID()] = d
	}

	s.writeMu.Lock()
	if s.current.Load() == nil {
		s.writeMu.Unlock()
		return ErrClosed
	}
	s.current.Store(next)
	s.writeMu.Unlock()

	metrics.IndexRebuildsTotal.WithLabelValues("ok").Inc()
	metrics.IndexDocuments.Set(float64(next.idx.Len()))
	s.logger.Info("Index generation swapped",
		zap.String("embedding_version", version),
		zap.Int("documents", next.idx.Len()),
	)
	return nil
}

// Persist writes the active generation to the snapshot repository.
func (s *Store) Persist(ctx context.Context) error {
	if s.snapshot == nil {
		return nil
	}
	g, err := s.active()
	if err != nil {
		return err
	}
	g.mu.RLock()
	snap := Snapshot{EmbeddingVersion: g.version, Dim: g.idx.Dim()}
	for _, e := range g.idx.Entries() {
		d := g.docs[e.ID]
		snap.Documents = append(snap.Documents, SnapshotRecord{
			ID: d.ID(), Text: d.Text(), SourceTag: d.SourceTag(), Vector: d.Vector(),
		})
	}
	g.mu.RUnlock()

	if err := s.snapshot.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Restore rebuilds from the persisted snapshot. A missing snapshot is not an
// error and leaves the store empty.
func (s *Store) Restore(ctx context.Context) error {
	if s.snapshot == nil {
		return nil
	}
	snap, err := s.snapshot.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Info("No index snapshot, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	docs := make([]document.Document, 0, len(snap.Documents))
	for _, r := range snap.Documents {
		docs = append(docs, document.Reconstruct(r.ID, r.Text, r.SourceTag, r.Vector))
	}
	return s.Rebuild(ctx, snap.EmbeddingVersion, snap.Dim, docs)
}

// Close drops the active generation and releases its memory.
func (s *Store) Close() {
	s.writeMu.Lock()
	s.current.Store(nil)
	s.writeMu.Unlock()
	metrics.IndexDocuments.Set(0)
}
