package domain

import (
	"context"
	"sync/atomic"
)

type backendUsageKey struct{}

// BackendUsage collects token usage for a single request across both backends.
// The transport puts a pointer into the context; the backends add to it; the
// transport reads it back for response headers. Safe for concurrent adds
// (ingest embeds in parallel).
type BackendUsage struct {
	embeddingTokens  atomic.Int64
	generationTokens atomic.Int64
	embedded         atomic.Bool
	generated        atomic.Bool
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *BackendUsage) {
	u := &BackendUsage{}
	return context.WithValue(ctx, backendUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector. Returns nil if not set.
func UsageFromContext(ctx context.Context) *BackendUsage {
	u, _ := ctx.Value(backendUsageKey{}).(*BackendUsage)
	return u
}

// AddEmbeddingTokens records embedding tokens. A nil receiver is a no-op.
func (u *BackendUsage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.embeddingTokens.Add(int64(n))
	u.embedded.Store(true)
}

// AddGenerationTokens records generation tokens. A nil receiver is a no-op.
func (u *BackendUsage) AddGenerationTokens(n int) {
	if u == nil {
		return
	}
	u.generationTokens.Add(int64(n))
	u.generated.Store(true)
}

// EmbeddingTokens returns embedding tokens and whether the embedder was called at all
// (a cache hit reports 0 tokens but still counts as used).
func (u *BackendUsage) EmbeddingTokens() (int64, bool) {
	if u == nil {
		return 0, false
	}
	return u.embeddingTokens.Load(), u.embedded.Load()
}

// GenerationTokens returns generation tokens and whether the generator was called.
func (u *BackendUsage) GenerationTokens() (int64, bool) {
	if u == nil {
		return 0, false
	}
	return u.generationTokens.Load(), u.generated.Load()
}
