package retrieval

import (
	"context"

	"github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

// Store is the corpus the engine reads and writes.
type Store interface {
	Version() string
	Dim() int
	Len() int
	Insert(ctx context.Context, version string, doc document.Document) error
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, vector []float32, k int) ([]store.Hit, error)
	Documents() []document.Document
	Rebuild(ctx context.Context, version string, dim int, docs []document.Document) error
	Persist(ctx context.Context) error
}
