package store

import (
	"context"
)

// SnapshotRepository persists the active generation so a restart does not
// need to re-embed the corpus.
type SnapshotRepository interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Snapshot is a serializable copy of one generation.
type Snapshot struct {
	EmbeddingVersion string           `json:"embedding_version"`
	Dim              int              `json:"dim"`
	Documents        []SnapshotRecord `json:"documents"`
}

// SnapshotRecord is one document with its vector.
type SnapshotRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SourceTag string    `json:"source_tag,omitempty"`
	Vector    []float32 `json:"vector"`
}
