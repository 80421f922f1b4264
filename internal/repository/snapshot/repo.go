package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/db"
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

var (
	keyPrefix = domain.KeyPrefix + "index:snapshot:"
	activeKey = keyPrefix + "active"
)

// kv is the consumer interface for snapshot persistence (ISP).
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

var _ store.SnapshotRepository = (*Repo)(nil)

// Repo stores each snapshot under an immutable key and then flips the
// active pointer, so a crash mid-write leaves the previous snapshot readable.
type Repo struct {
	kv     kv
	logger *zap.Logger
}

// New creates a snapshot repository.
func New(s kv, logger *zap.Logger) *Repo {
	return &Repo{kv: s, logger: logger}
}

// Save writes snap and makes it active. The previously active snapshot is
// deleted best-effort.
func (r *Repo) Save(ctx context.Context, snap store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	prev, err := r.kv.Get(ctx, activeKey)
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("read active snapshot pointer: %w", err)
	}

	key := keyPrefix + uuid.NewString()
	if err := r.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := r.kv.Set(ctx, activeKey, []byte(key)); err != nil {
		return fmt.Errorf("flip active snapshot pointer: %w", err)
	}

	if len(prev) > 0 && string(prev) != key {
		if err := r.kv.Del(ctx, string(prev)); err != nil {
			r.logger.Warn("Failed to delete previous snapshot", zap.String("key", string(prev)), zap.Error(err))
		}
	}

	r.logger.Debug("Index snapshot saved",
		zap.String("key", key),
		zap.String("embedding_version", snap.EmbeddingVersion),
		zap.Int("documents", len(snap.Documents)),
	)
	return nil
}

// Load returns the active snapshot or domain.ErrNotFound when none was saved.
func (r *Repo) Load(ctx context.Context) (store.Snapshot, error) {
	key, err := r.kv.Get(ctx, activeKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return store.Snapshot{}, fmt.Errorf("snapshot pointer: %w", domain.ErrNotFound)
		}
		return store.Snapshot{}, fmt.Errorf("read active snapshot pointer: %w", err)
	}

	data, err := r.kv.Get(ctx, string(key))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", key, domain.ErrNotFound)
		}
		return store.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("unmarshal snapshot %s: %w", key, err)
	}
	return snap, nil
}
