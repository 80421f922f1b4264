package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/db"
	"github.com/kailas-cloud/flowbot/internal/db/memory"
	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

func sampleSnapshot(version string) store.Snapshot {
	return store.Snapshot{
		EmbeddingVersion: version,
		Dim:              3,
		Documents: []store.SnapshotRecord{
			{ID: "kb:atelectasis", Text: "Atelectasis appears as ...", SourceTag: "radiology", Vector: []float32{1, 0, 0}},
			{ID: "kb:effusion", Text: "Pleural effusion ...", Vector: []float32{0, 1, 0}},
		},
	}
}

func TestLoad_Empty(t *testing.T) {
	r := New(memory.New(), zap.NewNop())
	_, err := r.Load(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	r := New(memory.New(), zap.NewNop())
	ctx := context.Background()

	want := sampleSnapshot("v1")
	if err := r.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := r.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

// countingKV wraps the memory store and tracks which keys exist.
type countingKV struct {
	*memory.Store
	live map[string]bool
}

func (c *countingKV) Set(ctx context.Context, key string, v []byte) error {
	c.live[key] = true
	return c.Store.Set(ctx, key, v)
}

func (c *countingKV) Del(ctx context.Context, key string) error {
	delete(c.live, key)
	return c.Store.Del(ctx, key)
}

func TestSave_ReplacesPreviousSnapshot(t *testing.T) {
	kv := &countingKV{Store: memory.New(), live: map[string]bool{}}
	r := New(kv, zap.NewNop())
	ctx := context.Background()

	if err := r.Save(ctx, sampleSnapshot("v1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, sampleSnapshot("v2")); err != nil {
		t.Fatal(err)
	}

	got, err := r.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.EmbeddingVersion != "v2" {
		t.Errorf("active version = %s, want v2", got.EmbeddingVersion)
	}

	snapshots := 0
	for k := range kv.live {
		if k != activeKey && strings.HasPrefix(k, keyPrefix) {
			snapshots++
		}
	}
	if snapshots != 1 {
		t.Errorf("expected the old snapshot to be deleted, %d remain", snapshots)
	}
}

type failingSetKV struct {
	*memory.Store
	failOn string
}

func (f *failingSetKV) Set(ctx context.Context, key string, v []byte) error {
	if key == f.failOn {
		return &db.Error{Op: db.OpSet, Err: errors.New("readonly replica")}
	}
	return f.Store.Set(ctx, key, v)
}

func TestSave_PointerFailureKeepsPreviousActive(t *testing.T) {
	kv := &failingSetKV{Store: memory.New()}
	r := New(kv, zap.NewNop())
	ctx := context.Background()

	if err := r.Save(ctx, sampleSnapshot("v1")); err != nil {
		t.Fatal(err)
	}
	kv.failOn = activeKey
	if err := r.Save(ctx, sampleSnapshot("v2")); err == nil {
		t.Fatal("expected pointer flip failure")
	}

	got, err := r.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.EmbeddingVersion != "v1" {
		t.Errorf("active version = %s, want v1", got.EmbeddingVersion)
	}
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_ = mem.Set(ctx, keyPrefix+"x", []byte("{not json"))
	_ = mem.Set(ctx, activeKey, []byte(keyPrefix+"x"))

	_, err := New(mem, zap.NewNop()).Load(ctx)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
