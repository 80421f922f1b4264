package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/flowbot/internal/db"
	"github.com/kailas-cloud/flowbot/internal/db/memory"
)

type recordingKV struct {
	*memory.Store
	ttls map[string]time.Duration
}

func (r *recordingKV) Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error {
	r.ttls[key] = ttl
	return r.Store.Expire(ctx, key, ttl, nx)
}

func TestCounters_IncrByThenGet(t *testing.T) {
	kv := &recordingKV{Store: memory.New(), ttls: map[string]time.Duration{}}
	c := New(kv, DefaultRetention())
	ctx := context.Background()

	daily := "flowbot:budget:backends:daily:2026-03-01"
	monthly := "flowbot:budget:backends:monthly:2026-03"

	for _, key := range []string{daily, monthly} {
		for _, n := range []int64{40, 2} {
			if err := c.IncrBy(ctx, key, n); err != nil {
				t.Fatal(err)
			}
		}
		got, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if got != 42 {
			t.Errorf("%s = %d, want 42", key, got)
		}
	}
	if kv.ttls[daily] != 48*time.Hour {
		t.Errorf("daily ttl = %v", kv.ttls[daily])
	}
	if kv.ttls[monthly] != 62*24*time.Hour {
		t.Errorf("monthly ttl = %v", kv.ttls[monthly])
	}
}

func TestCounters_UnknownWindow(t *testing.T) {
	c := New(memory.New(), DefaultRetention())
	if err := c.IncrBy(context.Background(), "flowbot:budget:backends:weekly:W09", 1); err == nil {
		t.Fatal("expected error for unrecognized window")
	}
}

func TestCounters_MissingIsZero(t *testing.T) {
	c := New(memory.New(), DefaultRetention())
	got, err := c.Get(context.Background(), "flowbot:budget:x:daily:2026-01-01")
	if err != nil || got != 0 {
		t.Errorf("Get = %d, %v; want 0, nil", got, err)
	}
}

type refusingKV struct{ *memory.Store }

func (refusingKV) Get(context.Context, string) ([]byte, error) {
	return nil, &db.Error{Op: db.OpGet, Err: errors.New("refused")}
}

func TestCounters_Errors(t *testing.T) {
	ctx := context.Background()

	c := New(refusingKV{memory.New()}, DefaultRetention())
	if _, err := c.Get(ctx, "flowbot:budget:x:daily:2026-01-01"); err == nil {
		t.Error("expected store error")
	}

	mem := memory.New()
	_ = mem.Set(ctx, "flowbot:budget:x:daily:2026-01-01", []byte("NaN"))
	if _, err := New(mem, DefaultRetention()).Get(ctx, "flowbot:budget:x:daily:2026-01-01"); err == nil {
		t.Error("expected parse error")
	}
}
