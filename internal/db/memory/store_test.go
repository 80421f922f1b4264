package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/flowbot/internal/db"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New()
	s.now = clk.now
	return s, clk
}

func TestGetSetDel(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[0] = 'x'
	again, _ := s.Get(ctx, "k")
	if string(again) != "v" {
		t.Error("Get must return a copy")
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected key gone after Del, got %v", err)
	}
}

func TestSetWithTTL_Expires(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	clk.advance(59 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("key expired early: %v", err)
	}
	clk.advance(time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected expiry, got %v", err)
	}
}

func TestIncrByAndExpireNX(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	for range 3 {
		if err := s.IncrBy(ctx, "c", 5); err != nil {
			t.Fatal(err)
		}
		if err := s.Expire(ctx, "c", time.Hour, true); err != nil {
			t.Fatal(err)
		}
		clk.advance(20 * time.Minute)
	}
	// NX kept the first expiry: 60m after creation, now at 60m.
	if _, err := s.Get(ctx, "c"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("NX must not push expiry forward, got %v", err)
	}
}

func TestIncrBy_Value(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_ = s.IncrBy(ctx, "c", 7)
	_ = s.IncrBy(ctx, "c", -2)
	got, _ := s.Get(ctx, "c")
	if string(got) != "5" {
		t.Errorf("counter = %s, want 5", got)
	}
}

func TestIncrBy_NotInteger(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("abc"))
	if err := s.IncrBy(ctx, "k", 1); !errors.Is(err, db.ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}
}
