package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/flowbot/internal/db"
)

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Retention is how long token counters outlive their window.
type Retention struct {
	Daily   time.Duration
	Monthly time.Duration
}

// DefaultRetention keeps yesterday's counter readable and a monthly counter
// for two full months.
func DefaultRetention() Retention {
	return Retention{Daily: 48 * time.Hour, Monthly: 62 * 24 * time.Hour}
}

// Counters persists the token counters behind backend.BudgetTracker.
// Keys end in the window stamp: YYYY-MM-DD for daily, YYYY-MM for monthly.
type Counters struct {
	kv        kv
	retention Retention
}

// New creates counters over a KV store.
func New(s kv, r Retention) *Counters {
	return &Counters{kv: s, retention: r}
}

// IncrBy adds val to the counter. The expiry is set only on first write,
// so the window never slides.
func (c *Counters) IncrBy(ctx context.Context, key string, val int64) error {
	ttl, err := c.ttlFor(key)
	if err != nil {
		return err
	}
	if err := c.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("incr budget counter %s: %w", key, err)
	}
	if err := c.kv.Expire(ctx, key, ttl, true); err != nil {
		return fmt.Errorf("expire budget counter %s: %w", key, err)
	}
	return nil
}

// Get returns the counter value. A missing counter reads as 0.
func (c *Counters) Get(ctx context.Context, key string) (int64, error) {
	data, err := c.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read budget counter %s: %w", key, err)
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget counter %s holds %q: %w", key, data, err)
	}
	return n, nil
}

func (c *Counters) ttlFor(key string) (time.Duration, error) {
	stamp := key[strings.LastIndexByte(key, ':')+1:]
	if _, err := time.Parse(time.DateOnly, stamp); err == nil {
		return c.retention.Daily, nil
	}
	if _, err := time.Parse("2006-01", stamp); err == nil {
		return c.retention.Monthly, nil
	}
	return 0, fmt.Errorf("budget counter %s: unrecognized window %q", key, stamp)
}
