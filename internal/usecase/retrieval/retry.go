package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
)

// attempt runs fn with a per-call timeout and retries transient failures.
// Context cancellation and non-transient errors return immediately.
func attempt[T any](
	ctx context.Context, cfg Config, logger *zap.Logger, op string,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	for try := 0; try <= cfg.EmbedRetries; try++ {
		if try > 0 {
			if err := sleep(ctx, cfg.RetryBackoff*time.Duration(try)); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.EmbeddingTimeout)
		res, err := fn(callCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrBackendTimeout, err)
		}
		if !domain.IsTransient(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
		logger.Warn("Transient embedding failure",
			zap.String("op", op),
			zap.Int("attempt", try+1),
			zap.Error(err),
		)
	}
	return zero, fmt.Errorf("%s: %d attempts: %w", op, cfg.EmbedRetries+1, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
