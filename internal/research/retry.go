package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/metrics"
)

// Policy bounds retrieval attempts. After a retryable failure on attempt n the
// next attempt waits BaseDelay*n; nothing waits after the final attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits for d or until ctx is done; nil means a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is three attempts with a two second base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Backoff returns the wait after a failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context, attempt int) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err

		var re *RetrievalError
		if errors.As(err, &re) && !re.Retryable() {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		logger.Warn("Retrieval attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		metrics.RetrievalBackoff.Observe(wait.Seconds())
		if err := sleep(ctx, wait); err != nil {
			return permanent(fmt.Errorf("backoff interrupted: %w", err))
		}
	}
	return fmt.Errorf("exceeded %d retrieval attempts: %w", attempts, last)
}
