package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSleep struct {
	waits []time.Duration
}

func (s *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func testPolicy(s *recordingSleep) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: s.sleep}
}

func TestPolicyExhaustsWithIncreasingWaits(t *testing.T) {
	s := &recordingSleep{}
	calls := 0
	err := testPolicy(s).Do(context.Background(), zaptest.NewLogger(t), func(context.Context, int) error {
		calls++
		return rateLimited(429, errors.New("slow down"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "no fourth attempt")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, s.waits)
	for i := 1; i < len(s.waits); i++ {
		assert.Greater(t, s.waits[i], s.waits[i-1])
	}
	var re *RetrievalError
	assert.True(t, errors.As(err, &re))
}

func TestPolicySucceedsAfterRetry(t *testing.T) {
	s := &recordingSleep{}
	err := testPolicy(s).Do(context.Background(), zaptest.NewLogger(t), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return transient(503, errors.New("busy"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, s.waits)
}

func TestPolicyStopsOnPermanentError(t *testing.T) {
	s := &recordingSleep{}
	calls := 0
	err := testPolicy(s).Do(context.Background(), zaptest.NewLogger(t), func(context.Context, int) error {
		calls++
		return permanent(context.Canceled)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicyInterruptedSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, zaptest.NewLogger(t), func(context.Context, int) error {
		calls++
		return transient(0, errors.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultPolicyBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
}
