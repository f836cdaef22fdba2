package ratecontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimitForProvider(t *testing.T) {
	assert.Equal(t, RateLimit{RPM: 50, Burst: 5}, LimitForProvider(" Perplexity ", nil))
	assert.Equal(t, RateLimit{RPM: 30, Burst: 3}, LimitForProvider("somewhere", nil))
	assert.Equal(t, RateLimit{RPM: 7, Burst: 1},
		LimitForProvider("perplexity", map[string]RateLimit{"perplexity": {RPM: 7, Burst: 1}}))
}

func TestCombineLimits(t *testing.T) {
	combined := CombineLimits(RateLimit{RPM: 30, Burst: 0}, RateLimit{RPM: 20, Burst: 4})
	assert.Equal(t, 20, combined.RPM)
	assert.Equal(t, 4, combined.Burst)
	assert.Equal(t, RateLimit{}, CombineLimits(RateLimit{}, RateLimit{}))
}

func TestMinInterval(t *testing.T) {
	assert.Equal(t, 2*time.Second, MinInterval(RateLimit{RPM: 30}))
	assert.Equal(t, time.Duration(0), MinInterval(RateLimit{}))
}

func TestNewLimiter(t *testing.T) {
	unlimited := NewLimiter(RateLimit{})
	assert.Equal(t, rate.Inf, unlimited.Limit())
	require.NoError(t, unlimited.Wait(context.Background()))

	l := NewLimiter(RateLimit{RPM: 60, Burst: 2})
	assert.Equal(t, rate.Limit(1), l.Limit())
	assert.Equal(t, 2, l.Burst())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
