package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapperHashOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := NewRedisWrapper(client, SettingsFor(DependencyRedis), zaptest.NewLogger(t))
	defer wrapper.Close()
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.HSet(ctx, "wf:1", "0", "finished", "1", "in_progress"))
	require.NoError(t, wrapper.Expire(ctx, "wf:1", time.Minute))

	got, err := wrapper.HGetAll(ctx, "wf:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "finished", "1": "in_progress"}, got)
	assert.Equal(t, time.Minute, s.TTL("wf:1"))

	missing, err := wrapper.HGetAll(ctx, "wf:none")
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapperOpensOnFailures(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	settings := SettingsFor(DependencyRedis)
	settings.FailureThreshold = 2
	settings.Timeout = time.Hour
	wrapper := NewRedisWrapper(client, settings, zaptest.NewLogger(t))
	defer wrapper.Close()
	s.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.Error(t, wrapper.Ping(ctx))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.ErrorIs(t, wrapper.HSet(ctx, "k", "f", "v"), ErrCircuitBreakerOpen)
}
