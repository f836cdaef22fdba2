package circuitbreaker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the Redis commands used for shared workflow state.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, settings Settings, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWrapper{
		client: client,
		cb:     NewInstrumented(DependencyRedis, settings.ToConfig(), logger),
		logger: logger,
	}
}

// run executes cmd through the breaker; redis.Nil is a miss, not a failure.
func (rw *RedisWrapper) run(ctx context.Context, cmd func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if err := cmd(); err != nil && err != redis.Nil {
			return err
		}
		return nil
	})
	recordRequest(rw.cb, err == nil)
	return err
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.run(ctx, func() error { return rw.client.Ping(ctx).Err() })
}

// HSet sets fields on a hash.
func (rw *RedisWrapper) HSet(ctx context.Context, key string, values ...interface{}) error {
	return rw.run(ctx, func() error { return rw.client.HSet(ctx, key, values...).Err() })
}

// HGetAll returns every field of a hash; a missing key yields an empty map.
func (rw *RedisWrapper) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := rw.run(ctx, func() error {
		res, err := rw.client.HGetAll(ctx, key).Result()
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Expire sets a TTL on key.
func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rw.run(ctx, func() error { return rw.client.Expire(ctx, key, ttl).Err() })
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.IsOpen()
}
