package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/interflow/orchestrator/internal/circuitbreaker"
)

func TestRedisMirrorRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, circuitbreaker.SettingsFor(circuitbreaker.DependencyRedis), zaptest.NewLogger(t))
	defer wrapper.Close()

	mirror := NewRedisMirror(wrapper, time.Hour, zaptest.NewLogger(t))
	tr := NewTracker(zaptest.NewLogger(t), mirror)
	tr.SetStatus("wf-1", 0, Finished)
	tr.SetStatus("wf-1", 1, Error)
	tr.SetStatus("wf-1", 2, AwaitingHuman)
	mirror.Close()

	got, ok, err := mirror.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[int]StageStatus{0: Finished, 1: Error, 2: AwaitingHuman}, got)
	assert.Equal(t, time.Hour, s.TTL("interflow:workflow:wf-1:stages"))

	_, ok, err = mirror.Load(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) HSet(context.Context, string, ...interface{}) error { return errors.New("down") }
func (failingStore) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, errors.New("down")
}
func (failingStore) Expire(context.Context, string, time.Duration) error { return errors.New("down") }

func TestRedisMirrorFailureDoesNotAffectTracker(t *testing.T) {
	mirror := NewRedisMirror(failingStore{}, time.Minute, zaptest.NewLogger(t))
	tr := NewTracker(zaptest.NewLogger(t), mirror)
	tr.SetStatus("wf", 0, InProgress)
	mirror.Close()
	s, ok := tr.Status("wf", 0)
	require.True(t, ok)
	assert.Equal(t, InProgress, s)

	other := NewRedisMirror(failingStore{}, 0, nil)
	defer other.Close()
	_, _, err := other.Load(context.Background(), "wf")
	assert.Error(t, err)
}

// stallingStore blocks every write until its context expires.
type stallingStore struct {
	mu     sync.Mutex
	writes int
}

func (s *stallingStore) HSet(ctx context.Context, _ string, _ ...interface{}) error {
	<-ctx.Done()
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return ctx.Err()
}
func (s *stallingStore) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, nil
}
func (s *stallingStore) Expire(context.Context, string, time.Duration) error { return nil }

func TestRedisMirrorSlowStoreDoesNotStallTracker(t *testing.T) {
	store := &stallingStore{}
	mirror := NewRedisMirror(store, time.Minute, zaptest.NewLogger(t))
	mirror.timeout = 20 * time.Millisecond
	tr := NewTracker(zaptest.NewLogger(t), mirror)

	start := time.Now()
	for idx := 0; idx < 3; idx++ {
		tr.SetStatus("wf-slow", idx, InProgress)
		tr.SetStatus("wf-slow", idx, Finished)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "transitions do not wait for the store")

	mirror.Close()
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 6, store.writes, "queued writes are drained on close")

	tr.SetStatus("wf-slow", 0, Error)
}
