package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/metrics"
)

// HashStore is the subset of Redis used by the mirror.
type HashStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisMirror copies every transition into a Redis hash so that any instance can
// answer status queries. Writes are queued and applied in order by one writer
// goroutine, so a slow Redis never stalls the pipeline. Write failures and
// transitions dropped on a full queue are logged and counted, never surfaced.
type RedisMirror struct {
	store   HashStore
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Transition
	done   chan struct{}
}

const (
	mirrorQueueSize    = 1024
	mirrorWriteTimeout = 500 * time.Millisecond
)

// NewRedisMirror creates a mirror writing hashes that expire after ttl and
// starts its writer. Call Close to flush pending writes.
func NewRedisMirror(store HashStore, ttl time.Duration, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RedisMirror{
		store:   store,
		ttl:     ttl,
		timeout: mirrorWriteTimeout,
		logger:  logger,
		queue:   make(chan Transition, mirrorQueueSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func mirrorKey(workflowID string) string {
	return fmt.Sprintf("interflow:workflow:%s:stages", workflowID)
}

// OnTransition queues the transition without blocking.
func (m *RedisMirror) OnTransition(tr Transition) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- tr:
	default:
		metrics.StateMirrorErrors.Inc()
		m.logger.Warn("State mirror queue full, dropping transition",
			zap.String("workflow_id", tr.WorkflowID),
			zap.Int("stage_index", tr.StageIndex),
			zap.String("status", string(tr.Status)),
		)
	}
}

// Close stops accepting transitions and waits for queued ones to be written.
func (m *RedisMirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for tr := range m.queue {
		m.write(tr)
	}
}

func (m *RedisMirror) write(tr Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	key := mirrorKey(tr.WorkflowID)
	err := m.store.HSet(ctx, key, strconv.Itoa(tr.StageIndex), string(tr.Status))
	if err == nil && m.ttl > 0 {
		err = m.store.Expire(ctx, key, m.ttl)
	}
	if err != nil {
		metrics.StateMirrorErrors.Inc()
		m.logger.Warn("Failed to mirror stage transition",
			zap.String("workflow_id", tr.WorkflowID),
			zap.Int("stage_index", tr.StageIndex),
			zap.String("status", string(tr.Status)),
			zap.Error(err),
		)
	}
}

// Load reads the mirrored stage statuses of a workflow. ok is false when nothing is stored.
func (m *RedisMirror) Load(ctx context.Context, workflowID string) (map[int]StageStatus, bool, error) {
	raw, err := m.store.HGetAll(ctx, mirrorKey(workflowID))
	if err != nil {
		return nil, false, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	out := make(map[int]StageStatus, len(raw))
	for field, status := range raw {
		idx, err := strconv.Atoi(field)
		if err != nil {
			m.logger.Debug("Skipping malformed stage field", zap.String("field", field))
			continue
		}
		out[idx] = StageStatus(status)
	}
	return out, true, nil
}
