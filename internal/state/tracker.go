package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/metrics"
)

// Tracker records workflow_id -> stage_index -> status. Entries are never removed.
type Tracker struct {
	mu        sync.RWMutex
	workflows map[string]map[int]StageStatus
	listeners []Listener
	now       func() time.Time
	logger    *zap.Logger
}

// NewTracker creates an empty tracker notifying the given listeners.
func NewTracker(logger *zap.Logger, listeners ...Listener) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		workflows: make(map[string]map[int]StageStatus),
		listeners: listeners,
		now:       time.Now,
		logger:    logger,
	}
}

// AddListener registers another transition observer.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// StartWorkflow creates an empty stage map for id. An empty id is ignored and an
// existing map is kept.
func (t *Tracker) StartWorkflow(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.workflows[id]; !ok {
		t.workflows[id] = make(map[int]StageStatus)
	}
	t.mu.Unlock()
}

// SetStatus upserts the status of stage idx and notifies listeners.
func (t *Tracker) SetStatus(id string, idx int, status StageStatus) {
	if id == "" {
		t.logger.Debug("Ignoring status for empty workflow id", zap.Int("stage_index", idx))
		return
	}
	t.mu.Lock()
	stages, ok := t.workflows[id]
	if !ok {
		stages = make(map[int]StageStatus)
		t.workflows[id] = stages
	}
	stages[idx] = status
	listeners := t.listeners
	t.mu.Unlock()

	tr := Transition{WorkflowID: id, StageIndex: idx, Stage: StageName(idx), Status: status, At: t.now()}
	metrics.StageTransitions.WithLabelValues(tr.Stage, string(status)).Inc()
	for _, l := range listeners {
		t.notify(l, tr)
	}
}

func (t *Tracker) notify(l Listener, tr Transition) {
	defer func() {
		if p := recover(); p != nil {
			t.logger.Error("State listener panicked",
				zap.String("workflow_id", tr.WorkflowID),
				zap.Int("stage_index", tr.StageIndex),
				zap.Any("panic", p),
			)
		}
	}()
	l.OnTransition(tr)
}

// Status returns the recorded status of one stage.
func (t *Tracker) Status(id string, idx int) (StageStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.workflows[id][idx]
	return s, ok
}

// WorkflowStatuses returns a copy of every recorded stage status for id.
func (t *Tracker) WorkflowStatuses(id string) (map[int]StageStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stages, ok := t.workflows[id]
	if !ok {
		return nil, false
	}
	out := make(map[int]StageStatus, len(stages))
	for idx, s := range stages {
		out[idx] = s
	}
	return out, true
}
