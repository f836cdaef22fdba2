package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/interflow/orchestrator/internal/state"
)

// Event types published on the hub.
const (
	EventStageTransition   = "stage.transition"
	EventWorkflowCompleted = "workflow.completed"
)

// Event is one workflow progress notification sent to subscribers.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	StageIndex int       `json:"stage_index"`
	Stage      string    `json:"stage,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        uint64    `json:"seq"`
}

// Marshal returns the JSON encoding of the event.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const (
	DefaultCapacity     = 64
	DefaultMaxWorkflows = 1024
)

// Hub is an in-memory pub/sub of workflow events with a bounded replay ring per workflow.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[string]map[chan Event]struct{}
	history      map[string]*ring
	order        []string
	capacity     int
	maxWorkflows int
}

// NewHub creates a hub keeping capacity events per workflow for at most maxWorkflows workflows.
func NewHub(capacity, maxWorkflows int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxWorkflows <= 0 {
		maxWorkflows = DefaultMaxWorkflows
	}
	return &Hub{
		subscribers:  make(map[string]map[chan Event]struct{}),
		history:      make(map[string]*ring),
		capacity:     capacity,
		maxWorkflows: maxWorkflows,
	}
}

// Subscribe adds a subscriber channel for workflowID; caller must drain and call Unsubscribe.
func (h *Hub) Subscribe(workflowID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		h.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (h *Hub) Unsubscribe(workflowID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[workflowID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, workflowID)
		}
	}
}

// Publish assigns the next sequence number and fans the event out without blocking.
// Slow subscribers miss events and can catch up with ReplaySince.
func (h *Hub) Publish(workflowID string, evt Event) Event {
	h.mu.Lock()
	rg := h.history[workflowID]
	if rg == nil {
		rg = newRing(h.capacity)
		h.history[workflowID] = rg
		h.order = append(h.order, workflowID)
		h.evictLocked()
	}
	rg.nextSeq++
	evt.WorkflowID = workflowID
	evt.Seq = rg.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	rg.push(evt)
	for ch := range h.subscribers[workflowID] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
	return evt
}

// ReplaySince returns retained events with Seq greater than since.
func (h *Hub) ReplaySince(workflowID string, since uint64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg := h.history[workflowID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// OnTransition publishes a stage transition recorded by the state tracker.
func (h *Hub) OnTransition(tr state.Transition) {
	h.Publish(tr.WorkflowID, Event{
		Type:       EventStageTransition,
		StageIndex: tr.StageIndex,
		Stage:      tr.Stage,
		Status:     string(tr.Status),
		Timestamp:  tr.At,
	})
}

// WorkflowCompleted publishes the final outcome of a workflow.
func (h *Hub) WorkflowCompleted(workflowID, status, message string) {
	h.Publish(workflowID, Event{
		Type:       EventWorkflowCompleted,
		StageIndex: -1,
		Status:     status,
		Message:    message,
	})
}

// evictLocked drops the oldest workflow histories that have no subscribers.
func (h *Hub) evictLocked() {
	for len(h.order) > h.maxWorkflows {
		victim := -1
		for i, id := range h.order {
			if len(h.subscribers[id]) == 0 {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		delete(h.history, h.order[victim])
		h.order = append(h.order[:victim], h.order[victim+1:]...)
	}
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
