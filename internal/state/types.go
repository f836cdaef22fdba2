package state

import (
	"time"

	"github.com/interflow/orchestrator/internal/agents"
)

// StageStatus is the lifecycle position of one pipeline stage.
type StageStatus string

const (
	Pending       StageStatus = "pending"
	InProgress    StageStatus = "in_progress"
	Finished      StageStatus = "finished"
	Error         StageStatus = "error"
	AwaitingHuman StageStatus = "awaiting_human"
)

// Terminal reports whether no further transition is expected for a stage in status s.
func (s StageStatus) Terminal() bool {
	switch s {
	case Finished, Error, AwaitingHuman:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s StageStatus) Valid() bool {
	return s == Pending || s == InProgress || s.Terminal()
}

// Transition is one recorded status change.
type Transition struct {
	WorkflowID string      `json:"workflow_id"`
	StageIndex int         `json:"stage_index"`
	Stage      string      `json:"stage"`
	Status     StageStatus `json:"status"`
	At         time.Time   `json:"at"`
}

// Listener observes transitions. Listeners run synchronously after the tracker
// lock is released and must not block for long.
type Listener interface {
	OnTransition(tr Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(tr Transition)

func (f ListenerFunc) OnTransition(tr Transition) { f(tr) }

// StageName returns the pipeline role name for a stage index.
func StageName(idx int) string {
	if idx >= 0 && idx < agents.StageCount {
		return agents.PipelineTypes[idx].String()
	}
	return ""
}
