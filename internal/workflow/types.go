package workflow

import (
	"context"
	"time"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/state"
)

// OverallStatus summarises a finished workflow.
type OverallStatus string

const (
	StatusSuccess      OverallStatus = "success"
	StatusError        OverallStatus = "error"
	StatusPendingHuman OverallStatus = "pending_human"
)

// Request is a workflow submission: one task per pipeline stage, in stage order.
type Request struct {
	WorkflowID string        `json:"workflow_id,omitempty"`
	Tasks      []agents.Task `json:"tasks"`
}

// Validate checks the request shape. Task types are checked per stage at run time.
func (r Request) Validate() error {
	if len(r.Tasks) != agents.StageCount {
		return agents.Inputf("workflow request", "expected %d tasks, got %d", agents.StageCount, len(r.Tasks))
	}
	for i, t := range r.Tasks {
		if t.Priority < agents.MinPriority || t.Priority > agents.MaxPriority {
			return agents.Inputf("workflow request", "task %d priority %d outside [%d, %d]", i, t.Priority, agents.MinPriority, agents.MaxPriority)
		}
	}
	return nil
}

// Response is the outcome of one workflow run. Results always has one entry per stage.
type Response struct {
	WorkflowID string          `json:"workflow_id"`
	Results    []agents.Result `json:"results"`
	Status     OverallStatus   `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// Execution is the record handed to a Recorder once a workflow finishes.
type Execution struct {
	WorkflowID string
	Query      string
	Status     OverallStatus
	Error      string
	Results    []agents.Result
	Stages     []state.StageStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// Dispatcher routes a task to its agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, task agents.Task) agents.Result
}

// Decider produces the decision stage verdict.
type Decider interface {
	Decide(research agents.ResearchOutput, analysis agents.AnalysisOutput) agents.DecisionOutput
}

// StateStore records stage transitions.
type StateStore interface {
	StartWorkflow(id string)
	SetStatus(id string, idx int, status state.StageStatus)
}

// Recorder persists finished workflows. Failures are logged, never surfaced.
type Recorder interface {
	RecordWorkflow(ctx context.Context, exec Execution) error
}

// Notifier is told when a workflow reaches its overall status.
type Notifier interface {
	WorkflowCompleted(workflowID, status, message string)
}
