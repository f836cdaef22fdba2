package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/metrics"
	"github.com/interflow/orchestrator/internal/workflow"
)

// ErrNotFound is returned when no execution is stored for a workflow id.
var ErrNotFound = errors.New("workflow execution not found")

const upsertExecution = `
INSERT INTO workflow_executions
	(workflow_id, query, status, error_message, started_at, completed_at, duration_ms)
VALUES
	(:workflow_id, :query, :status, :error_message, :started_at, :completed_at, :duration_ms)
ON CONFLICT (workflow_id) DO UPDATE SET
	query = EXCLUDED.query,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	duration_ms = EXCLUDED.duration_ms`

const upsertStage = `
INSERT INTO stage_results
	(workflow_id, stage_index, agent_type, stage_status, success, confidence, output, error_message)
VALUES
	(:workflow_id, :stage_index, :agent_type, :stage_status, :success, :confidence, :output, :error_message)
ON CONFLICT (workflow_id, stage_index) DO UPDATE SET
	agent_type = EXCLUDED.agent_type,
	stage_status = EXCLUDED.stage_status,
	success = EXCLUDED.success,
	confidence = EXCLUDED.confidence,
	output = EXCLUDED.output,
	error_message = EXCLUDED.error_message`

// Recorder persists finished workflows to PostgreSQL.
type Recorder struct {
	client *Client
	logger *zap.Logger
}

// NewRecorder creates a recorder over client.
func NewRecorder(client *Client, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{client: client, logger: logger}
}

// RecordWorkflow writes the execution row and one row per stage in a single transaction.
func (r *Recorder) RecordWorkflow(ctx context.Context, exec workflow.Execution) error {
	row, stages, err := rowsFor(exec)
	if err != nil {
		metrics.RecorderWrites.WithLabelValues("error").Inc()
		return err
	}

	err = r.client.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, upsertExecution, row); err != nil {
			return fmt.Errorf("save workflow execution: %w", err)
		}
		for _, s := range stages {
			if _, err := tx.NamedExecContext(ctx, upsertStage, s); err != nil {
				return fmt.Errorf("save stage %d: %w", s.StageIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecorderWrites.WithLabelValues("error").Inc()
		return err
	}

	metrics.RecorderWrites.WithLabelValues("success").Inc()
	r.logger.Debug("Workflow execution recorded",
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("status", string(exec.Status)),
	)
	return nil
}

// GetExecution loads a stored workflow with its stages.
func (r *Recorder) GetExecution(ctx context.Context, workflowID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	found := true
	err := r.client.breaker.Execute(ctx, func() error {
		err := r.client.db.GetContext(ctx, &rec.WorkflowExecution, `
SELECT workflow_id, query, status, error_message, started_at, completed_at, duration_ms
FROM workflow_executions WHERE workflow_id = $1`, workflowID)
		if errors.Is(err, sql.ErrNoRows) {
			// a miss is not a dependency failure
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return r.client.db.SelectContext(ctx, &rec.Stages, `
SELECT workflow_id, stage_index, agent_type, stage_status, success, confidence, output, error_message
FROM stage_results WHERE workflow_id = $1 ORDER BY stage_index`, workflowID)
	})
	if err != nil {
		return nil, fmt.Errorf("load workflow execution %s: %w", workflowID, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func rowsFor(exec workflow.Execution) (WorkflowExecution, []StageResult, error) {
	row := WorkflowExecution{
		WorkflowID:   exec.WorkflowID,
		Query:        exec.Query,
		Status:       string(exec.Status),
		ErrorMessage: exec.Error,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.FinishedAt,
		DurationMs:   exec.FinishedAt.Sub(exec.StartedAt).Milliseconds(),
	}

	stages := make([]StageResult, 0, len(exec.Results))
	for i, res := range exec.Results {
		s := StageResult{
			WorkflowID:   exec.WorkflowID,
			StageIndex:   i,
			AgentType:    res.AgentType.String(),
			Success:      res.Success,
			ErrorMessage: res.Error,
		}
		if i < len(exec.Stages) {
			s.StageStatus = string(exec.Stages[i])
		}
		if res.Output != nil {
			b, err := json.Marshal(res.Output)
			if err != nil {
				return row, nil, fmt.Errorf("encode stage %d output: %w", i, err)
			}
			s.Output = JSONB(b)
			if c, ok := confidenceOf(res.Output); ok {
				s.Confidence = sql.NullFloat64{Float64: c, Valid: true}
			}
		}
		stages = append(stages, s)
	}
	return row, stages, nil
}

func confidenceOf(out agents.Output) (float64, bool) {
	switch o := out.(type) {
	case agents.ResearchOutput:
		return o.Confidence, true
	case agents.AnalysisOutput:
		return o.Confidence, true
	case agents.DecisionOutput:
		return o.Confidence, true
	}
	return 0, false
}
