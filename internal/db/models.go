package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflow_executions (
		workflow_id   TEXT PRIMARY KEY,
		query         TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		started_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ NOT NULL,
		duration_ms   BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stage_results (
		workflow_id   TEXT NOT NULL REFERENCES workflow_executions(workflow_id) ON DELETE CASCADE,
		stage_index   INTEGER NOT NULL,
		agent_type    TEXT NOT NULL,
		stage_status  TEXT NOT NULL,
		success       BOOLEAN NOT NULL,
		confidence    DOUBLE PRECISION,
		output        JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (workflow_id, stage_index)
	)`,
}

// JSONB represents a PostgreSQL jsonb column holding raw JSON.
type JSONB json.RawMessage

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// WorkflowExecution is one finished workflow.
type WorkflowExecution struct {
	WorkflowID   string    `db:"workflow_id" json:"workflow_id"`
	Query        string    `db:"query" json:"query"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message" json:"error,omitempty"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
	DurationMs   int64     `db:"duration_ms" json:"duration_ms"`
}

// StageResult is the outcome of one stage of a workflow.
type StageResult struct {
	WorkflowID   string          `db:"workflow_id" json:"-"`
	StageIndex   int             `db:"stage_index" json:"stage_index"`
	AgentType    string          `db:"agent_type" json:"agent_type"`
	StageStatus  string          `db:"stage_status" json:"stage_status"`
	Success      bool            `db:"success" json:"success"`
	Confidence   sql.NullFloat64 `db:"confidence" json:"-"`
	Output       JSONB           `db:"output" json:"output,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error,omitempty"`
}

// ExecutionRecord is a workflow row with its stage rows, ordered by stage.
type ExecutionRecord struct {
	WorkflowExecution
	Stages []StageResult `json:"stages"`
}

// MarshalJSON emits the stored document as-is.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (j *JSONB) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}
