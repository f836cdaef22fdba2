package agents

import (
	"encoding/json"
	"fmt"
)

const (
	DefaultPriority = 1
	MinPriority     = 0
	MaxPriority     = 10
)

// Task is one unit of work dispatched to a single agent.
type Task struct {
	AgentType AgentType `json:"agent_type"`
	Input     Input     `json:"input_data"`
	Priority  int       `json:"priority"`
}

// NewTask builds a task with the default priority.
func NewTask(in Input) Task {
	return Task{AgentType: InputType(in), Input: in, Priority: DefaultPriority}
}

// UnmarshalJSON selects the input variant from agent_type and defaults the priority.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw struct {
		AgentType string          `json:"agent_type"`
		Input     json.RawMessage `json:"input_data"`
		Priority  *int            `json:"priority"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	at, err := ParseAgentType(raw.AgentType)
	if err != nil {
		return err
	}
	in, err := DecodeInput(at, raw.Input)
	if err != nil {
		return err
	}
	t.AgentType = at
	t.Input = in
	t.Priority = DefaultPriority
	if raw.Priority != nil {
		t.Priority = *raw.Priority
	}
	return nil
}

// Validate checks the priority range and that the input variant matches the agent type.
func (t Task) Validate() error {
	if !t.AgentType.Valid() {
		return Inputf("validate task", "unknown agent type %q", t.AgentType)
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return Inputf("validate task", "priority %d outside [%d, %d]", t.Priority, MinPriority, MaxPriority)
	}
	if t.Input != nil && InputType(t.Input) != t.AgentType {
		return Inputf("validate task", "%s task carries %s input", t.AgentType, InputType(t.Input))
	}
	return nil
}

// Result is the outcome of dispatching one task. A failed Result always carries an error message.
type Result struct {
	AgentType AgentType `json:"agent_type"`
	Output    Output    `json:"output_data,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Succeeded wraps a successful agent output.
func Succeeded(t AgentType, out Output) Result {
	return Result{AgentType: t, Output: out, Success: true}
}

// Failed builds a failed Result. An empty message is replaced so a failed result always carries an error.
func Failed(t AgentType, msg string) Result {
	if msg == "" {
		msg = fmt.Sprintf("%s agent failed", t)
	}
	return Result{AgentType: t, Success: false, Error: msg}
}

// UnmarshalJSON decodes the output variant selected by agent_type.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw struct {
		AgentType AgentType       `json:"agent_type"`
		Output    json.RawMessage `json:"output_data"`
		Success   bool            `json:"success"`
		Error     string          `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out, err := DecodeOutput(raw.AgentType, raw.Output)
	if err != nil {
		return fmt.Errorf("decode %s output: %w", raw.AgentType, err)
	}
	*r = Result{AgentType: raw.AgentType, Output: out, Success: raw.Success, Error: raw.Error}
	return nil
}
