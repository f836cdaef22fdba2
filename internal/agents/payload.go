package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one opaque result row returned by a retrieval provider or fed to analysis.
type Record map[string]any

// Input is the payload handed to an agent. Each agent type has exactly one variant.
type Input interface {
	inputFor() AgentType
}

// Output is the payload an agent produces. Each agent type has exactly one variant.
type Output interface {
	outputOf() AgentType
}

// ResearchInput asks the research agent to gather material for a query.
type ResearchInput struct {
	Query string `json:"query"`
}

// AnalysisInput carries the records to analyse.
type AnalysisInput struct {
	Records []Record `json:"data"`
}

// DecisionInput carries the two upstream outputs the decision stage fuses.
type DecisionInput struct {
	Research ResearchOutput `json:"research"`
	Analysis AnalysisOutput `json:"analysis"`
}

func (ResearchInput) inputFor() AgentType { return Research }
func (AnalysisInput) inputFor() AgentType { return Analysis }
func (DecisionInput) inputFor() AgentType { return Decision }

// InputType returns the agent type an input variant belongs to.
func InputType(in Input) AgentType {
	if in == nil {
		return ""
	}
	return in.inputFor()
}

// UnmarshalJSON accepts records under either "data" or "results".
func (a *AnalysisInput) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data    []Record `json:"data"`
		Results []Record `json:"results"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Records = raw.Data
	if len(a.Records) == 0 {
		a.Records = raw.Results
	}
	return nil
}

// Source describes where a research result came from.
// Relevance and Citations are pointers so that absent values fall back to defaults.
type Source struct {
	Quality   string   `json:"quality,omitempty"`
	Date      string   `json:"date,omitempty"`
	Relevance *float64 `json:"relevance,omitempty"`
	Citations *int     `json:"citations,omitempty"`
}

// ResearchOutput is produced by the research stage.
type ResearchOutput struct {
	Results    []Record `json:"results"`
	Citations  []string `json:"citations"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// ColumnStats summarises one numeric column.
type ColumnStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// AnalysisOutput is produced by the analysis stage.
type AnalysisOutput struct {
	Statistics map[string]ColumnStats `json:"statistics"`
	Trends     []string               `json:"trends"`
	Patterns   []string               `json:"patterns"`
	Insights   []string               `json:"insights"`
	Confidence float64                `json:"confidence"`
}

// DecisionStatus is the verdict of the decision stage.
type DecisionStatus string

const (
	AutoApproved              DecisionStatus = "auto_approved"
	HumanVerificationRequired DecisionStatus = "human_verification_required"
	DecisionFailed            DecisionStatus = "error"
)

// DecisionOutput is produced by the decision stage.
type DecisionOutput struct {
	Recommendations []string       `json:"recommendations"`
	Confidence      float64        `json:"confidence"`
	Status          DecisionStatus `json:"status"`
	NextAction      string         `json:"next_action"`
	Error           string         `json:"error,omitempty"`
}

func (ResearchOutput) outputOf() AgentType { return Research }
func (AnalysisOutput) outputOf() AgentType { return Analysis }
func (DecisionOutput) outputOf() AgentType { return Decision }

// OutputType returns the agent type an output variant belongs to.
func OutputType(out Output) AgentType {
	if out == nil {
		return ""
	}
	return out.outputOf()
}

// DecodeInput decodes the wire payload for the given agent type.
func DecodeInput(t AgentType, raw json.RawMessage) (Input, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	var (
		in  Input
		err error
	)
	switch t {
	case Research:
		var v ResearchInput
		err = json.Unmarshal(raw, &v)
		in = v
	case Analysis:
		var v AnalysisInput
		err = json.Unmarshal(raw, &v)
		in = v
	case Decision:
		var v DecisionInput
		err = json.Unmarshal(raw, &v)
		in = v
	default:
		return nil, Inputf("decode input", "unknown agent type %q", t)
	}
	if err != nil {
		return nil, NewInputError("decode input", fmt.Errorf("%s payload: %w", t, err))
	}
	return in, nil
}

// DecodeOutput decodes a wire output for the given agent type.
func DecodeOutput(t AgentType, raw json.RawMessage) (Output, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	switch t {
	case Research:
		var v ResearchOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case Analysis:
		var v AnalysisOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case Decision:
		var v DecisionOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown agent type %q", t)
}
