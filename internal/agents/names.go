package agents

import "fmt"

// AgentType identifies one pipeline capability.
type AgentType string

const (
	Research AgentType = "research"
	Analysis AgentType = "analysis"
	Decision AgentType = "decision"
)

// Stage indexes of the fixed pipeline. Stages always run in this order.
const (
	IdxResearch = 0
	IdxAnalysis = 1
	IdxDecision = 2
	StageCount  = 3
)

// PipelineTypes lists the agent type expected at each stage index.
var PipelineTypes = [StageCount]AgentType{Research, Analysis, Decision}

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case Research, Analysis, Decision:
		return true
	}
	return false
}

func (t AgentType) String() string { return string(t) }

// ParseAgentType converts a wire value to an AgentType.
func ParseAgentType(s string) (AgentType, error) {
	t := AgentType(s)
	if !t.Valid() {
		return "", NewInputError("parse agent type", fmt.Errorf("unknown agent type %q", s))
	}
	return t, nil
}
