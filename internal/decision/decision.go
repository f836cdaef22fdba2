// Package decision turns research and analysis outputs into a verdict: act
// automatically, or escalate to a human.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/confidence"
	"github.com/interflow/orchestrator/internal/metrics"
)

const (
	// DefaultHumanThreshold is the fused confidence needed for automatic approval.
	DefaultHumanThreshold = 0.70
	// InclusionThreshold gates whether a stage's findings become recommendations.
	InclusionThreshold = 0.6

	FallbackRecommendation = "Insufficient data for automated decision."

	ActionProceed               = "Proceed automatically."
	ActionEscalateLowConfidence = "Escalate to human review for low confidence."
	ActionEscalateSystemError   = "Escalate to human review due to system error."
)

// Maker fuses upstream confidences and applies the human threshold.
// The threshold can be changed while requests are in flight.
type Maker struct {
	threshold atomic.Uint64
	fuse      func(values ...float64) float64
	logger    *zap.Logger
}

// NewMaker creates a decision maker with the given human threshold.
func NewMaker(threshold float64, logger *zap.Logger) (*Maker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Maker{fuse: confidence.Fuse, logger: logger}
	if err := m.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return m, nil
}

// Threshold returns the current human threshold.
func (m *Maker) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// SetThreshold replaces the human threshold. Values outside [0, 1] are rejected.
func (m *Maker) SetThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return agents.Inputf("set threshold", "human threshold %v outside [0, 1]", v)
	}
	old := m.threshold.Swap(math.Float64bits(v))
	if old != 0 && math.Float64frombits(old) != v {
		m.logger.Info("Human threshold updated",
			zap.Float64("from", math.Float64frombits(old)),
			zap.Float64("to", v),
		)
	}
	return nil
}

// Decide fuses the two upstream outputs. It never panics; internal faults yield
// a DecisionOutput with status error.
func (m *Maker) Decide(research agents.ResearchOutput, analysis agents.AnalysisOutput) (out agents.DecisionOutput) {
	defer func() {
		if p := recover(); p != nil {
			out = failure(agents.NewFusionError("decide", fmt.Errorf("panic: %v", p)))
		}
		metrics.Decisions.WithLabelValues(string(out.Status)).Inc()
		if out.Status != agents.DecisionFailed {
			metrics.DecisionConfidence.Observe(out.Confidence)
		}
		if out.Status == agents.DecisionFailed {
			m.logger.Error("Decision stage failed", zap.String("error", out.Error))
		}
	}()

	conf := m.fuse(research.Confidence, analysis.Confidence)
	if math.IsNaN(conf) || math.IsInf(conf, 0) || conf < 0 || conf > 1 {
		return failure(agents.NewFusionError("decide", fmt.Errorf("fused confidence %v out of range", conf)))
	}

	var recs []string
	if analysis.Confidence >= InclusionThreshold {
		for _, insight := range analysis.Insights {
			recs = append(recs, "Data insight: "+insight)
		}
	}
	if research.Confidence >= InclusionThreshold {
		for _, r := range research.Results {
			recs = append(recs, "Research: "+summarize(r))
		}
	}
	if len(recs) == 0 {
		recs = []string{FallbackRecommendation}
	}

	out = agents.DecisionOutput{Recommendations: recs, Confidence: conf}
	if conf >= m.Threshold() {
		out.Status = agents.AutoApproved
		out.NextAction = ActionProceed
	} else {
		out.Status = agents.HumanVerificationRequired
		out.NextAction = ActionEscalateLowConfidence
	}
	return out
}

// Handle lets a standalone decision task run through the router.
func (m *Maker) Handle(_ context.Context, in agents.Input) (agents.Output, error) {
	di, ok := in.(agents.DecisionInput)
	if !ok {
		return nil, agents.Inputf("decision", "expected decision input, got %T", in)
	}
	out := m.Decide(di.Research, di.Analysis)
	if out.Status == agents.DecisionFailed {
		return nil, agents.NewFusionError("decision", errors.New(out.Error))
	}
	return out, nil
}

func failure(err error) agents.DecisionOutput {
	return agents.DecisionOutput{
		Recommendations: []string{},
		Confidence:      0,
		Status:          agents.DecisionFailed,
		NextAction:      ActionEscalateSystemError,
		Error:           err.Error(),
	}
}

// summarize renders a research record for a recommendation line.
func summarize(r agents.Record) string {
	for _, key := range []string{"title", "text", "snippet"} {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprint(map[string]any(r))
	}
	return string(b)
}
