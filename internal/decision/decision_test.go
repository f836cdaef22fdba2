package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/interflow/orchestrator/internal/agents"
)

func newMaker(t *testing.T) *Maker {
	m, err := NewMaker(DefaultHumanThreshold, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestDecideAutoApproved(t *testing.T) {
	m := newMaker(t)
	out := m.Decide(
		agents.ResearchOutput{Results: []agents.Record{{"title": "Grid storage report"}}, Confidence: 0.9},
		agents.AnalysisOutput{Insights: []string{"price: mean=1.00"}, Confidence: 0.8},
	)
	assert.Equal(t, 0.85, out.Confidence)
	assert.Equal(t, agents.AutoApproved, out.Status)
	assert.Equal(t, ActionProceed, out.NextAction)
	assert.Equal(t, []string{"Data insight: price: mean=1.00", "Research: Grid storage report"}, out.Recommendations)
	assert.Empty(t, out.Error)
}

func TestDecideEscalatesLowConfidence(t *testing.T) {
	m := newMaker(t)
	out := m.Decide(
		agents.ResearchOutput{Results: []agents.Record{{"title": "x"}}, Confidence: 0.4},
		agents.AnalysisOutput{Insights: []string{"a"}, Confidence: 0.9},
	)
	assert.Equal(t, 0.6, out.Confidence)
	assert.Equal(t, agents.HumanVerificationRequired, out.Status)
	assert.Equal(t, ActionEscalateLowConfidence, out.NextAction)
	assert.Equal(t, []string{"Data insight: a"}, out.Recommendations)
}

func TestDecideThresholdBoundary(t *testing.T) {
	m := newMaker(t)
	at := m.Decide(agents.ResearchOutput{Confidence: 0.7}, agents.AnalysisOutput{Confidence: 0.7})
	assert.Equal(t, 0.7, at.Confidence)
	assert.Equal(t, agents.AutoApproved, at.Status)

	below := m.Decide(agents.ResearchOutput{Confidence: 0.69}, agents.AnalysisOutput{Confidence: 0.69})
	assert.Equal(t, 0.69, below.Confidence)
	assert.Equal(t, agents.HumanVerificationRequired, below.Status)
}

func TestDecideFallbackRecommendation(t *testing.T) {
	m := newMaker(t)
	out := m.Decide(agents.ResearchOutput{Confidence: 0.5}, agents.AnalysisOutput{Insights: []string{"ignored"}, Confidence: 0.59})
	assert.Equal(t, []string{FallbackRecommendation}, out.Recommendations)

	failedUpstream := m.Decide(agents.ResearchOutput{}, agents.AnalysisOutput{})
	assert.Equal(t, 0.0, failedUpstream.Confidence)
	assert.Equal(t, agents.HumanVerificationRequired, failedUpstream.Status)
	assert.Equal(t, []string{FallbackRecommendation}, failedUpstream.Recommendations)
}

func TestDecideSummarizesRecords(t *testing.T) {
	m := newMaker(t)
	out := m.Decide(
		agents.ResearchOutput{Results: []agents.Record{{"url": "https://a", "score": 2}}, Confidence: 1},
		agents.AnalysisOutput{Confidence: 1},
	)
	assert.Equal(t, []string{`Research: {"score":2,"url":"https://a"}`}, out.Recommendations)
}

func TestDecideInternalFault(t *testing.T) {
	m := newMaker(t)
	m.fuse = func(...float64) float64 { panic("matrix exploded") }

	var out agents.DecisionOutput
	require.NotPanics(t, func() {
		out = m.Decide(agents.ResearchOutput{Confidence: 0.9}, agents.AnalysisOutput{Confidence: 0.9})
	})
	assert.Equal(t, agents.DecisionFailed, out.Status)
	assert.Empty(t, out.Recommendations)
	assert.Equal(t, 0.0, out.Confidence)
	assert.Equal(t, ActionEscalateSystemError, out.NextAction)
	assert.Contains(t, out.Error, "matrix exploded")

	m.fuse = func(...float64) float64 { return 1.5 }
	out = m.Decide(agents.ResearchOutput{}, agents.AnalysisOutput{})
	assert.Equal(t, agents.DecisionFailed, out.Status)
}

func TestThresholdUpdates(t *testing.T) {
	m := newMaker(t)
	require.NoError(t, m.SetThreshold(0.5))
	assert.Equal(t, 0.5, m.Threshold())
	out := m.Decide(agents.ResearchOutput{Confidence: 0.6}, agents.AnalysisOutput{Confidence: 0.6})
	assert.Equal(t, agents.AutoApproved, out.Status)

	assert.Error(t, m.SetThreshold(1.2))
	assert.Equal(t, 0.5, m.Threshold())

	_, err := NewMaker(-0.1, nil)
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	m := newMaker(t)
	out, err := m.Handle(context.Background(), agents.DecisionInput{
		Research: agents.ResearchOutput{Confidence: 0.9},
		Analysis: agents.AnalysisOutput{Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, agents.AutoApproved, out.(agents.DecisionOutput).Status)

	_, err = m.Handle(context.Background(), agents.ResearchInput{Query: "q"})
	assert.True(t, agents.IsKind(err, agents.KindInputValidation))
}

func TestHandleSurfacesFusionFault(t *testing.T) {
	m := newMaker(t)
	m.fuse = func(...float64) float64 { panic("matrix exploded") }

	out, err := m.Handle(context.Background(), agents.DecisionInput{
		Research: agents.ResearchOutput{Confidence: 0.9},
		Analysis: agents.AnalysisOutput{Confidence: 0.9},
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, agents.IsKind(err, agents.KindFusion))
	assert.Contains(t, err.Error(), "matrix exploded")
}
