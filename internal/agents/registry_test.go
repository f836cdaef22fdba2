package agents

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func constHandler(out Output) Handler {
	return HandlerFunc(func(context.Context, Input) (Output, error) { return out, nil })
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	_, ok := r.Lookup(Research)
	assert.False(t, ok)
	assert.Empty(t, r.HealthStatus())

	r.Register(Research, constHandler(ResearchOutput{Confidence: 0.1}))
	h, ok := r.Lookup(Research)
	require.True(t, ok)
	out, err := h.Handle(context.Background(), ResearchInput{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.(ResearchOutput).Confidence)
	assert.Equal(t, map[AgentType]bool{Research: true}, r.HealthStatus())
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Analysis, constHandler(AnalysisOutput{Confidence: 0.1}))
	r.Register(Analysis, constHandler(AnalysisOutput{Confidence: 0.9}))

	h, ok := r.Lookup(Analysis)
	require.True(t, ok)
	out, err := h.Handle(context.Background(), AnalysisInput{})
	require.NoError(t, err)
	assert.Equal(t, 0.9, out.(AnalysisOutput).Confidence)
	assert.Equal(t, []AgentType{Analysis}, r.Types())
}

func TestRegistryIgnoresNilHandler(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(Decision, nil)
	_, ok := r.Lookup(Decision)
	assert.False(t, ok)
}

func TestRegistryHealthStatusIsACopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Research, constHandler(ResearchOutput{}))
	hs := r.HealthStatus()
	hs[Research] = false
	hs[Decision] = true
	assert.Equal(t, map[AgentType]bool{Research: true}, r.HealthStatus())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	types := []AgentType{Research, Analysis, Decision}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(types[i%3], constHandler(ResearchOutput{Citations: []string{fmt.Sprint(i)}}))
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Lookup(types[i%3])
			r.HealthStatus()
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Types(), 3)
	for _, ok := range r.HealthStatus() {
		assert.True(t, ok)
	}
}

type reportingHandler struct {
	Handler
	healthy bool
}

func (h reportingHandler) Healthy(context.Context) bool { return h.healthy }

func TestRegistryRefreshHealth(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(Research, reportingHandler{Handler: constHandler(ResearchOutput{}), healthy: false})
	r.Register(Analysis, constHandler(AnalysisOutput{}))

	assert.Equal(t, map[AgentType]bool{Research: true, Analysis: true}, r.HealthStatus(), "registration marks healthy")

	got := r.RefreshHealth(context.Background())
	assert.Equal(t, map[AgentType]bool{Research: false, Analysis: true}, got)

	r.Register(Research, reportingHandler{Handler: constHandler(ResearchOutput{}), healthy: true})
	assert.True(t, r.RefreshHealth(context.Background())[Research])
}
