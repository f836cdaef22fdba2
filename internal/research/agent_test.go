package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/interflow/orchestrator/internal/agents"
)

type fakeSearcher struct {
	calls     int
	failFirst int
	err       error
	resp      *SearchResponse
}

func (f *fakeSearcher) Search(context.Context, string) (*SearchResponse, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, f.err
	}
	return f.resp, nil
}

var fixedNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAgent(t *testing.T, s Searcher, waits *recordingSleep) *Agent {
	return NewAgent(s, zaptest.NewLogger(t),
		WithPolicy(testPolicy(waits)),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestAgentProducesScoredOutput(t *testing.T) {
	cites := 10
	s := &fakeSearcher{resp: &SearchResponse{
		Results:   []agents.Record{{"title": "A"}},
		Citations: []string{"doi:1"},
		Sources:   []agents.Source{{Quality: "high", Date: "2026-03-01", Citations: &cites}},
	}}
	a := newTestAgent(t, s, &recordingSleep{})

	out, err := a.Handle(context.Background(), agents.ResearchInput{Query: "batteries"})
	require.NoError(t, err)
	ro := out.(agents.ResearchOutput)
	assert.Equal(t, 1.0, ro.Confidence)
	assert.Equal(t, []string{"doi:1"}, ro.Citations)
}

func TestAgentRetriesThenFailsWithExternalError(t *testing.T) {
	waits := &recordingSleep{}
	s := &fakeSearcher{failFirst: 10, err: rateLimited(429, errors.New("slow down"))}
	a := newTestAgent(t, s, waits)

	_, err := a.Handle(context.Background(), agents.ResearchInput{Query: "q"})
	require.Error(t, err)
	assert.True(t, agents.IsKind(err, agents.KindExternalService))
	assert.Equal(t, 3, s.calls)
	assert.Len(t, waits.waits, 2)
}

func TestAgentRecoversFromTransientFailure(t *testing.T) {
	s := &fakeSearcher{failFirst: 1, err: transient(502, errors.New("bad gateway")), resp: &SearchResponse{}}
	a := newTestAgent(t, s, &recordingSleep{})

	out, err := a.Handle(context.Background(), agents.ResearchInput{Query: "q"})
	require.NoError(t, err)
	ro := out.(agents.ResearchOutput)
	assert.Equal(t, 0.0, ro.Confidence)
	assert.NotNil(t, ro.Results)
	assert.NotNil(t, ro.Sources)
}

func TestAgentRejectsMissingQuery(t *testing.T) {
	a := newTestAgent(t, &fakeSearcher{}, &recordingSleep{})
	_, err := a.Handle(context.Background(), agents.ResearchInput{Query: "   "})
	require.Error(t, err)
	assert.True(t, agents.IsKind(err, agents.KindInputValidation))
	assert.Contains(t, err.Error(), "missing research query input")
}

func TestAgentHealthFollowsClientConfiguration(t *testing.T) {
	withKey := NewAgent(NewClient(ClientConfig{Endpoint: "http://x", APIKey: "k"}, nil, nil), nil)
	withoutKey := NewAgent(NewClient(ClientConfig{Endpoint: "http://x"}, nil, nil), nil)
	assert.True(t, withKey.Healthy(context.Background()))
	assert.False(t, withoutKey.Healthy(context.Background()))
}
