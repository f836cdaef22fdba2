package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) OnTransition(tr Transition) {
	r.mu.Lock()
	r.got = append(r.got, tr)
	r.mu.Unlock()
}

func TestStartWorkflowIgnoresEmptyID(t *testing.T) {
	tr := NewTracker(zaptest.NewLogger(t))
	tr.StartWorkflow("")
	_, ok := tr.WorkflowStatuses("")
	assert.False(t, ok)

	tr.SetStatus("", 0, Pending)
	_, ok = tr.Status("", 0)
	assert.False(t, ok)
}

func TestSetStatusUpsertsAndNotifies(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(zaptest.NewLogger(t), rec)

	tr.StartWorkflow("wf")
	statuses, ok := tr.WorkflowStatuses("wf")
	require.True(t, ok)
	assert.Empty(t, statuses)

	tr.SetStatus("wf", 0, Pending)
	tr.SetStatus("wf", 0, InProgress)
	tr.SetStatus("wf", 0, Finished)

	s, ok := tr.Status("wf", 0)
	require.True(t, ok)
	assert.Equal(t, Finished, s)

	require.Len(t, rec.got, 3)
	assert.Equal(t, "research", rec.got[0].Stage)
	assert.Equal(t, []StageStatus{Pending, InProgress, Finished},
		[]StageStatus{rec.got[0].Status, rec.got[1].Status, rec.got[2].Status})
}

func TestStartWorkflowKeepsExistingStages(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetStatus("wf", 2, AwaitingHuman)
	tr.StartWorkflow("wf")
	s, ok := tr.Status("wf", 2)
	require.True(t, ok)
	assert.Equal(t, AwaitingHuman, s)
}

func TestListenerPanicDoesNotEscape(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(zaptest.NewLogger(t), ListenerFunc(func(Transition) { panic("listener bug") }), rec)
	require.NotPanics(t, func() { tr.SetStatus("wf", 1, Error) })
	assert.Len(t, rec.got, 1)
}

func TestWorkflowStatusesIsACopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetStatus("wf", 0, Finished)
	m, _ := tr.WorkflowStatuses("wf")
	m[0] = Error
	s, _ := tr.Status("wf", 0)
	assert.Equal(t, Finished, s)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, Pending.Terminal())
	assert.False(t, InProgress.Terminal())
	assert.True(t, Finished.Terminal())
	assert.True(t, Error.Terminal())
	assert.True(t, AwaitingHuman.Terminal())
	assert.False(t, StageStatus("done").Valid())
}

func TestConcurrentWorkflowsAreIsolated(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("wf-%d", i)
			tr.StartWorkflow(id)
			for idx := 0; idx < 3; idx++ {
				tr.SetStatus(id, idx, Pending)
				tr.SetStatus(id, idx, InProgress)
				tr.SetStatus(id, idx, Finished)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 40; i++ {
		statuses, ok := tr.WorkflowStatuses(fmt.Sprintf("wf-%d", i))
		require.True(t, ok)
		assert.Equal(t, map[int]StageStatus{0: Finished, 1: Finished, 2: Finished}, statuses)
	}
}

// The last status written for a stage is what the tracker reports, whatever the sequence.
func TestTrackerLastWriteWinsProperty(t *testing.T) {
	all := []StageStatus{Pending, InProgress, Finished, Error, AwaitingHuman}
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)
		n := rapid.IntRange(1, 30).Draw(rt, "writes")
		want := map[int]StageStatus{}
		for i := 0; i < n; i++ {
			idx := rapid.IntRange(0, 2).Draw(rt, "idx")
			s := rapid.SampledFrom(all).Draw(rt, "status")
			tr.SetStatus("wf", idx, s)
			want[idx] = s
		}
		got, ok := tr.WorkflowStatuses("wf")
		if !ok {
			rt.Fatalf("workflow missing")
		}
		for idx, s := range want {
			if got[idx] != s {
				rt.Fatalf("stage %d: got %s want %s", idx, got[idx], s)
			}
		}
	})
}
