package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/auth"
	"github.com/interflow/orchestrator/internal/db"
	"github.com/interflow/orchestrator/internal/state"
	"github.com/interflow/orchestrator/internal/streaming"
	"github.com/interflow/orchestrator/internal/workflow"
)

type fakeRunner struct {
	got  workflow.Request
	resp *workflow.Response
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req workflow.Request) (*workflow.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.resp, nil
}

type fakeDispatcher struct{ panicMsg string }

func (f fakeDispatcher) Dispatch(_ context.Context, task agents.Task) agents.Result {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return agents.Succeeded(task.AgentType, agents.ResearchOutput{Confidence: 0.5})
}

type fakeMirror map[string]map[int]state.StageStatus

func (m fakeMirror) Load(_ context.Context, id string) (map[int]state.StageStatus, bool, error) {
	s, ok := m[id]
	return s, ok, nil
}

type fakeArchive map[string]*db.ExecutionRecord

func (a fakeArchive) GetExecution(_ context.Context, id string) (*db.ExecutionRecord, error) {
	if rec, ok := a[id]; ok {
		return rec, nil
	}
	return nil, db.ErrNotFound
}

func newTestServer(t *testing.T, mutate func(*Deps)) (*Deps, http.Handler) {
	t.Helper()
	registry := agents.NewRegistry(nil)
	registry.Register(agents.Research, agents.HandlerFunc(func(context.Context, agents.Input) (agents.Output, error) {
		return agents.ResearchOutput{}, nil
	}))
	deps := &Deps{
		Engine:     &fakeRunner{resp: &workflow.Response{WorkflowID: "wf-1", Status: workflow.StatusSuccess}},
		Dispatcher: fakeDispatcher{},
		Agents:     registry,
		States:     state.NewTracker(nil),
		Hub:        streaming.NewHub(16, 16),
		Logger:     zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(deps)
	}
	return deps, NewServer(*deps).Handler()
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validWorkflow = `{"tasks":[
	{"agent_type":"research","input_data":{"query":"solar"}},
	{"agent_type":"analysis","input_data":{}},
	{"agent_type":"decision","input_data":{}}
]}`

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/agents/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"research":true}`, rec.Body.String())
}

func TestOrchestrate(t *testing.T) {
	deps, h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/api/orchestrate", validWorkflow)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp workflow.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, workflow.StatusSuccess, resp.Status)
	assert.Len(t, deps.Engine.(*fakeRunner).got.Tasks, 3)
}

func TestOrchestrateValidationErrors(t *testing.T) {
	_, h := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"tasks":`},
		{"unknown agent type", `{"tasks":[{"agent_type":"planner"}]}`},
		{"wrong task count", `{"tasks":[{"agent_type":"research","input_data":{"query":"q"}}]}`},
		{"priority out of range", strings.Replace(validWorkflow, `"input_data":{}}`, `"input_data":{},"priority":11}`, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/orchestrate", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestOrchestrateOutOfOrderTasksReachEngine(t *testing.T) {
	deps, h := newTestServer(t, nil)
	body := `{"tasks":[
		{"agent_type":"analysis","input_data":{}},
		{"agent_type":"research","input_data":{"query":"solar"}},
		{"agent_type":"decision","input_data":{}}
	]}`

	rec := do(h, http.MethodPost, "/api/orchestrate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	got := deps.Engine.(*fakeRunner).got.Tasks
	require.Len(t, got, 3)
	assert.Equal(t, agents.Analysis, got[0].AgentType)
}

func TestOrchestrateInternalError(t *testing.T) {
	_, h := newTestServer(t, func(d *Deps) { d.Engine = &fakeRunner{err: errors.New("boom")} })
	rec := do(h, http.MethodPost, "/api/orchestrate", validWorkflow)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDispatchAgent(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/api/agents", `{"agent_type":"research","input_data":{"query":"q"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res agents.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)

	rec = do(h, http.MethodPost, "/api/agents", `{"agent_type":"research","input_data":{"query":"q"},"priority":99}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPanicRecovery(t *testing.T) {
	_, h := newTestServer(t, func(d *Deps) { d.Dispatcher = fakeDispatcher{panicMsg: "kaboom"} })
	rec := do(h, http.MethodPost, "/api/agents", `{"agent_type":"research","input_data":{"query":"q"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal server error","error":"kaboom"}`, rec.Body.String())
}

func TestGetWorkflowLookupOrder(t *testing.T) {
	tracker := state.NewTracker(nil)
	tracker.SetStatus("local", 0, state.Finished)
	tracker.SetStatus("local", 1, state.InProgress)

	_, h := newTestServer(t, func(d *Deps) {
		d.States = tracker
		d.Mirror = fakeMirror{"shared": {0: state.Finished, 1: state.Finished, 2: state.AwaitingHuman}}
		d.Archive = fakeArchive{"old": {
			WorkflowExecution: db.WorkflowExecution{WorkflowID: "old", Status: "success"},
			Stages:            []db.StageResult{{StageIndex: 0, AgentType: "research", StageStatus: "finished", Success: true}},
		}}
	})

	tests := []struct {
		id     string
		code   int
		source string
		stages int
	}{
		{"local", http.StatusOK, "memory", 2},
		{"shared", http.StatusOK, "redis", 3},
		{"old", http.StatusOK, "archive", 1},
		{"missing", http.StatusNotFound, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := do(h, http.MethodGet, "/api/workflows/"+tt.id, "")
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var view workflowView
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
			assert.Equal(t, tt.source, view.Source)
			assert.Len(t, view.Stages, tt.stages)
			assert.Equal(t, "research", view.Stages[0].Stage)
		})
	}
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t, func(d *Deps) { d.CORSOrigins = []string{"https://app.example.com"} })

	rec := do(h, http.MethodGet, "/api/health", "", "Origin", "https://app.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/health", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodOptions, "/api/orchestrate", "",
		"Origin", "https://app.example.com", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthProtectsWorkflowRoutes(t *testing.T) {
	jwtm := auth.NewJWTManager("secret", "interflow", time.Hour)
	_, h := newTestServer(t, func(d *Deps) { d.Auth = auth.NewMiddleware(jwtm, false, nil) })

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/orchestrate", validWorkflow).Code)

	readOnly, err := jwtm.IssueToken("viewer", []string{auth.ScopeWorkflowsRead})
	require.NoError(t, err)
	rec := do(h, http.MethodPost, "/api/orchestrate", validWorkflow, "Authorization", "Bearer "+readOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	full, err := jwtm.IssueToken("operator", nil)
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/api/orchestrate", validWorkflow, "Authorization", "Bearer "+full)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamReplaysAndFollows(t *testing.T) {
	deps, h := newTestServer(t, nil)
	hub := deps.Hub
	srv := httptest.NewServer(h)
	defer srv.Close()

	hub.OnTransition(state.Transition{WorkflowID: "wf-s", StageIndex: 0, Stage: "research", Status: state.InProgress})
	hub.OnTransition(state.Transition{WorkflowID: "wf-s", StageIndex: 0, Stage: "research", Status: state.Finished})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/workflows/wf-s/stream?last_event_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev streaming.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, "finished", ev.Status)

	// the subscription is registered before replay, so a live event is delivered
	hub.WorkflowCompleted("wf-s", "success", "")
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, streaming.EventWorkflowCompleted, ev.Type)
}

func TestStreamRejectsBadCursor(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(h, http.MethodGet, "/api/workflows/wf/stream?last_event_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
