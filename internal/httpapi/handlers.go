package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/db"
	"github.com/interflow/orchestrator/internal/state"
	"github.com/interflow/orchestrator/internal/workflow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// readJSON decodes a size-limited body. Any decode failure is a 422, matching
// how payload variant errors are reported.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		}
		return v, false
	}
	return v, true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) agentsHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Agents.HealthStatus()
	if rf, ok := s.deps.Agents.(interface {
		RefreshHealth(ctx context.Context) map[agents.AgentType]bool
	}); ok {
		status = rf.RefreshHealth(r.Context())
	}
	out := make(map[string]bool, len(status))
	for t, ok := range status {
		out[t.String()] = ok
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) orchestrate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[workflow.Request](w, r)
	if !ok {
		return
	}
	resp, err := s.deps.Engine.Run(r.Context(), req)
	if err != nil {
		if agents.IsKind(err, agents.KindInputValidation) {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("Workflow run failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "workflow run failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatchAgent(w http.ResponseWriter, r *http.Request) {
	task, ok := readJSON[agents.Task](w, r)
	if !ok {
		return
	}
	if err := task.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.Dispatch(r.Context(), task))
}

type stageView struct {
	StageIndex int               `json:"stage_index"`
	Stage      string            `json:"stage"`
	Status     state.StageStatus `json:"status"`
}

type workflowView struct {
	WorkflowID string              `json:"workflow_id"`
	Source     string              `json:"source"`
	Stages     []stageView         `json:"stages"`
	Execution  *db.ExecutionRecord `json:"execution,omitempty"`
}

func stagesOf(statuses map[int]state.StageStatus) []stageView {
	out := make([]stageView, 0, len(statuses))
	for idx, st := range statuses {
		out = append(out, stageView{StageIndex: idx, Stage: state.StageName(idx), Status: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageIndex < out[j].StageIndex })
	return out
}

// getWorkflow answers from local memory, then the Redis mirror, then the archive.
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if statuses, ok := s.deps.States.WorkflowStatuses(id); ok {
		writeJSON(w, http.StatusOK, workflowView{WorkflowID: id, Source: "memory", Stages: stagesOf(statuses)})
		return
	}

	if s.deps.Mirror != nil {
		statuses, ok, err := s.deps.Mirror.Load(r.Context(), id)
		if err != nil {
			s.logger.Warn("Mirror lookup failed", zap.String("workflow_id", id), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, workflowView{WorkflowID: id, Source: "redis", Stages: stagesOf(statuses)})
			return
		}
	}

	if s.deps.Archive != nil {
		rec, err := s.deps.Archive.GetExecution(r.Context(), id)
		switch {
		case err == nil:
			statuses := make(map[int]state.StageStatus, len(rec.Stages))
			for _, st := range rec.Stages {
				statuses[st.StageIndex] = state.StageStatus(st.StageStatus)
			}
			writeJSON(w, http.StatusOK, workflowView{WorkflowID: id, Source: "archive", Stages: stagesOf(statuses), Execution: rec})
			return
		case !errors.Is(err, db.ErrNotFound):
			s.logger.Warn("Archive lookup failed", zap.String("workflow_id", id), zap.Error(err))
		}
	}

	writeDetail(w, http.StatusNotFound, "workflow not found")
}
