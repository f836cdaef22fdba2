// Package workflow drives the fixed research, analysis, decision pipeline.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/metrics"
	"github.com/interflow/orchestrator/internal/state"
	"github.com/interflow/orchestrator/internal/tracing"
)

// stage is one pipeline position with its role and runner.
type stage struct {
	index int
	role  agents.AgentType
	run   func(e *Engine, ctx context.Context, x *execution, task agents.Task) agents.Result
}

// pipeline is the ordered stage list. Stages run strictly in this order.
var pipeline = []stage{
	{index: agents.IdxResearch, role: agents.Research, run: (*Engine).runResearch},
	{index: agents.IdxAnalysis, role: agents.Analysis, run: (*Engine).runAnalysis},
	{index: agents.IdxDecision, role: agents.Decision, run: (*Engine).runDecision},
}

// execution carries stage outputs between stages of one run.
type execution struct {
	id       string
	results  []agents.Result
	statuses []state.StageStatus
	decision agents.DecisionOutput
}

// Engine runs workflows. It is safe for concurrent use.
type Engine struct {
	dispatcher Dispatcher
	decider    Decider
	states     StateStore
	recorder   Recorder
	notifier   Notifier
	newID      func() string
	recordWait time.Duration
	logger     *zap.Logger
}

// DefaultRecordTimeout bounds how long Run waits for the Recorder.
const DefaultRecordTimeout = 5 * time.Second

// Option customises an Engine.
type Option func(*Engine)

// WithRecorder persists every finished workflow.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithNotifier announces overall outcomes.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithRecordTimeout overrides DefaultRecordTimeout.
func WithRecordTimeout(d time.Duration) Option { return func(e *Engine) { e.recordWait = d } }

// WithIDGenerator overrides workflow id generation for requests without one.
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

// NewEngine creates an engine.
func NewEngine(d Dispatcher, decider Decider, states StateStore, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		dispatcher: d,
		decider:    decider,
		states:     states,
		newID:      uuid.NewString,
		recordWait: DefaultRecordTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes all three stages and derives the overall status. Every stage
// runs even when an earlier one failed. The error is non-nil only for a
// malformed request, in which case nothing is dispatched.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := req.WorkflowID
	if id == "" {
		id = e.newID()
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "workflow.run", attribute.String("workflow.id", id))
	defer span.End()

	logger := e.logger.With(zap.String("workflow_id", id))
	logger.Info("Workflow started")
	metrics.WorkflowsStarted.Inc()

	x := &execution{
		id:       id,
		results:  make([]agents.Result, len(pipeline)),
		statuses: make([]state.StageStatus, len(pipeline)),
	}
	e.states.StartWorkflow(id)
	for _, st := range pipeline {
		x.statuses[st.index] = state.Pending
		e.states.SetStatus(id, st.index, state.Pending)
	}

	for _, st := range pipeline {
		e.runStage(ctx, x, st, req.Tasks[st.index], logger)
	}

	resp := &Response{WorkflowID: id, Results: x.results}
	resp.Status, resp.Error = overall(x)

	elapsed := time.Since(start)
	metrics.WorkflowsCompleted.WithLabelValues(string(resp.Status)).Inc()
	metrics.WorkflowDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("workflow.status", string(resp.Status)))
	if resp.Status == StatusError {
		span.SetStatus(codes.Error, resp.Error)
	}
	logger.Info("Workflow completed",
		zap.String("status", string(resp.Status)),
		zap.Duration("duration", elapsed),
	)

	if e.notifier != nil {
		e.notifier.WorkflowCompleted(id, string(resp.Status), resp.Error)
	}
	if e.recorder != nil {
		exec := Execution{
			WorkflowID: id,
			Query:      queryOf(req.Tasks[agents.IdxResearch]),
			Status:     resp.Status,
			Error:      resp.Error,
			Results:    x.results,
			Stages:     x.statuses,
			StartedAt:  start,
			FinishedAt: start.Add(elapsed),
		}
		e.record(ctx, exec, logger)
	}
	return resp, nil
}

// record persists exec detached from the caller's cancellation but bounded by
// recordWait, so a hung store cannot hold the response.
func (e *Engine) record(ctx context.Context, exec Execution, logger *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.recordWait)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.recorder.RecordWorkflow(rctx, exec) }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("Failed to record workflow", zap.Error(err))
		}
	case <-rctx.Done():
		logger.Warn("Recording workflow timed out", zap.Duration("timeout", e.recordWait))
	}
}

func (e *Engine) runStage(ctx context.Context, x *execution, st stage, task agents.Task, logger *zap.Logger) {
	ctx, span := tracing.StartSpan(ctx, "stage."+st.role.String(), attribute.Int("stage.index", st.index))
	defer span.End()

	start := time.Now()
	e.setStatus(x, st.index, state.InProgress)

	var res agents.Result
	if task.AgentType != st.role {
		err := agents.Inputf("stage "+st.role.String(), "expected %s task, got %q", st.role, task.AgentType)
		res = agents.Failed(st.role, err.Error())
	} else {
		res = st.run(e, ctx, x, task)
	}
	x.results[st.index] = res

	status := state.Finished
	switch {
	case st.role == agents.Decision && res.Success && x.decision.Status == agents.HumanVerificationRequired:
		status = state.AwaitingHuman
	case !res.Success:
		status = state.Error
	}
	e.setStatus(x, st.index, status)

	metrics.StageDuration.WithLabelValues(st.role.String()).Observe(time.Since(start).Seconds())
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
		logger.Warn("Stage failed", zap.String("stage", st.role.String()), zap.String("error", res.Error))
	}
}

func (e *Engine) setStatus(x *execution, idx int, status state.StageStatus) {
	x.statuses[idx] = status
	e.states.SetStatus(x.id, idx, status)
}

func (e *Engine) runResearch(ctx context.Context, _ *execution, task agents.Task) agents.Result {
	return e.dispatcher.Dispatch(ctx, task)
}

// runAnalysis replaces the caller's input with the research results, empty when
// research failed.
func (e *Engine) runAnalysis(ctx context.Context, x *execution, task agents.Task) agents.Result {
	research := researchOutput(x)
	records := research.Results
	if records == nil {
		records = []agents.Record{}
	}
	return e.dispatcher.Dispatch(ctx, agents.Task{
		AgentType: agents.Analysis,
		Input:     agents.AnalysisInput{Records: records},
		Priority:  task.Priority,
	})
}

// runDecision fuses the upstream outputs directly, bypassing the router.
func (e *Engine) runDecision(_ context.Context, x *execution, _ agents.Task) agents.Result {
	out := e.decider.Decide(researchOutput(x), analysisOutput(x))
	x.decision = out
	if out.Status == agents.DecisionFailed {
		res := agents.Failed(agents.Decision, out.Error)
		res.Output = out
		return res
	}
	return agents.Succeeded(agents.Decision, out)
}

func researchOutput(x *execution) agents.ResearchOutput {
	r := x.results[agents.IdxResearch]
	if out, ok := r.Output.(agents.ResearchOutput); ok && r.Success {
		return out
	}
	return agents.ResearchOutput{}
}

func analysisOutput(x *execution) agents.AnalysisOutput {
	r := x.results[agents.IdxAnalysis]
	if out, ok := r.Output.(agents.AnalysisOutput); ok && r.Success {
		return out
	}
	return agents.AnalysisOutput{}
}

// overall derives the workflow status and, unless successful, an explanation.
func overall(x *execution) (OverallStatus, string) {
	if x.decision.Status == agents.HumanVerificationRequired {
		return StatusPendingHuman, fmt.Sprintf("Decision confidence %.2f requires human verification", x.decision.Confidence)
	}
	var failed []string
	for _, st := range pipeline {
		if r := x.results[st.index]; !r.Success {
			failed = append(failed, fmt.Sprintf("%s: %s", st.role, r.Error))
		}
	}
	if len(failed) == 0 && x.decision.Status == agents.AutoApproved {
		return StatusSuccess, ""
	}
	if len(failed) == 0 {
		return StatusError, "Decision stage produced no verdict"
	}
	return StatusError, "One or more tasks failed: " + strings.Join(failed, "; ")
}

func queryOf(t agents.Task) string {
	if in, ok := t.Input.(agents.ResearchInput); ok {
		return in.Query
	}
	return ""
}
