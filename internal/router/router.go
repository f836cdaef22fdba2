package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/metrics"
)

// HandlerSource resolves the handler for an agent type.
type HandlerSource interface {
	Lookup(t agents.AgentType) (agents.Handler, bool)
}

// Router dispatches a task to its registered agent and always returns a Result.
type Router struct {
	source HandlerSource
	logger *zap.Logger
}

// New creates a router over the given handler source.
func New(source HandlerSource, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{source: source, logger: logger}
}

// Dispatch runs the task on its agent. Missing agents, handler errors and
// handler panics all become failed Results; Dispatch itself never panics.
func (r *Router) Dispatch(ctx context.Context, task agents.Task) (res agents.Result) {
	t := task.AgentType
	h, ok := r.source.Lookup(t)
	if !ok {
		metrics.AgentDispatches.WithLabelValues(t.String(), string(agents.KindAgentUnavailable)).Inc()
		r.logger.Warn("No agent registered for task",
			zap.String("agent_type", t.String()),
			zap.String("error_kind", string(agents.KindOf(agents.ErrAgentUnavailable))),
		)
		return agents.Failed(t, agents.ErrAgentUnavailable.Error())
	}

	if task.Input != nil && agents.InputType(task.Input) != t {
		metrics.AgentDispatches.WithLabelValues(t.String(), "rejected").Inc()
		return agents.Failed(t, agents.Inputf("dispatch", "%s task carries %s input", t, agents.InputType(task.Input)).Error())
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Agent panicked",
				zap.String("agent_type", t.String()),
				zap.Any("panic", p),
			)
			res = agents.Failed(t, fmt.Sprintf("agent panicked: %v", p))
		}
		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		metrics.AgentDispatchDuration.WithLabelValues(t.String()).Observe(time.Since(start).Seconds())
		metrics.AgentDispatches.WithLabelValues(t.String(), outcome).Inc()
	}()

	out, err := h.Handle(ctx, task.Input)
	if err != nil {
		r.logger.Warn("Agent task failed",
			zap.String("agent_type", t.String()),
			zap.Int("priority", task.Priority),
			zap.String("error_kind", string(agents.KindOf(err))),
			zap.Error(err),
		)
		return agents.Failed(t, err.Error())
	}
	if out == nil {
		return agents.Failed(t, fmt.Sprintf("%s agent returned no output", t))
	}
	if got := agents.OutputType(out); got != t {
		r.logger.Error("Agent returned foreign output", zap.String("agent_type", t.String()), zap.String("output_type", got.String()))
		return agents.Failed(t, fmt.Sprintf("%s agent returned %s output", t, got))
	}
	return agents.Succeeded(t, out)
}
