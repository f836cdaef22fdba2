package agents

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler executes tasks for one agent type.
type Handler interface {
	Handle(ctx context.Context, in Input) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Input) (Output, error)

func (f HandlerFunc) Handle(ctx context.Context, in Input) (Output, error) { return f(ctx, in) }

// HealthReporter is implemented by handlers that can report their own readiness.
type HealthReporter interface {
	Healthy(ctx context.Context) bool
}

// Registry maps agent types to handlers and keeps a health flag per type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[AgentType]Handler
	health   map[AgentType]bool
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[AgentType]Handler),
		health:   make(map[AgentType]bool),
		logger:   logger,
	}
}

// Register installs h for t, replacing any previous handler, and marks t healthy.
func (r *Registry) Register(t AgentType, h Handler) {
	if h == nil {
		r.logger.Warn("Ignoring nil agent handler", zap.String("agent_type", t.String()))
		return
	}
	r.mu.Lock()
	_, replaced := r.handlers[t]
	r.handlers[t] = h
	r.health[t] = true
	r.mu.Unlock()

	r.logger.Info("Agent registered",
		zap.String("agent_type", t.String()),
		zap.Bool("replaced", replaced),
	)
}

// Lookup returns the handler registered for t.
func (r *Registry) Lookup(t AgentType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// HealthStatus returns a copy of the per-type health flags.
func (r *Registry) HealthStatus() map[AgentType]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[AgentType]bool, len(r.health))
	for t, ok := range r.health {
		out[t] = ok
	}
	return out
}

// RefreshHealth asks every handler implementing HealthReporter for its readiness
// and stores the answer. Other handlers keep their current flag.
func (r *Registry) RefreshHealth(ctx context.Context) map[AgentType]bool {
	r.mu.RLock()
	reporters := make(map[AgentType]HealthReporter, len(r.handlers))
	for t, h := range r.handlers {
		if hr, ok := h.(HealthReporter); ok {
			reporters[t] = hr
		}
	}
	r.mu.RUnlock()

	results := make(map[AgentType]bool, len(reporters))
	for t, hr := range reporters {
		results[t] = hr.Healthy(ctx)
	}

	r.mu.Lock()
	for t, ok := range results {
		if _, still := r.handlers[t]; !still {
			continue
		}
		if r.health[t] != ok {
			r.logger.Info("Agent health changed", zap.String("agent_type", t.String()), zap.Bool("healthy", ok))
		}
		r.health[t] = ok
	}
	r.mu.Unlock()
	return r.HealthStatus()
}

// Types returns the registered agent types in sorted order.
func (r *Registry) Types() []AgentType {
	r.mu.RLock()
	types := make([]AgentType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
