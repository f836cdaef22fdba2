package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/auth"
	"github.com/interflow/orchestrator/internal/db"
	"github.com/interflow/orchestrator/internal/state"
	"github.com/interflow/orchestrator/internal/streaming"
	"github.com/interflow/orchestrator/internal/workflow"
)

// Runner executes a full workflow.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) (*workflow.Response, error)
}

// AgentSource reports per-type agent health.
type AgentSource interface {
	HealthStatus() map[agents.AgentType]bool
}

// StatusSource answers stage status queries from local memory.
type StatusSource interface {
	WorkflowStatuses(id string) (map[int]state.StageStatus, bool)
}

// MirrorSource answers stage status queries from the shared store.
type MirrorSource interface {
	Load(ctx context.Context, workflowID string) (map[int]state.StageStatus, bool, error)
}

// Archive looks up finished workflows.
type Archive interface {
	GetExecution(ctx context.Context, workflowID string) (*db.ExecutionRecord, error)
}

// Deps are the collaborators behind the API. Mirror, Archive, Hub and Auth are optional.
type Deps struct {
	Engine      Runner
	Dispatcher  workflow.Dispatcher
	Agents      AgentSource
	States      StatusSource
	Mirror      MirrorSource
	Archive     Archive
	Hub         *streaming.Hub
	Auth        *auth.Middleware
	CORSOrigins []string
	Logger      *zap.Logger
}

// Server serves the public orchestration API.
type Server struct {
	deps   Deps
	logger *zap.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{deps: deps, logger: deps.Logger}
}

const maxBodyBytes = 4 << 20

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Recover(s.logger))
	r.Use(CORS(s.deps.CORSOrigins))
	r.Use(RequestLogger(s.logger))

	r.Get("/api/health", s.health)
	r.Get("/api/agents/health", s.agentsHealth)

	r.Group(func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.HTTPMiddleware)
		}
		r.With(s.scope(auth.ScopeWorkflowsWrite)).Post("/api/orchestrate", s.orchestrate)
		r.With(s.scope(auth.ScopeAgentsExecute)).Post("/api/agents", s.dispatchAgent)
		r.With(s.scope(auth.ScopeWorkflowsRead)).Get("/api/workflows/{id}", s.getWorkflow)
		r.With(s.scope(auth.ScopeWorkflowsRead)).Get("/api/workflows/{id}/stream", s.stream)
	})
	return r
}

// scope enforces a token scope when authentication is configured.
func (s *Server) scope(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.deps.Auth == nil {
			return next
		}
		return auth.RequireScope(name, next)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
