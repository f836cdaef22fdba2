package research

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/metrics"
	"github.com/interflow/orchestrator/internal/tracing"
)

// Agent is the research stage handler. It queries the provider under the
// retry policy and scores the returned sources.
type Agent struct {
	searcher Searcher
	policy   Policy
	now      func() time.Time
	logger   *zap.Logger
}

// Option customises an Agent.
type Option func(*Agent)

// WithPolicy overrides the retry policy.
func WithPolicy(p Policy) Option { return func(a *Agent) { a.policy = p } }

// WithClock overrides the clock used for recency scoring.
func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

// NewAgent creates a research agent backed by searcher.
func NewAgent(searcher Searcher, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{searcher: searcher, policy: DefaultPolicy(), now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle implements agents.Handler.
func (a *Agent) Handle(ctx context.Context, in agents.Input) (agents.Output, error) {
	ri, ok := in.(agents.ResearchInput)
	if !ok {
		return nil, agents.Inputf("research", "unexpected input %T", in)
	}
	query := strings.TrimSpace(ri.Query)
	if query == "" {
		return nil, agents.Inputf("research", "missing research query input")
	}
	return a.Research(ctx, query)
}

// Research runs the query with retries and builds the stage output.
func (a *Agent) Research(ctx context.Context, query string) (agents.ResearchOutput, error) {
	ctx, span := tracing.StartSpan(ctx, "retrieval.search", attribute.Int("query.length", len(query)))
	defer span.End()

	var resp *SearchResponse
	err := a.policy.Do(ctx, a.logger, func(ctx context.Context, attempt int) error {
		r, err := a.searcher.Search(ctx, query)
		if err != nil {
			metrics.RetrievalAttempts.WithLabelValues(outcomeOf(err)).Inc()
			return err
		}
		metrics.RetrievalAttempts.WithLabelValues("success").Inc()
		resp = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Error("Research retrieval failed", zap.Error(err))
		return agents.ResearchOutput{}, agents.NewExternalError("research", err)
	}

	out := agents.ResearchOutput{
		Results:    resp.Results,
		Citations:  resp.Citations,
		Sources:    resp.Sources,
		Confidence: SourceConfidence(resp.Sources, a.now()),
	}
	if out.Results == nil {
		out.Results = []agents.Record{}
	}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	if out.Sources == nil {
		out.Sources = []agents.Source{}
	}
	a.logger.Debug("Research completed",
		zap.Int("results", len(out.Results)),
		zap.Int("sources", len(out.Sources)),
		zap.Float64("confidence", out.Confidence),
	)
	return out, nil
}

// Healthy reports whether the underlying searcher is configured.
func (a *Agent) Healthy(context.Context) bool {
	if c, ok := a.searcher.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return a.searcher != nil
}

func outcomeOf(err error) string {
	var re *RetrievalError
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	return "error"
}
