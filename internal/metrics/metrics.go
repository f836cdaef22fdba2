package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interflow_workflows_started_total",
			Help: "Total number of workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_workflows_completed_total",
			Help: "Total number of workflows completed, by overall status",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interflow_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stage metrics
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_stage_transitions_total",
			Help: "Stage status transitions recorded by the state tracker",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interflow_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// Dispatch metrics
	AgentDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_agent_dispatch_total",
			Help: "Tasks dispatched through the router, by agent type and outcome",
		},
		[]string{"agent_type", "outcome"},
	)

	AgentDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interflow_agent_dispatch_duration_seconds",
			Help:    "Agent handler execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)

	// Retrieval metrics
	RetrievalAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_retrieval_attempts_total",
			Help: "Calls to the external retrieval provider, by outcome",
		},
		[]string{"outcome"},
	)

	RetrievalBackoff = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interflow_retrieval_backoff_seconds",
			Help:    "Wait applied between retrieval attempts",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16},
		},
	)

	// Decision metrics
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_decisions_total",
			Help: "Decision stage verdicts",
		},
		[]string{"status"},
	)

	DecisionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interflow_decision_confidence",
			Help:    "Fused confidence produced by the decision stage",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// Persistence metrics
	RecorderWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_recorder_writes_total",
			Help: "Workflow execution records written, by outcome",
		},
		[]string{"outcome"},
	)

	StateMirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interflow_state_mirror_errors_total",
			Help: "Failed writes of stage transitions to the shared state store",
		},
	)
)
