package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interflow_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "state", "result"},
	)

	circuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interflow_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// NewInstrumented creates a breaker whose state changes and requests are exported as metrics.
func NewInstrumented(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	prev := config.OnStateChange
	config.OnStateChange = func(cbName string, from State, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		circuitBreakerStateChanges.WithLabelValues(cbName, from.String(), to.String()).Inc()
		circuitBreakerState.WithLabelValues(cbName).Set(float64(to))
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return NewCircuitBreaker(name, config, logger)
}

func recordRequest(cb *CircuitBreaker, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	circuitBreakerRequests.WithLabelValues(cb.name, cb.State().String(), result).Inc()
}
