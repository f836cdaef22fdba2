package health

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/circuitbreaker"
)

// AgentSource reports registered agents and their health flags.
type AgentSource interface {
	HealthStatus() map[agents.AgentType]bool
}

// healthRefresher re-polls handler readiness before reporting.
type healthRefresher interface {
	RefreshHealth(ctx context.Context) map[agents.AgentType]bool
}

// AgentRegistryChecker fails when any pipeline agent is missing or unhealthy.
type AgentRegistryChecker struct {
	source  AgentSource
	timeout time.Duration
}

// NewAgentRegistryChecker creates the agent registry checker.
func NewAgentRegistryChecker(source AgentSource) *AgentRegistryChecker {
	return &AgentRegistryChecker{source: source, timeout: time.Second}
}

func (a *AgentRegistryChecker) Name() string           { return "agents" }
func (a *AgentRegistryChecker) IsCritical() bool       { return true }
func (a *AgentRegistryChecker) Timeout() time.Duration { return a.timeout }

func (a *AgentRegistryChecker) Check(ctx context.Context) CheckResult {
	var status map[agents.AgentType]bool
	if r, ok := a.source.(healthRefresher); ok {
		status = r.RefreshHealth(ctx)
	} else {
		status = a.source.HealthStatus()
	}
	details := make(map[string]any, len(status))
	var missing []string
	for _, t := range agents.PipelineTypes {
		ok, registered := status[t]
		details[t.String()] = ok
		if !registered || !ok {
			missing = append(missing, t.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Pipeline agents unavailable",
			Error:   fmt.Sprintf("unavailable: %v", missing),
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "All pipeline agents registered", Details: details}
}

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false } // state mirror only
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}
	start := time.Now()
	err := r.wrapper.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		r.logger.Debug("Redis health ping failed", zap.Error(err))
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]any{"latency_ms": latency.Milliseconds()},
		}
	}
	result := CheckResult{Status: StatusHealthy, Message: "Redis healthy"}
	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	result.Details = map[string]any{"latency_ms": latency.Milliseconds(), "circuit_breaker_open": false}
	return result
}

// DBPinger is the part of *sql.DB the database checker needs.
type DBPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// DatabaseHealthChecker checks PostgreSQL connectivity
type DatabaseHealthChecker struct {
	db      DBPinger
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker; breaker may be nil.
func NewDatabaseHealthChecker(db DBPinger, breaker *circuitbreaker.CircuitBreaker) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db, breaker: breaker, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false } // recorder is optional
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.breaker != nil && d.breaker.IsOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}
	start := time.Now()
	err := d.db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Database ping failed",
			Details: map[string]any{"latency_ms": latency.Milliseconds()},
		}
	}

	stats := d.db.Stats()
	result := CheckResult{Status: StatusHealthy, Message: "Database healthy"}
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > 100*time.Millisecond:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	}
	result.Details = map[string]any{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// BreakerChecker reports an outbound dependency as degraded while its breaker is open.
type BreakerChecker struct {
	name    string
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerChecker creates a non-critical checker over breaker.
func NewBreakerChecker(name string, breaker *circuitbreaker.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return false }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	state := b.breaker.State()
	details := map[string]any{"circuit_breaker_state": state.String()}
	if state == circuitbreaker.StateOpen {
		return CheckResult{Status: StatusDegraded, Message: b.name + " circuit breaker is open", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: b.name + " reachable", Details: details}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
