package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Dependency names used for breakers and their metrics.
const (
	DependencyRetrieval = "retrieval"
	DependencyRedis     = "redis"
	DependencyPostgres  = "postgres"
)

// Settings is the tunable part of a breaker Config.
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

var defaultSettings = map[string]Settings{
	DependencyRetrieval: {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	DependencyRedis:     {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	DependencyPostgres:  {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
}

// SettingsFor returns the defaults for a dependency with INTERFLOW_CB_<DEP>_* env overrides applied,
// e.g. INTERFLOW_CB_REDIS_FAILURE_THRESHOLD=5.
func SettingsFor(dependency string) Settings {
	s, ok := defaultSettings[dependency]
	if !ok {
		d := DefaultConfig()
		s = Settings{d.MaxRequests, d.Interval, d.Timeout, d.FailureThreshold, d.SuccessThreshold}
	}
	prefix := "INTERFLOW_CB_" + strings.ToUpper(dependency) + "_"
	s.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = getEnvDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = getEnvDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

// ToConfig converts Settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
