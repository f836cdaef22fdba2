// Package ratecontrol turns requests-per-minute limits into outbound pacing.
package ratecontrol

import (
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-provider request budget. Zero RPM means unlimited.
type RateLimit struct {
	RPM   int
	Burst int
}

var builtInProviderLimits = map[string]RateLimit{
	"perplexity": {RPM: 50, Burst: 5},
	"tavily":     {RPM: 100, Burst: 10},
	"serpapi":    {RPM: 60, Burst: 5},
	"unknown":    {RPM: 30, Burst: 3},
}

// LimitForProvider returns the override for provider when one is set, then the
// built-in limit, then the "unknown" limit.
func LimitForProvider(provider string, overrides map[string]RateLimit) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	if limit, ok := overrides[key]; ok {
		return limit
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	return builtInProviderLimits["unknown"]
}

// CombineLimits keeps the stricter positive value of each field.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM:   minPositive(a.RPM, b.RPM),
		Burst: minPositive(a.Burst, b.Burst),
	}
	if limit.RPM == 0 {
		limit.RPM = max(a.RPM, b.RPM)
	}
	if limit.Burst == 0 {
		limit.Burst = max(a.Burst, b.Burst)
	}
	return limit
}

// MinInterval is the average spacing between requests allowed by limit.
func MinInterval(limit RateLimit) time.Duration {
	if limit.RPM <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(60000.0/float64(limit.RPM))) * time.Millisecond
}

// NewLimiter builds a token bucket for limit. Unlimited budgets never block.
func NewLimiter(limit RateLimit) *rate.Limiter {
	if limit.RPM <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
