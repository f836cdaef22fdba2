// Package analysis implements the analysis stage: descriptive statistics,
// trend and repetition detection over the research records.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/confidence"
)

// repeatedRatio is the distinct-value share below which a column counts as repetitive.
const repeatedRatio = 0.2

// Agent is the analysis stage handler.
type Agent struct {
	logger *zap.Logger
}

// NewAgent creates an analysis agent.
func NewAgent(logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{logger: logger}
}

// Handle implements agents.Handler.
func (a *Agent) Handle(_ context.Context, in agents.Input) (agents.Output, error) {
	ai, ok := in.(agents.AnalysisInput)
	if !ok {
		return nil, agents.Inputf("analysis", "unexpected input %T", in)
	}
	return a.Analyze(ai.Records)
}

// Healthy always reports true; the agent has no external dependencies.
func (a *Agent) Healthy(context.Context) bool { return true }

// Analyze computes the analysis output for records.
func (a *Agent) Analyze(records []agents.Record) (agents.AnalysisOutput, error) {
	if len(records) == 0 {
		return agents.AnalysisOutput{}, agents.Inputf("analysis", "no data provided for analysis")
	}

	rows := dedupe(records)
	cols := columns(rows)
	if len(cols) == 0 {
		return agents.AnalysisOutput{}, agents.Inputf("analysis", "data is empty after preprocessing")
	}

	out := agents.AnalysisOutput{
		Statistics: make(map[string]agents.ColumnStats),
		Trends:     []string{},
		Patterns:   []string{},
		Insights:   []string{},
	}

	present := 0
	for _, col := range cols {
		values, n := numericColumn(rows, col)
		present += n
		if values == nil {
			continue
		}
		st := describe(values)
		out.Statistics[col] = st
		out.Insights = append(out.Insights, fmt.Sprintf("%s: mean=%.2f, std=%.2f, min=%v, max=%v", col, st.Mean, st.Std, st.Min, st.Max))
		if len(values) > 1 && slope(values) > 0 {
			out.Trends = append(out.Trends, col+" shows an increasing trend.")
		}
		if float64(distinct(values)) < float64(len(rows))*repeatedRatio {
			out.Patterns = append(out.Patterns, col+" has many repeated values (potential pattern/cluster).")
		}
	}
	for _, col := range cols {
		if _, ok := out.Statistics[col]; !ok {
			present += countPresent(rows, col)
		}
	}

	out.Insights = append(out.Insights, out.Trends...)
	out.Insights = append(out.Insights, out.Patterns...)

	completeness := float64(present) / float64(len(rows)*len(cols))
	insightFactor := math.Min(float64(len(out.Insights))/float64(len(cols)), 1)
	out.Confidence = confidence.Round2(0.5*completeness + 0.5*insightFactor)

	a.logger.Debug("Analysis completed",
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(cols)),
		zap.Int("insights", len(out.Insights)),
		zap.Float64("confidence", out.Confidence),
	)
	return out, nil
}

// dedupe drops rows whose canonical encoding was already seen, keeping order.
func dedupe(records []agents.Record) []agents.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]agents.Record, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			out = append(out, r)
			continue
		}
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, r)
	}
	return out
}

// columns returns the union of keys across rows in sorted order.
func columns(rows []agents.Record) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func countPresent(rows []agents.Record, col string) int {
	n := 0
	for _, r := range rows {
		if v, ok := r[col]; ok && v != nil {
			n++
		}
	}
	return n
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// numericColumn returns the column with missing cells filled by the column
// mean, or nil when any present cell is non-numeric or no cell is present.
// The second result counts the cells that were present before filling.
func numericColumn(rows []agents.Record, col string) ([]float64, int) {
	values := make([]float64, len(rows))
	missing := make([]bool, len(rows))
	present := 0
	sum := 0.0
	for i, r := range rows {
		v, ok := r[col]
		if !ok || v == nil {
			missing[i] = true
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, 0
		}
		values[i] = f
		sum += f
		present++
	}
	if present == 0 {
		return nil, 0
	}
	mean := sum / float64(present)
	for i := range values {
		if missing[i] {
			values[i] = mean
		}
	}
	return values, present
}

// describe computes mean, sample standard deviation, min and max. A single
// value has a standard deviation of zero.
func describe(values []float64) agents.ColumnStats {
	st := agents.ColumnStats{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))
	if len(values) > 1 {
		ss := 0.0
		for _, v := range values {
			d := v - st.Mean
			ss += d * d
		}
		st.Std = math.Sqrt(ss / float64(len(values)-1))
	}
	return st
}

// slope is the least-squares slope of values against their index.
func slope(values []float64) float64 {
	n := float64(len(values))
	xMean := (n - 1) / 2
	yMean := 0.0
	for _, v := range values {
		yMean += v
	}
	yMean /= n
	var num, den float64
	for i, v := range values {
		dx := float64(i) - xMean
		num += dx * (v - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func distinct(values []float64) int {
	set := make(map[float64]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return len(set)
}
