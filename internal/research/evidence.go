package research

import (
	"strings"
	"time"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/confidence"
)

// RecencyWindow is how old a source may be and still count as recent.
const RecencyWindow = 365 * 24 * time.Hour

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EvidenceFromSource derives fusion factors from a provider source. Missing
// quality counts as high; a missing or unparseable date counts as stale.
func EvidenceFromSource(src agents.Source, now time.Time) confidence.Evidence {
	ev := confidence.Evidence{Quality: 0.5, Recency: 0.5, Relevance: 1, Citations: 1}
	if src.Quality == "" || src.Quality == "high" {
		ev.Quality = 1
	}
	if src.Date != "" {
		if t, ok := parseDate(src.Date); ok && now.Sub(t) < RecencyWindow {
			ev.Recency = 1
		}
	}
	if src.Relevance != nil {
		ev.Relevance = *src.Relevance
	}
	if src.Citations != nil {
		ev.Citations = *src.Citations
	}
	return ev
}

// SourceConfidence scores a set of sources with within-stage fusion.
func SourceConfidence(sources []agents.Source, now time.Time) float64 {
	items := make([]confidence.Evidence, 0, len(sources))
	for _, src := range sources {
		items = append(items, EvidenceFromSource(src, now))
	}
	return confidence.WithinStage(items)
}
