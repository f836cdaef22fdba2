// Package confidence fuses evidence factors into a single score in [0, 1].
//
// Two fusions exist. WithinStage averages weighted evidence quality for the
// sources behind one stage's output. Fuse combines the confidences of several
// stages with a geometric mean, so that one weak stage pulls the whole result
// down and any zero forces zero.
package confidence

import "math"

// Factor weights for within-stage fusion.
const (
	WeightQuality   = 0.4
	WeightRecency   = 0.2
	WeightRelevance = 0.3
	WeightCitations = 0.1

	// CitationSaturation is the citation count at which the citation factor reaches 1.
	CitationSaturation = 10
)

// Evidence is the factor set for one supporting item.
type Evidence struct {
	Quality   float64
	Recency   float64
	Relevance float64
	Citations int
}

// Score returns the weighted, unrounded contribution of a single item.
func (e Evidence) Score() float64 {
	cit := math.Min(float64(e.Citations)/CitationSaturation, 1)
	if cit < 0 {
		cit = 0
	}
	return WeightQuality*e.Quality +
		WeightRecency*e.Recency +
		WeightRelevance*e.Relevance +
		WeightCitations*cit
}

// WithinStage averages the weighted score of every item. An empty set scores 0.
func WithinStage(items []Evidence) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, e := range items {
		sum += e.Score()
	}
	return Round2(sum / float64(len(items)))
}

// Fuse returns the geometric mean of the usable inputs, rounded to two decimals.
// NaN, infinite and negative values are dropped. No usable inputs yields 0.
func Fuse(values ...float64) float64 {
	n := 0
	logSum := 0.0
	zero := false
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		n++
		if v == 0 {
			zero = true
			continue
		}
		logSum += math.Log(v)
	}
	if n == 0 || zero {
		return 0
	}
	return Round2(math.Exp(logSum / float64(n)))
}

// Round2 rounds half away from zero to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
