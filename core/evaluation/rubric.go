// Package evaluation scores training conversations in two phases: an online
// per-turn rubric pass that must never block the live conversation, and an
// offline end-of-session evidence-extraction pass. Both phases absorb
// generation failures through deterministic fallbacks.
package evaluation

import (
	"math"
	"sort"
)

// Dimension is one static rubric dimension. Dimensions are read-only
// configuration and are never mutated at runtime.
type Dimension struct {
	Key         string
	Name        string
	Weight      float64
	Description string
}

type Rubric []Dimension

// DefaultRubric returns the six-dimension rubric. Weights sum to 1.0.
func DefaultRubric() Rubric {
	return Rubric{
		{Key: "discovery", Name: "Needs Discovery", Weight: 0.20, Description: "Uncovers the counterpart's situation and needs through questions before pitching."},
		{Key: "presentation", Name: "Value Presentation", Weight: 0.20, Description: "Presents concrete, relevant value tied to the discovered needs."},
		{Key: "objection_handling", Name: "Objection Handling", Weight: 0.20, Description: "Acknowledges and resolves objections with specifics instead of deflecting."},
		{Key: "opening", Name: "Opening", Weight: 0.15, Description: "Opens the conversation with a clear purpose and earns the right to continue."},
		{Key: "closing", Name: "Closing", Weight: 0.15, Description: "Moves toward a concrete commitment or next step at the right moment."},
		{Key: "rapport", Name: "Rapport", Weight: 0.10, Description: "Builds trust through tone, listening and acknowledgement."},
	}
}

// DimensionScore is an aggregated, normalized per-dimension result.
type DimensionScore struct {
	Key    string
	Name   string
	Weight float64
	// Score is on a 0-100 scale, rounded to one decimal place.
	Score float64
}

// DimensionScores aggregates phase-1 rows into per-dimension scores: the mean
// of all raw 1-10 scores for each dimension across all turns, rescaled to a
// 100-point scale and rounded to one decimal place. The result is ordered by
// configured weight, descending.
func (r Rubric) DimensionScores(partials []PartialScore) []DimensionScore {
	scores := make([]DimensionScore, 0, len(r))
	for _, dimension := range r {
		sum, count := 0, 0
		for _, partial := range partials {
			if raw, ok := partial.Scores[dimension.Key]; ok {
				sum += raw
				count++
			}
		}

		score := DimensionScore{Key: dimension.Key, Name: dimension.Name, Weight: dimension.Weight}
		if count > 0 {
			score.Score = round1(float64(sum) / float64(count) * 10)
		}
		scores = append(scores, score)
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Weight > scores[j].Weight })
	return scores
}

// TotalScore is the mean of every raw per-turn-per-dimension score flattened
// across dimensions, rescaled to a 100-point scale, one decimal place.
func (r Rubric) TotalScore(partials []PartialScore) float64 {
	sum, count := 0, 0
	for _, partial := range partials {
		for _, dimension := range r {
			if raw, ok := partial.Scores[dimension.Key]; ok {
				sum += raw
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return round1(float64(sum) / float64(count) * 10)
}

// weakThreshold is the normalized score under which a dimension counts as
// weak.
const weakThreshold = 70.0

// WeakDimensions returns the dimensions scoring below the weak threshold,
// ranked weakest first.
func (r Rubric) WeakDimensions(partials []PartialScore) []WeakDimension {
	var weak []WeakDimension
	for _, score := range r.DimensionScores(partials) {
		if score.Score < weakThreshold {
			weak = append(weak, WeakDimension{Key: score.Key, Name: score.Name, Score: score.Score})
		}
	}
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].Score < weak[j].Score })
	return weak
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
