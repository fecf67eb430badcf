// Package reports assembles the end-of-session report from phase-1 scores
// and phase-2 extraction results.
package reports

import (
	"sort"
	"time"

	"github.com/roleplaylabs/drill-core/core/evaluation"
)

// TurnScore annotates one transcript turn with its phase-1 assessment. NPC
// turns carry no score.
type TurnScore struct {
	TurnNumber int
	Role       string
	Content    string
	// Score is the turn's mean raw score rescaled to 0-100, one decimal
	// place. Nil for turns that were not scored.
	Score       *float64
	Highlights  []string
	Issues      []string
	Suggestions []string
}

// FinalReport is the complete session assessment. Created once at session
// end; immutable thereafter.
type FinalReport struct {
	SessionID string
	// TotalScore is on a 0-100 scale, one decimal place.
	TotalScore float64
	// Dimensions are ordered by configured weight, descending.
	Dimensions         []evaluation.DimensionScore
	EvidenceSentences  []evaluation.EvidenceSentence
	RewriteSuggestions []evaluation.RewriteSuggestion
	Prescription       evaluation.Prescription
	ConversationScores []TurnScore
	CreatedAt          time.Time
}

// Aggregate combines all per-turn scores and phase-2 evidence into the final
// structured report.
func Aggregate(
	sessionID string,
	rubric evaluation.Rubric,
	transcript []evaluation.TranscriptEntry,
	partials []evaluation.PartialScore,
	extraction evaluation.Extraction,
	prescription evaluation.Prescription,
) *FinalReport {
	ordered := make([]evaluation.PartialScore, len(partials))
	copy(ordered, partials)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TurnNumber < ordered[j].TurnNumber })

	partialByTurn := make(map[int]evaluation.PartialScore, len(ordered))
	for _, partial := range ordered {
		partialByTurn[partial.TurnNumber] = partial
	}

	conversationScores := make([]TurnScore, 0, len(transcript))
	for _, entry := range transcript {
		turnScore := TurnScore{
			TurnNumber: entry.TurnNumber,
			Role:       entry.Role,
			Content:    entry.Content,
		}
		if partial, ok := partialByTurn[entry.TurnNumber]; ok {
			score := rubric.TotalScore([]evaluation.PartialScore{partial})
			turnScore.Score = &score
			turnScore.Highlights = partial.Highlights
			turnScore.Issues = partial.Issues
			turnScore.Suggestions = partial.Suggestions
		}
		conversationScores = append(conversationScores, turnScore)
	}

	return &FinalReport{
		SessionID:          sessionID,
		TotalScore:         rubric.TotalScore(ordered),
		Dimensions:         rubric.DimensionScores(ordered),
		EvidenceSentences:  extraction.Evidence,
		RewriteSuggestions: extraction.Rewrites,
		Prescription:       prescription,
		ConversationScores: conversationScores,
		CreatedAt:          time.Now(),
	}
}
