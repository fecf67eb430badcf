package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
)

// neutralScore is the midpoint substituted for every dimension when a
// phase-1 call fails or returns an invalid row.
const neutralScore = 6

const scoreTurnTimeout = 20 * time.Second

// TranscriptEntry is one turn of the conversation as the evaluator sees it.
type TranscriptEntry struct {
	TurnNumber int
	Role       string
	Content    string
}

// PartialScore is the phase-1 result for one user turn. Immutable once
// created.
type PartialScore struct {
	TurnNumber int
	// Scores holds the raw 1-10 score per rubric dimension key.
	Scores      map[string]int
	Highlights  []string
	Issues      []string
	Suggestions []string
	// Fallback marks rows substituted by the deterministic neutral fallback.
	Fallback bool
}

// Evaluator is the two-phase scorer.
type Evaluator struct {
	client llms.StructuredPrompter
	rubric Rubric
}

type Option func(*Evaluator)

func WithRubric(rubric Rubric) Option {
	return func(e *Evaluator) { e.rubric = rubric }
}

func New(client llms.StructuredPrompter, opts ...Option) *Evaluator {
	e := &Evaluator{client: client, rubric: DefaultRubric()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Rubric() Rubric { return e.rubric }

// turnScoreResult is the schema-constrained shape of a phase-1 response.
// Every field is validated at the boundary; any invalid or missing value
// defaults the whole row uniformly.
type turnScoreResult struct {
	Opening           int      `json:"opening" jsonschema:"minimum=1,maximum=10"`
	Discovery         int      `json:"discovery" jsonschema:"minimum=1,maximum=10"`
	Presentation      int      `json:"presentation" jsonschema:"minimum=1,maximum=10"`
	ObjectionHandling int      `json:"objection_handling" jsonschema:"minimum=1,maximum=10"`
	Closing           int      `json:"closing" jsonschema:"minimum=1,maximum=10"`
	Rapport           int      `json:"rapport" jsonschema:"minimum=1,maximum=10"`
	Highlights        []string `json:"highlights"`
	Issues            []string `json:"issues"`
	Suggestions       []string `json:"suggestions"`
}

func (r turnScoreResult) scores() map[string]int {
	return map[string]int{
		"opening":            r.Opening,
		"discovery":          r.Discovery,
		"presentation":       r.Presentation,
		"objection_handling": r.ObjectionHandling,
		"closing":            r.Closing,
		"rapport":            r.Rapport,
	}
}

func (r turnScoreResult) valid() bool {
	for _, score := range r.scores() {
		if score < 1 || score > 10 {
			return false
		}
	}
	return true
}

// ScoreTurn scores the user turn identified by turnNumber against the rubric.
// It never returns an error and never blocks past its internal timeout: on
// any failure it substitutes the deterministic neutral row. It is safe to
// call concurrently with the live conversation.
func (e *Evaluator) ScoreTurn(ctx context.Context, turnNumber int, transcript []TranscriptEntry) PartialScore {
	ctx, span := tracer.Start(ctx, "score turn")
	defer span.End()
	span.SetAttributes(attribute.Int("evaluation.turn_number", turnNumber))

	ctx, cancel := context.WithTimeout(ctx, scoreTurnTimeout)
	defer cancel()

	var result turnScoreResult
	err := e.client.PromptStructured(ctx,
		[]llms.Message{{Role: llms.MessageRoleUser, Content: renderTranscript(transcript, turnNumber)}},
		llms.ReflectSchema("turn_score", &turnScoreResult{}),
		&result,
		llms.WithInstructions(e.scoringInstructions()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("evaluation.fallback", true))
		logger.WarnContext(ctx, "phase-1 scoring failed, substituting neutral row",
			"turn_number", turnNumber, "error", err)
		return e.neutralPartialScore(turnNumber)
	}
	if !result.valid() {
		span.SetAttributes(attribute.Bool("evaluation.fallback", true))
		logger.WarnContext(ctx, "phase-1 scoring returned out-of-range values, substituting neutral row",
			"turn_number", turnNumber)
		return e.neutralPartialScore(turnNumber)
	}

	return PartialScore{
		TurnNumber:  turnNumber,
		Scores:      result.scores(),
		Highlights:  result.Highlights,
		Issues:      result.Issues,
		Suggestions: result.Suggestions,
	}
}

func (e *Evaluator) neutralPartialScore(turnNumber int) PartialScore {
	scores := make(map[string]int, len(e.rubric))
	for _, dimension := range e.rubric {
		scores[dimension.Key] = neutralScore
	}
	return PartialScore{
		TurnNumber:  turnNumber,
		Scores:      scores,
		Highlights:  []string{},
		Issues:      []string{},
		Suggestions: []string{},
		Fallback:    true,
	}
}

func (e *Evaluator) scoringInstructions() string {
	var b strings.Builder
	b.WriteString("You score one trainee turn in a role-play training conversation. ")
	b.WriteString("Score the marked turn on every dimension from 1 (poor) to 10 (excellent), ")
	b.WriteString("and list concrete highlights, issues and suggestions for it.\n\nDimensions:\n")
	for _, dimension := range e.rubric {
		fmt.Fprintf(&b, "- %s (%s): %s\n", dimension.Key, dimension.Name, dimension.Description)
	}
	return b.String()
}

func renderTranscript(transcript []TranscriptEntry, scoredTurn int) string {
	var b strings.Builder
	for _, entry := range transcript {
		marker := ""
		if entry.TurnNumber == scoredTurn {
			marker = " <- score this turn"
		}
		fmt.Fprintf(&b, "[%d] %s: %s%s\n", entry.TurnNumber, entry.Role, entry.Content, marker)
	}
	return b.String()
}
