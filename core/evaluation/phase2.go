package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
)

const extractTimeout = 60 * time.Second

// majorImpactThreshold is the impact magnitude at or above which evidence is
// classified as major.
const majorImpactThreshold = 7

type EvidenceKind string

const (
	EvidenceHighlight EvidenceKind = "highlight"
	EvidenceIssue     EvidenceKind = "issue"
)

type Severity string

const (
	SeverityMajor Severity = "major"
	SeverityMinor Severity = "minor"
)

// EvidenceSentence is a verbatim sentence from the transcript with its
// assessment.
type EvidenceSentence struct {
	TurnNumber int
	Speaker    string
	Kind       EvidenceKind
	Severity   Severity
	Sentence   string
}

type RewriteSuggestion struct {
	TurnNumber int
	Original   string
	Suggested  string
}

type WeakDimension struct {
	Key   string
	Name  string
	Score float64
}

// Prescription is the recommended follow-up training.
type Prescription struct {
	WeakDimensions []WeakDimension
	// RecommendedScenarios are practice scenarios ranked by how weak the
	// dimension they train is.
	RecommendedScenarios []string
	// RealWorldTask is one concrete task targeting the single weakest
	// dimension.
	RealWorldTask string
}

// Extraction is the phase-2 result.
type Extraction struct {
	Evidence []EvidenceSentence
	Rewrites []RewriteSuggestion
	// Fallback marks extractions derived purely from phase-1 rows.
	Fallback bool
}

type extractionResult struct {
	Evidence []struct {
		TurnNumber int    `json:"turn_number"`
		Speaker    string `json:"speaker" jsonschema:"enum=user,enum=npc"`
		Kind       string `json:"kind" jsonschema:"enum=highlight,enum=issue"`
		Impact     int    `json:"impact" jsonschema:"minimum=1,maximum=10"`
		Sentence   string `json:"sentence"`
	} `json:"evidence"`
	Rewrites []struct {
		TurnNumber int    `json:"turn_number"`
		Original   string `json:"original"`
		Suggested  string `json:"suggested"`
	} `json:"rewrites"`
}

// Extract runs the offline evidence-extraction pass over the complete turn
// log. It never returns an error: on any failure it derives evidence from
// the accumulated phase-1 rows instead.
func (e *Evaluator) Extract(ctx context.Context, transcript []TranscriptEntry, partials []PartialScore) Extraction {
	ctx, span := tracer.Start(ctx, "extract session evidence")
	defer span.End()
	span.SetAttributes(attribute.Int("evaluation.turns", len(transcript)))

	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	var result extractionResult
	err := e.client.PromptStructured(ctx,
		[]llms.Message{{Role: llms.MessageRoleUser, Content: renderTranscript(transcript, -1)}},
		llms.ReflectSchema("session_extraction", &extractionResult{}),
		&result,
		llms.WithInstructions(e.extractionInstructions()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("evaluation.fallback", true))
		logger.WarnContext(ctx, "phase-2 extraction failed, deriving from phase-1 rows", "error", err)
		return fallbackExtraction(partials)
	}

	extraction := Extraction{}
	for _, evidence := range result.Evidence {
		kind := EvidenceKind(evidence.Kind)
		if kind != EvidenceHighlight && kind != EvidenceIssue {
			continue
		}
		severity := SeverityMinor
		if evidence.Impact >= majorImpactThreshold {
			severity = SeverityMajor
		}
		extraction.Evidence = append(extraction.Evidence, EvidenceSentence{
			TurnNumber: evidence.TurnNumber,
			Speaker:    evidence.Speaker,
			Kind:       kind,
			Severity:   severity,
			Sentence:   evidence.Sentence,
		})
	}
	for _, rewrite := range result.Rewrites {
		extraction.Rewrites = append(extraction.Rewrites, RewriteSuggestion(rewrite))
	}
	return extraction
}

// fallbackExtraction derives evidence purely from phase-1 highlights and
// issues. Issue severity comes from the row's weakest raw score.
func fallbackExtraction(partials []PartialScore) Extraction {
	extraction := Extraction{Fallback: true}
	for _, partial := range partials {
		issueSeverity := SeverityMinor
		for _, score := range partial.Scores {
			if score <= 3 {
				issueSeverity = SeverityMajor
				break
			}
		}

		for _, highlight := range partial.Highlights {
			extraction.Evidence = append(extraction.Evidence, EvidenceSentence{
				TurnNumber: partial.TurnNumber,
				Speaker:    "user",
				Kind:       EvidenceHighlight,
				Severity:   SeverityMinor,
				Sentence:   highlight,
			})
		}
		for _, issue := range partial.Issues {
			extraction.Evidence = append(extraction.Evidence, EvidenceSentence{
				TurnNumber: partial.TurnNumber,
				Speaker:    "user",
				Kind:       EvidenceIssue,
				Severity:   issueSeverity,
				Sentence:   issue,
			})
		}
	}
	return extraction
}

func (e *Evaluator) extractionInstructions() string {
	var b strings.Builder
	b.WriteString("You analyze a completed role-play training conversation. ")
	b.WriteString("Quote evidence sentences verbatim from the transcript, classify each as a highlight or an issue ")
	b.WriteString("with its impact magnitude, and suggest rewrites for the trainee's weakest lines.\n\nDimensions under training:\n")
	for _, dimension := range e.rubric {
		fmt.Fprintf(&b, "- %s: %s\n", dimension.Key, dimension.Description)
	}
	return b.String()
}

// Prescribe builds the training prescription from phase-1 rows and the
// static scenario lookup. It is fully deterministic and usable with the
// generation gateway unavailable.
func (e *Evaluator) Prescribe(partials []PartialScore) Prescription {
	weak := e.rubric.WeakDimensions(partials)

	prescription := Prescription{WeakDimensions: weak}
	for _, dimension := range weak {
		prescription.RecommendedScenarios = append(prescription.RecommendedScenarios, recommendedScenarios[dimension.Key]...)
	}
	if len(weak) > 0 {
		prescription.RealWorldTask = realWorldTasks[weak[0].Key]
	}
	if len(prescription.RecommendedScenarios) == 0 {
		prescription.RecommendedScenarios = []string{"advanced-negotiation"}
	}
	if prescription.RealWorldTask == "" {
		prescription.RealWorldTask = "In your next real conversation, summarize the other side's position in one sentence before responding."
	}
	return prescription
}

// recommendedScenarios maps a rubric dimension to practice scenarios that
// train it, strongest recommendation first.
var recommendedScenarios = map[string][]string{
	"opening":            {"cold-open-gatekeeper", "elevator-pitch-30s"},
	"discovery":          {"silent-prospect-discovery", "needs-mapping-interview"},
	"presentation":       {"feature-to-value-translation", "demo-under-pressure"},
	"objection_handling": {"price-objection-gauntlet", "competitor-comparison"},
	"closing":            {"commitment-ladder", "renewal-negotiation"},
	"rapport":            {"upset-customer-recovery", "small-talk-to-business"},
}

// realWorldTasks maps a rubric dimension to one concrete task for the
// trainee's next real conversation.
var realWorldTasks = map[string]string{
	"opening":            "In your next real call, state the purpose of the call in your first two sentences.",
	"discovery":          "In your next real conversation, ask three open questions before mentioning your offer.",
	"presentation":       "In your next real pitch, tie every feature you mention to a need the other side stated.",
	"objection_handling": "Next time you hear an objection, restate it in your own words before answering it.",
	"closing":            "End your next real conversation by proposing one concrete next step with a date.",
	"rapport":            "In your next real conversation, acknowledge the other side's concern before countering it.",
}
