package engine

import (
	"time"

	"github.com/roleplaylabs/drill-core/core/evaluation"
	"github.com/roleplaylabs/drill-core/core/llms"
	"github.com/roleplaylabs/drill-core/core/personas"
)

type Option func(*Engine)

// WithChatClient sets the chat-completion capability personas generate
// through.
func WithChatClient(client personas.Client) Option {
	return func(e *Engine) { e.chat = client }
}

// WithStructuredClient sets the schema-constrained capability the evaluator
// scores through.
func WithStructuredClient(client llms.StructuredPrompter) Option {
	return func(e *Engine) { e.structured = client }
}

// WithTurnStore replaces the default in-memory turn log store.
func WithTurnStore(store TurnStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithRubric replaces the default scoring rubric.
func WithRubric(rubric evaluation.Rubric) Option {
	return func(e *Engine) { e.rubric = rubric }
}

// WithSessionTTL sets how long an idle session may live before the registry
// aborts and drops it.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.sessionTTL = ttl }
}

type turnOptions struct {
	onDelta    func(delta string)
	onFinish   func(reason string)
	onCoachTip func(tip string)
	override   *string
}

// TurnOption configures a single Start or SendMessage call.
type TurnOption func(*turnOptions)

// WithDeltaCallback relays persona reply token chunks as they arrive.
func WithDeltaCallback(onDelta func(delta string)) TurnOption {
	return func(o *turnOptions) { o.onDelta = onDelta }
}

// WithFinishCallback relays the generation finish reason once the reply
// completes.
func WithFinishCallback(onFinish func(reason string)) TurnOption {
	return func(o *turnOptions) { o.onFinish = onFinish }
}

// WithCoachTipCallback relays the coaching hint computed after the reply.
// Hints are produced in train mode only.
func WithCoachTipCallback(onCoachTip func(tip string)) TurnOption {
	return func(o *turnOptions) { o.onCoachTip = onCoachTip }
}

// WithDirectorOverride makes the persona emit the given line verbatim with
// no model call.
func WithDirectorOverride(line string) TurnOption {
	return func(o *turnOptions) { o.override = &line }
}
