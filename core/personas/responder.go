package personas

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// trainTemperature keeps training conversations naturally varied.
	trainTemperature float32 = 0.9
	// examTemperature keeps exam conversations reproducible when paired with
	// a sampling seed.
	examTemperature float32 = 0.2
)

// openingStyles are the ways a persona may open the conversation. In seeded
// (exam) sessions the style is selected deterministically from the seed.
var openingStyles = []string{
	"Open with a short, neutral greeting and wait for the trainee to lead.",
	"Open by mentioning you are short on time today.",
	"Open with mild small talk before letting the trainee get to business.",
	"Open by referencing that you have looked at similar offers before.",
}

// Client is the chat-completion capability the responder generates through.
type Client interface {
	Prompt(ctx context.Context, messages []llms.Message, opts ...llms.PromptOption) (*llms.Response, error)
	PromptWithStream(ctx context.Context, messages []llms.Message, opts ...llms.PromptOption) llms.Stream
}

// Responder produces persona-consistent replies for one session.
type Responder struct {
	client  Client
	persona Persona

	temperature  float32
	seed         *int64
	openingStyle string
}

type ResponderOption func(*Responder)

// WithDeterministicSeed switches the responder to reproducible sampling:
// a fixed low temperature, the seed forwarded to the provider, and an
// opening style derived from the seed.
func WithDeterministicSeed(seed int64) ResponderOption {
	return func(r *Responder) {
		r.seed = &seed
		r.temperature = examTemperature
		r.openingStyle = openingStyles[rand.New(rand.NewSource(seed)).Intn(len(openingStyles))]
	}
}

func WithTemperature(temperature float32) ResponderOption {
	return func(r *Responder) { r.temperature = temperature }
}

func NewResponder(client Client, persona Persona, opts ...ResponderOption) *Responder {
	r := &Responder{
		client:       client,
		persona:      persona,
		temperature:  trainTemperature,
		openingStyle: openingStyles[rand.Intn(len(openingStyles))],
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Instructions returns the system prompt for the given turn number. It is
// also used as-is for realtime voice session configuration.
func (r *Responder) Instructions(turnNumber int) string {
	return r.persona.systemPrompt(guidanceForTurn(turnNumber))
}

type respondOptions struct {
	override *string
}

type RespondOption func(*respondOptions)

// WithOverride injects a director-provided line that is emitted verbatim
// with no model call.
func WithOverride(line string) RespondOption {
	return func(o *respondOptions) { o.override = &line }
}

// OpeningLine generates the persona's opening of the conversation, streamed
// through onDelta when non-nil.
func (r *Responder) OpeningLine(ctx context.Context, onDelta func(string), opts ...RespondOption) (*llms.Response, error) {
	cue := fmt.Sprintf("(The conversation is starting. %s)", r.openingStyle)
	history := []llms.Message{{Role: llms.MessageRoleUser, Content: cue}}
	return r.respond(ctx, history, 0, onDelta, opts)
}

// Respond generates the persona's reply to the conversation so far. The
// history must already include the trainee's latest message.
func (r *Responder) Respond(ctx context.Context, history []llms.Message, turnNumber int, opts ...RespondOption) (*llms.Response, error) {
	return r.respond(ctx, history, turnNumber, nil, opts)
}

// RespondStream is Respond with token deltas relayed through onDelta as they
// arrive. The returned response always carries the full reply content; deltas
// are never the source of record.
func (r *Responder) RespondStream(ctx context.Context, history []llms.Message, turnNumber int, onDelta func(string), opts ...RespondOption) (*llms.Response, error) {
	return r.respond(ctx, history, turnNumber, onDelta, opts)
}

func (r *Responder) respond(ctx context.Context, history []llms.Message, turnNumber int, onDelta func(string), opts []RespondOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "generate persona reply")
	defer span.End()
	span.SetAttributes(attribute.Int("persona.turn_number", turnNumber))
	span.SetAttributes(attribute.Int("persona.intensity", r.persona.Intensity))

	options := respondOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if options.override != nil {
		span.SetAttributes(attribute.Bool("persona.override", true))
		if onDelta != nil {
			onDelta(*options.override)
		}
		return &llms.Response{Content: *options.override, FinishReason: "stop"}, nil
	}

	promptOpts := []llms.PromptOption{
		llms.WithInstructions(r.Instructions(turnNumber)),
		llms.WithTemperature(r.temperature),
	}
	if r.seed != nil {
		promptOpts = append(promptOpts, llms.WithSeed(*r.seed))
	}

	if onDelta == nil {
		response, err := r.client.Prompt(ctx, history, promptOpts...)
		if err != nil {
			err = fmt.Errorf("failed to generate persona reply: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return response, nil
	}

	stream := r.client.PromptWithStream(ctx, history, promptOpts...)

	var content strings.Builder
	finishReason := "stop"
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			err = fmt.Errorf("failed to stream persona reply: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if reason := chunk.FinishReason(); reason != nil && *reason != "" {
			finishReason = *reason
		}

		if contentChunk, ok := chunk.(llms.StreamContentChunk); ok && contentChunk.Content() != "" {
			content.WriteString(contentChunk.Content())
			onDelta(contentChunk.Content())
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("persona reply cancelled: %w", err)
	}

	return &llms.Response{Content: content.String(), FinishReason: finishReason}, nil
}
