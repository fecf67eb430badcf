package llms

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Prompter produces a complete response for a message list.
type Prompter interface {
	Prompt(ctx context.Context, messages []Message, opts ...PromptOption) (*Response, error)
}

// Streamer produces a token-delta stream for a message list.
type Streamer interface {
	PromptWithStream(ctx context.Context, messages []Message, opts ...PromptOption) Stream
}

// StructuredPrompter produces a response constrained to a JSON schema and
// unmarshals it into out. Implementations must return an error on malformed
// output rather than a partially-populated value; callers are expected to
// fall back deterministically.
type StructuredPrompter interface {
	PromptStructured(ctx context.Context, messages []Message, schema SchemaSpec, out any, opts ...PromptOption) error
}

// SchemaSpec names a JSON schema for a structured call.
type SchemaSpec struct {
	Name   string
	Schema *jsonschema.Schema
}

// ReflectSchema derives a SchemaSpec from a result type using reflection,
// without $ref indirection so it can be sent inline as a response format.
func ReflectSchema(name string, out any) SchemaSpec {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return SchemaSpec{Name: name, Schema: reflector.Reflect(out)}
}
