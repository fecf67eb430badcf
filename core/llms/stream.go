package llms

import "context"

// Stream is a lazily-executed token-delta stream. Chunks may only be ranged
// over once; the iteration performs the upstream request and honours ctx
// cancellation between chunks.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage reports token accounting for a completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
