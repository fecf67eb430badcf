package llms

// PromptOptions carries the sampling parameters shared by complete, streamed
// and structured prompts.
type PromptOptions struct {
	Instructions string
	Temperature  *float32
	// Seed requests deterministic sampling from providers that support it.
	// Identical requests with an identical seed should produce identical
	// completions.
	Seed      *int64
	MaxTokens int
}

type PromptOption func(*PromptOptions)

// WithInstructions sets the system prompt. Repeating this option overwrites
// the previous system prompt.
func WithInstructions(instructions string) PromptOption {
	return func(o *PromptOptions) { o.Instructions = instructions }
}

func WithTemperature(temperature float32) PromptOption {
	return func(o *PromptOptions) { o.Temperature = &temperature }
}

func WithSeed(seed int64) PromptOption {
	return func(o *PromptOptions) { o.Seed = &seed }
}

func WithMaxTokens(maxTokens int) PromptOption {
	return func(o *PromptOptions) { o.MaxTokens = maxTokens }
}
