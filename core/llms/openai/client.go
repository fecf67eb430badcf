package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roleplaylabs/drill-core/core/llms"
	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

const defaultModel = goopenai.GPT4oMini

var (
	_ llms.Prompter           = (*Client)(nil)
	_ llms.Streamer           = (*Client)(nil)
	_ llms.StructuredPrompter = (*Client)(nil)
)

type Client struct {
	client *goopenai.Client
	model  string
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// NewClient creates an OpenAI chat-completions client. If apiKey is empty the
// OPENAI_API_KEY environment variable is used.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	c := &Client{client: goopenai.NewClient(apiKey), model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Prompt(ctx context.Context, messages []llms.Message, opts ...llms.PromptOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, opts))
	if err != nil {
		err = fmt.Errorf("failed to create chat completion: %w", err)
		span.RecordError(err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("usage.input", resp.Usage.PromptTokens))
	span.SetAttributes(attribute.Int("usage.output", resp.Usage.CompletionTokens))
	span.SetAttributes(attribute.Int("usage.total", resp.Usage.TotalTokens))

	return &llms.Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

func (c *Client) PromptWithStream(_ context.Context, messages []llms.Message, opts ...llms.PromptOption) llms.Stream {
	return &Stream{client: c, request: c.request(messages, opts)}
}

// PromptStructured executes a chat completion constrained to a JSON schema
// and unmarshals the result into out.
func (c *Client) PromptStructured(
	ctx context.Context,
	messages []llms.Message,
	schema llms.SchemaSpec,
	out any,
	opts ...llms.PromptOption,
) error {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))
	span.SetAttributes(attribute.String("request.schema_name", schema.Name))

	request := c.request(messages, opts)
	request.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: schema.Schema,
			Strict: true,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		err = fmt.Errorf("failed to create structured chat completion: %w", err)
		span.RecordError(err)
		return err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		return err
	}

	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		err = fmt.Errorf("error unmarshalling structured response: %w", err)
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Client) request(messages []llms.Message, opts []llms.PromptOption) goopenai.ChatCompletionRequest {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	request := goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  toOpenAIMessages(options.Instructions, messages),
		MaxTokens: options.MaxTokens,
	}
	if options.Temperature != nil {
		request.Temperature = *options.Temperature
	}
	if options.Seed != nil {
		seed := int(*options.Seed)
		request.Seed = &seed
	}
	return request
}

type Stream struct {
	client  *Client
	request goopenai.ChatCompletionRequest
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.request.Model))

		request := s.request
		request.Stream = true
		stream, err := s.client.client.CreateChatCompletionStream(ctx, request)
		if err != nil {
			err = fmt.Errorf("failed to open chat completion stream: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				err = fmt.Errorf("error receiving stream chunk: %w", err)
				span.RecordError(err)
				yield(nil, err)
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]

			var finishReason *string
			if choice.FinishReason != "" {
				reason := string(choice.FinishReason)
				finishReason = &reason
			}
			if choice.Delta.Content == "" && finishReason == nil {
				continue
			}
			if !yield(StreamContentChunk{
				finishReason: finishReason,
				content:      choice.Delta.Content,
			}, nil) {
				return
			}
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string { return s.finishReason }
func (s StreamContentChunk) Content() string       { return s.content }
