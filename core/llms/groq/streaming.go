package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	chunkPrefix = "data:"
	endMessage  = "[DONE]"
)

// Prompt executes a non-streamed chat completion.
func (c *Client) Prompt(ctx context.Context, messages []llms.Message, opts ...llms.PromptOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := requestBody{
		Model:       c.model,
		Messages:    toMessages(options.Instructions, messages),
		Stream:      false,
		Temperature: options.Temperature,
		Seed:        options.Seed,
		MaxTokens:   options.MaxTokens,
	}

	respBodyBytes, err := c.post(ctx, reqBody)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var body responseBody
	if err := json.Unmarshal(respBodyBytes, &body); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		return nil, err
	}
	if len(body.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		return nil, err
	}

	if body.Usage != nil {
		span.SetAttributes(attribute.Int("usage.input", body.Usage.PromptTokens))
		span.SetAttributes(attribute.Int("usage.output", body.Usage.CompletionTokens))
		span.SetAttributes(attribute.Int("usage.total", body.Usage.TotalTokens))
	}

	response := &llms.Response{Content: body.Choices[0].Message.Content}
	if body.Choices[0].FinishReason != nil {
		response.FinishReason = *body.Choices[0].FinishReason
	}
	return response, nil
}

// PromptWithStream prepares a streamed chat completion. The request is not
// sent until the returned stream's chunks are ranged over.
func (c *Client) PromptWithStream(_ context.Context, messages []llms.Message, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Stream{
		client: c,
		body: requestBody{
			Model:       c.model,
			Messages:    toMessages(options.Instructions, messages),
			Stream:      true,
			Temperature: options.Temperature,
			Seed:        options.Seed,
			MaxTokens:   options.MaxTokens,
		},
	}
}

type Stream struct {
	client *Client
	body   requestBody
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.body.Model))

		requestBodyBytes, err := json.Marshal(s.body)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err == nil {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := bytes.TrimSpace(bytes.TrimPrefix(scanner.Bytes(), []byte(chunkPrefix)))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}
			if string(chunk) == endMessage {
				break
			}

			var body streamingResponseBody
			if err := json.Unmarshal(chunk, &body); err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			if len(body.Choices) > 0 {
				choice := body.Choices[0]
				finishReason := choice.FinishReason
				if finishReason == nil {
					finishReason = choice.Delta.FinishReason
				}

				if choice.Delta.Content != "" {
					if !yield(StreamContentChunk{
						finishReason: finishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				} else if finishReason != nil {
					if !yield(StreamContentChunk{finishReason: finishReason}, nil) {
						return
					}
				}
			}

			if body.Usage != nil {
				span.SetAttributes(attribute.Int("usage.input", body.Usage.PromptTokens))
				span.SetAttributes(attribute.Int("usage.output", body.Usage.CompletionTokens))
				span.SetAttributes(attribute.Int("usage.total", body.Usage.TotalTokens))

				if !yield(StreamUsageChunk{usage: llms.Usage{
					InputTokens:  body.Usage.PromptTokens,
					OutputTokens: body.Usage.CompletionTokens,
					TotalTokens:  body.Usage.TotalTokens,
				}}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("error reading streamed response: %w", err))
			return
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string { return s.finishReason }
func (s StreamContentChunk) Content() string       { return s.content }

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string { return s.finishReason }
func (s StreamUsageChunk) Usage() llms.Usage     { return s.usage }
