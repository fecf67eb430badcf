package groq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/roleplaylabs/drill-core/core/llms"
)

// roundTripFunc serves canned responses without a live server.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func cannedClient(status int, body string, capture *[]byte) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if capture != nil {
			requestBody, _ := io.ReadAll(req.Body)
			*capture = requestBody
		}
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	})}
}

func TestPromptReturnsContentAndFinishReason(t *testing.T) {
	var captured []byte
	client := NewClient("test-key",
		WithHTTPClient(cannedClient(http.StatusOK, `{
			"choices": [{"message": {"role": "assistant", "content": "Hello."}, "finish_reason": "stop"}]
		}`, &captured)),
	)

	response, err := client.Prompt(context.Background(),
		[]llms.Message{{Role: llms.MessageRoleUser, Content: "hi"}},
		llms.WithInstructions("Be terse."),
	)
	if err != nil {
		t.Fatalf("expected prompt to succeed, got %v", err)
	}
	if response.Content != "Hello." || response.FinishReason != "stop" {
		t.Fatalf("expected content and finish reason, got %+v", response)
	}

	var request requestBody
	if err := json.Unmarshal(captured, &request); err != nil {
		t.Fatalf("expected a JSON request body, got %v", err)
	}
	if len(request.Messages) != 2 || request.Messages[0].Role != messageRoleSystem {
		t.Fatalf("expected instructions as the leading system message, got %+v", request.Messages)
	}
}

func TestPromptFailsOnNonOKStatus(t *testing.T) {
	client := NewClient("test-key",
		WithHTTPClient(cannedClient(http.StatusTooManyRequests, `{"error": "rate limited"}`, nil)),
	)

	if _, err := client.Prompt(context.Background(), []llms.Message{{Role: llms.MessageRoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected an error on a non-OK status")
	}
}

func TestStreamYieldsContentChunksUntilDone(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices": [{"delta": {"content": "Hel"}}]}`,
		``,
		`data: {"choices": [{"delta": {"content": "lo."}, "finish_reason": "stop"}]}`,
		``,
		`data: {"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	client := NewClient("test-key", WithHTTPClient(cannedClient(http.StatusOK, body, nil)))
	stream := client.PromptWithStream(context.Background(), []llms.Message{{Role: llms.MessageRoleUser, Content: "hi"}})

	var content strings.Builder
	finishReason := ""
	var usage *llms.Usage
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("expected chunks without errors, got %v", err)
		}
		if reason := chunk.FinishReason(); reason != nil {
			finishReason = *reason
		}
		if contentChunk, ok := chunk.(llms.StreamContentChunk); ok {
			content.WriteString(contentChunk.Content())
		}
		if usageChunk, ok := chunk.(llms.StreamUsageChunk); ok {
			u := usageChunk.Usage()
			usage = &u
		}
	}

	if content.String() != "Hello." {
		t.Fatalf("expected the accumulated content, got %q", content.String())
	}
	if finishReason != "stop" {
		t.Fatalf("expected finish reason stop, got %q", finishReason)
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Fatalf("expected the usage chunk, got %+v", usage)
	}
}

func TestPromptStructuredUnmarshalsIntoOut(t *testing.T) {
	type verdict struct {
		Score int `json:"score" jsonschema:"minimum=1,maximum=10"`
	}

	var captured []byte
	client := NewClient("test-key",
		WithHTTPClient(cannedClient(http.StatusOK, `{
			"choices": [{"message": {"content": "{\"score\": 8}"}}]
		}`, &captured)),
	)

	out := verdict{}
	err := client.PromptStructured(context.Background(),
		[]llms.Message{{Role: llms.MessageRoleUser, Content: "judge this"}},
		llms.ReflectSchema("verdict", &verdict{}),
		&out,
	)
	if err != nil {
		t.Fatalf("expected the structured prompt to succeed, got %v", err)
	}
	if out.Score != 8 {
		t.Fatalf("expected score 8, got %d", out.Score)
	}

	if !strings.Contains(string(captured), `"json_schema"`) {
		t.Fatal("expected the request to carry a json_schema response format")
	}
}

func TestPromptStructuredStripsFencedPayloads(t *testing.T) {
	type verdict struct {
		Score int `json:"score"`
	}

	client := NewClient("test-key",
		WithHTTPClient(cannedClient(http.StatusOK, `{
			"choices": [{"message": {"content": "`+"```json\\n{\\\"score\\\": 3}\\n```"+`"}}]
		}`, nil)),
	)

	out := verdict{}
	err := client.PromptStructured(context.Background(),
		[]llms.Message{{Role: llms.MessageRoleUser, Content: "judge this"}},
		llms.ReflectSchema("verdict", &verdict{}),
		&out,
	)
	if err != nil {
		t.Fatalf("expected the fenced payload to be stripped, got %v", err)
	}
	if out.Score != 3 {
		t.Fatalf("expected score 3, got %d", out.Score)
	}
}
