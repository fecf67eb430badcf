package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
)

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

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := schemaRequestBody{
		requestBody: requestBody{
			Model:       c.model,
			Messages:    toMessages(options.Instructions, messages),
			Temperature: options.Temperature,
			Seed:        options.Seed,
			MaxTokens:   options.MaxTokens,
		},
		ResponseFormat: &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: true,
			},
		},
	}

	if schemaString, err := schema.Schema.MarshalJSON(); err == nil {
		span.SetAttributes(attribute.String("request.schema", string(schemaString)))
	}

	respBodyBytes, err := c.post(ctx, reqBody)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var body responseBody
	if err := json.Unmarshal(respBodyBytes, &body); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		return err
	}
	if len(body.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		return err
	}

	content := body.Choices[0].Message.Content
	// Some models wrap the JSON payload in a fenced block despite the strict
	// response format.
	if split := strings.Split(content, "```"); len(split) > 1 {
		content = split[1]
		content = strings.TrimPrefix(content, "json")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		err = fmt.Errorf("error unmarshalling structured response: %w", err)
		span.RecordError(err)
		return err
	}

	return nil
}

func (c *Client) post(ctx context.Context, reqBody any) ([]byte, error) {
	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			logger.WarnContext(ctx, "groq request failed", "status", resp.Status, "body", string(errorBody))
		}
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return respBodyBytes, nil
}

type schemaRequestBody struct {
	requestBody
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string             `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool               `json:"strict"`
}
