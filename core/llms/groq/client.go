package groq

import (
	"net/http"
	"os"

	"github.com/roleplaylabs/drill-core/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const url = "https://api.groq.com/openai/v1/chat/completions"

const defaultModel = "llama-3.3-70b-versatile"

var (
	_ llms.Prompter           = (*Client)(nil)
	_ llms.Streamer           = (*Client)(nil)
	_ llms.StructuredPrompter = (*Client)(nil)
)

type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a Groq chat-completions client. If apiKey is empty the
// GROQ_API_KEY environment variable is used.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}

	c := &Client{
		apiKey: apiKey,
		model:  defaultModel,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
