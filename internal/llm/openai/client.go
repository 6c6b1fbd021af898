package openai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 120 * time.Second
	backendName      = "chat completion endpoint"
)

// Config describes an OpenAI-compatible chat completions endpoint. Ollama
// exposes the same API under <host>/v1, in which case no key is needed.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	model string
	http  *resty.Client
}

// NewClient builds a Client. A key is mandatory only for api.openai.com.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if apiKey == "" && baseURL == defaultBaseURL {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "an api key is required for api.openai.com")
	}
	model := llm.NormalizeModel(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := llm.NewHTTPClient(baseURL, timeout)
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &Client{model: model, http: rc}, nil
}

// Model returns the model identifier sent with each request.
func (c *Client) Model() string { return c.model }

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// apiError is the {"error": {...}} body OpenAI-compatible servers send.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chat completion needs at least one message")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:       c.model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			Stop:        req.Stop,
		}).
		Post("/chat/completions")
	if err != nil {
		return nil, llm.TransportError(ctx, backendName, err)
	}
	if resp.IsError() {
		detail := resp.String()
		var apiErr apiError
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return nil, llm.StatusError(backendName, resp.StatusCode(), detail)
	}

	var decoded completionResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "decode chat completion response")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "chat completion response has no choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "chat completion response is empty",
			xerrors.WithMetadata("finish_reason", decoded.Choices[0].FinishReason))
	}
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{Content: content, Model: model}, nil
}

var _ llm.Client = (*Client)(nil)
