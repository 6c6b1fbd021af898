package ollama

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
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "deepseek-r1:8b"
	defaultTimeout = 5 * time.Minute
)

// Config describes a local Ollama server.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to Ollama's native /api/chat endpoint without streaming.
type Client struct {
	baseURL string
	model   string
	http    *resty.Client
}

// NewClient builds a Client, filling in Ollama's defaults.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := llm.NormalizeModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    llm.NewHTTPClient(baseURL, timeout),
	}
}

// Model returns the model used for every request.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model      string      `json:"model"`
	Message    llm.Message `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	Error      string      `json:"error"`
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ollama chat needs at least one message")
	}
	options := map[string]any{"temperature": req.Temperature}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: req.Messages, Options: options}).
		Post("/api/chat")
	if err != nil {
		return nil, llm.TransportError(ctx, "ollama", err)
	}

	// Ollama reports failures as {"error": "..."}, sometimes with a 200.
	var decoded chatResponse
	decodeErr := json.Unmarshal(resp.Body(), &decoded)
	switch {
	case resp.IsError() && decodeErr == nil && decoded.Error != "":
		return nil, llm.StatusError("ollama", resp.StatusCode(), decoded.Error)
	case resp.IsError():
		return nil, llm.StatusError("ollama", resp.StatusCode(), resp.String())
	case decodeErr != nil:
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, decodeErr, "decode ollama response")
	case decoded.Error != "":
		return nil, xerrors.New(xerrors.CodeLLMFailure, "ollama: "+decoded.Error)
	}

	content := strings.TrimSpace(decoded.Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "ollama returned an empty message",
			xerrors.WithMetadata("done_reason", decoded.DoneReason))
	}
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{Content: content, Model: model}, nil
}

var _ llm.Client = (*Client)(nil)
