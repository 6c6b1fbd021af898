package llm

import (
	"context"
	"regexp"
	"strings"
)

// Chat roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	Stop        []string
}

// Response is the generated text of a completion.
type Response struct {
	Content string
	Model   string
}

// Client is implemented by every language-model backend.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>…</think> blocks emitted by reasoning
// models such as deepseek-r1.
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
}

// NormalizeModel drops a "provider/" routing prefix ("ollama/llama3" ->
// "llama3").
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if prefix, rest, ok := strings.Cut(model, "/"); ok && (prefix == "ollama" || prefix == "openai") {
		return rest
	}
	return model
}
