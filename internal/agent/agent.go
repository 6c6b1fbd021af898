package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/events"
	"DeepResearch/internal/llm"
	"DeepResearch/internal/tools"
	"DeepResearch/pkg/logger"
)

const (
	defaultMaxIterations   = 5
	defaultObservationSize = 8000
)

// Agent runs a role against a task using a language model and tools.
type Agent struct {
	client          llm.Client
	publisher       events.Publisher
	tools           tools.Set
	maxIterations   int
	observationSize int
	llmTimeout      time.Duration
	logger          *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools sets the tools the model may call.
func WithTools(list ...tools.Tool) Option {
	return func(a *Agent) {
		a.tools = tools.NewSet(list...)
	}
}

// WithMaxIterations bounds the number of model calls per task.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithObservationLimit caps how many characters of a tool result are fed
// back to the model.
func WithObservationLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.observationSize = n
		}
	}
}

// WithLLMTimeout sets a deadline for each model call.
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithLogger overrides the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Agent.
func New(client llm.Client, publisher events.Publisher, opts ...Option) *Agent {
	ag := &Agent{
		client:          client,
		publisher:       publisher,
		tools:           tools.Set{},
		maxIterations:   defaultMaxIterations,
		observationSize: defaultObservationSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.logger == nil {
		ag.logger = logger.Named("agent")
	}
	return ag
}

// Execute runs task with its role and returns the final answer. When the
// iteration budget runs out, the last model text is returned.
func (a *Agent) Execute(ctx context.Context, task Task) (string, error) {
	if a.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "no language model configured")
	}
	if strings.TrimSpace(task.Description) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "task description is empty")
	}

	log := a.logger.With("role", task.Role.Name)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(task.Role, a.tools)},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}

	var last string
	for i := 0; i < a.maxIterations; i++ {
		text, err := a.generate(ctx, task.Role, messages)
		if err != nil {
			return "", err
		}
		last = text

		r := parseReply(text)
		if r.done {
			log.Debug("final answer", "iteration", i+1, "chars", len(r.final))
			return r.final, nil
		}

		observation := a.runTool(ctx, r.tool, r.input)
		a.notify(ctx, r.thought, r.tool, r.input, observation)
		log.Debug("tool call", "iteration", i+1, "tool", r.tool)

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: strings.TrimSpace(text)},
			llm.Message{Role: llm.RoleUser, Content: observationMarker + " " + observation},
		)
	}

	log.Warn("iteration budget exhausted", "max_iterations", a.maxIterations)
	return strings.TrimSpace(llm.StripReasoning(last)), nil
}

func (a *Agent) generate(ctx context.Context, role Role, messages []llm.Message) (string, error) {
	callCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.client.Generate(callCtx, llm.Request{
		Messages:    messages,
		Temperature: role.Temperature,
		Stop:        []string{"\n" + observationMarker},
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, role.Name+" timed out")
		}
		if inner, ok := xerrors.From(err); ok {
			return "", xerrors.Wrap(inner.Code(), err, role.Name+" failed", xerrors.WithRetryable(inner.Retryable()))
		}
		return "", xerrors.Wrap(xerrors.CodeLLMFailure, err, role.Name+" failed")
	}
	if resp == nil {
		return "", xerrors.New(xerrors.CodeLLMFailure, role.Name+" received no response")
	}
	return resp.Content, nil
}

func (a *Agent) runTool(ctx context.Context, name, input string) string {
	t, ok := a.tools.Lookup(name)
	if !ok {
		available := make([]string, 0, len(a.tools))
		for _, t := range a.tools.Sorted() {
			available = append(available, t.Name())
		}
		return fmt.Sprintf("Tool '%s' is not available. Available tools: %s", name, strings.Join(available, ", "))
	}
	out := t.Run(ctx, input)
	if runes := []rune(out); len(runes) > a.observationSize {
		out = string(runes[:a.observationSize]) + "..."
	}
	return out
}

// notify prefers the run-scoped publisher carried by ctx.
func (a *Agent) notify(ctx context.Context, thought, action, input, observation string) {
	if p := events.PublisherFrom(ctx, a.publisher); p != nil {
		p.NotifyStep(thought, action, input, observation)
	}
}
