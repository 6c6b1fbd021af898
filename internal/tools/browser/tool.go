// Package browser implements the web browsing tool used by the research
// agent: find a URL in a task description, render the page and return its
// visible text.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/events"
	"DeepResearch/internal/tools"
	"DeepResearch/pkg/logger"
)

const (
	// Name is the tool name agents use in "Action:" lines.
	Name = "Browser"

	actionNavigation = "Browser Navigation"
	actionPageLoad   = "Page Load"
	actionExtraction = "Content Extraction"
	actionURL        = "URL Extraction"
	actionError      = "Browser Error"

	msgNoURL = "No URL found in task description"

	defaultPreviewChars = 500
)

// Option configures a Tool.
type Option func(*Tool)

// WithLogger overrides the tool logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithPreviewChars sets how much extracted text is attached to citations.
func WithPreviewChars(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.previewChars = n
		}
	}
}

// Tool fetches the first URL mentioned in its input and reports progress on
// the event bus. It never returns an error; failures come back as text.
type Tool struct {
	fetcher      Fetcher
	publisher    events.Publisher
	logger       *slog.Logger
	previewChars int
}

// New builds the browser tool.
func New(fetcher Fetcher, publisher events.Publisher, opts ...Option) *Tool {
	t := &Tool{
		fetcher:      fetcher,
		publisher:    publisher,
		previewChars: defaultPreviewChars,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.logger == nil {
		t.logger = logger.Named("tools.browser")
	}
	return t
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tools.Tool.
func (t *Tool) Description() string {
	return "Browse websites and extract information. The input must contain the URL to visit."
}

// Run implements tools.Tool.
func (t *Tool) Run(ctx context.Context, description string) string {
	t.notifyStep(ctx, "Starting browser task", actionNavigation, description, "Initializing browser")

	raw, ok := ExtractURL(description)
	if !ok {
		t.notifyStep(ctx, "Task failed", actionURL, description, msgNoURL)
		return msgNoURL
	}
	url := NormalizeURL(raw)

	text, err := t.browse(ctx, url)
	if err != nil {
		observation := "Error during browser task: " + xerrors.UserMessage(err)
		t.logger.Warn("browser task failed", "url", url, "code", xerrors.CodeOf(err), "error", err)
		t.notifyStep(ctx, "Task failed", actionError, description, observation)
		return observation
	}
	return text
}

func (t *Tool) browse(ctx context.Context, url string) (string, error) {
	if t.fetcher == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "no page fetcher configured")
	}
	t.notifyStep(ctx, "Navigating to "+url, actionPageLoad, url, "Loading webpage")

	page, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeNavigation, err, "load "+url)
		}
		return "", err
	}

	title, text, err := ExtractText(page.HTML)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExtraction, err, "parse page")
	}
	if page.Title != "" {
		title = page.Title
	}

	if p := events.PublisherFrom(ctx, t.publisher); p != nil {
		p.NotifyCitation(title, url, Preview(text, t.previewChars))
	}
	t.notifyStep(ctx, "Completed browser task", actionExtraction, url,
		fmt.Sprintf("Successfully extracted %d characters of content", len([]rune(text))))
	t.logger.Debug("page extracted", "url", url, "title", title, "chars", len(text))
	return text, nil
}

func (t *Tool) notifyStep(ctx context.Context, thought, action, input, observation string) {
	if p := events.PublisherFrom(ctx, t.publisher); p != nil {
		p.NotifyStep(thought, action, input, observation)
	}
}

var _ tools.Tool = (*Tool)(nil)
