// Package alerting notifies operators when a queued research run fails for
// good.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/pkg/logger"
)

// Channel names a notification channel.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event describes something worth alerting on.
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	TaskID     string            `json:"task_id"`
	Query      string            `json:"query,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers events to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher delivers events to every configured channel.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher sends each event to all notifiers.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a FanoutDispatcher; one notifier per channel is kept.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify implements Dispatcher. Every notifier is tried; failures are joined.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier writes events to the audit log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	l.Error("alert: "+event.Message, attrs...)
	return nil
}

// WebhookNotifier posts events as JSON, e.g. to a chat incoming webhook.
type WebhookNotifier struct {
	URL    string
	client *resty.Client
}

// NewWebhookNotifier builds a notifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{URL: strings.TrimSpace(url), client: resty.New().SetTimeout(timeout)}
}

// Channel implements Notifier.
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" || n.client == nil {
		logger.L().Warn("webhook notifier not configured, skipping", slog.String("task_id", event.TaskID))
		return nil
	}
	payload := map[string]any{
		"text":  fmt.Sprintf("[%s] %s: %s (task %s, attempt %d/%d)", event.Severity, event.Code, event.Message, event.TaskID, event.Attempts, event.MaxRetries),
		"event": event,
	}
	resp, err := n.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(payload).Post(n.URL)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
