package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "DeepResearch/internal/errors"
)

type failingNotifier struct{}

func (failingNotifier) Channel() Channel                    { return "failing" }
func (failingNotifier) Notify(context.Context, Event) error { return errors.New("down") }

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeStageExecution,
		Message:    "research run exhausted retries",
		Severity:   xerrors.SeverityCritical,
		TaskID:     "task-1",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "analysis"},
		OccurredAt: time.Unix(0, 0).UTC(),
	}
}

func TestLogNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "alert: research run exhausted retries", rec["msg"])
	assert.Equal(t, "task-1", rec["task_id"])
	assert.Equal(t, "analysis", rec["stage"])
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Contains(t, got["text"], "STAGE_EXECUTION_FAILED")
	assert.Contains(t, got["text"], "task task-1")
}

func TestWebhookNotifierReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	assert.NoError(t, NewWebhookNotifier("", 0).Notify(context.Background(), sampleEvent()))
}

func TestFanoutJoinsFailures(t *testing.T) {
	var buf bytes.Buffer
	d := NewFanout(&LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}, failingNotifier{}, nil)
	err := d.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel failing: down")
	assert.NotEmpty(t, buf.String())

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), sampleEvent()))
}
