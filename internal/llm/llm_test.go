package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	xerrors "DeepResearch/internal/errors"
)

func TestStripReasoning(t *testing.T) {
	in := "<think>\nlet me see\n</think>\n\nFinal Answer: 42"
	if got := StripReasoning(in); got != "Final Answer: 42" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestNormalizeModel(t *testing.T) {
	cases := map[string]string{
		"ollama/deepseek-r1:8b": "deepseek-r1:8b",
		"openai/gpt-4o-mini":    "gpt-4o-mini",
		"library/foo":           "library/foo",
		" llama3 ":              "llama3",
	}
	for in, want := range cases {
		if got := NormalizeModel(in); got != want {
			t.Fatalf("NormalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusErrorClassification(t *testing.T) {
	for status, retryable := range map[int]bool{400: false, 404: false, 429: true, 500: true, 503: true} {
		err := StatusError("backend", status, strings.Repeat("x", 600))
		assert.Equal(t, xerrors.CodeLLMFailure, xerrors.CodeOf(err), "status %d", status)
		assert.Equal(t, retryable, xerrors.RetryableError(err), "status %d", status)
		assert.Contains(t, err.Error(), "...")
	}
}

func TestStatusErrorTruncatesOnRuneBoundary(t *testing.T) {
	err := StatusError("backend", 502, strings.Repeat("é", 600))
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, strings.Repeat("é", 512)+"...")
	assert.NotContains(t, msg, strings.Repeat("é", 513))
}

func TestTransportErrorDistinguishesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(TransportError(ctx, "b", errors.New("reset"))))

	err := TransportError(context.Background(), "b", errors.New("connection refused"))
	assert.Equal(t, xerrors.CodeLLMFailure, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
}
