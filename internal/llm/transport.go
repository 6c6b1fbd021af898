package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "DeepResearch/internal/errors"
)

const maxDetailRunes = 512

// NewHTTPClient returns the JSON client shared by the HTTP backends.
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "DeepResearch/1.0")
}

// StatusError classifies a non-2xx reply from backend. Rate limiting and
// server errors are retryable.
func StatusError(backend string, status int, detail string) error {
	detail = strings.TrimSpace(detail)
	if runes := []rune(detail); len(runes) > maxDetailRunes {
		detail = string(runes[:maxDetailRunes]) + "..."
	}
	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return xerrors.New(xerrors.CodeLLMFailure,
		fmt.Sprintf("%s returned status %d: %s", backend, status, detail),
		xerrors.WithRetryable(retryable),
		xerrors.WithMetadata("backend", backend),
		xerrors.WithMetadata("status", strconv.Itoa(status)))
}

// TransportError classifies a request that got no reply.
func TransportError(ctx context.Context, backend string, err error) error {
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, backend+" request cancelled")
	}
	return xerrors.Wrap(xerrors.CodeLLMFailure, err, "call "+backend, xerrors.WithRetryable(true))
}
