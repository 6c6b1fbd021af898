package task

import (
	"slices"
	"strings"
	"time"

	xerrors "DeepResearch/internal/errors"
)

// Order is the listing order by last update.
type Order string

const (
	NewestFirst Order = "newest"
	OldestFirst Order = "oldest"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ParseOrder accepts "newest"/"desc" and "oldest"/"asc". Empty means newest.
func ParseOrder(raw string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "newest", "desc":
		return NewestFirst, nil
	case "oldest", "asc":
		return OldestFirst, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "order must be newest or oldest")
	}
}

// ParseStatuses splits a comma separated status list.
func ParseStatuses(raw string) ([]Status, error) {
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !IsValidStatus(Status(part)) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown status "+part)
		}
		out = append(out, Status(part))
	}
	return out, nil
}

// ListOptions selects research tasks for List and Stats. Zero fields do not
// filter.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// Since and Until bound UpdatedAt, both inclusive.
	Since time.Time
	Until time.Time
	// Answered selects tasks with (true) or without (false) a stored result.
	Answered *bool
	Order    Order
	// Search is a case-insensitive substring of the id, query or last error.
	Search string
}

func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	o.Statuses = dedupeStatuses(o.Statuses)
	if o.Order != OldestFirst {
		o.Order = NewestFirst
	}
	o.Search = strings.TrimSpace(o.Search)
}

// matches applies every filter except paging to t.
func (o ListOptions) matches(t *Task) bool {
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, t.Status) {
		return false
	}
	if !o.Since.IsZero() && t.UpdatedAt < o.Since.Unix() {
		return false
	}
	if !o.Until.IsZero() && t.UpdatedAt > o.Until.Unix() {
		return false
	}
	if o.Answered != nil && t.Result.empty() == *o.Answered {
		return false
	}
	if o.Search != "" {
		needle := strings.ToLower(o.Search)
		for _, field := range []string{t.ID, t.Query, t.LastError} {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	}
	return true
}

// ListOption adjusts ListOptions.
type ListOption func(*ListOptions)

// WithPage returns at most limit tasks after skipping offset.
func WithPage(limit, offset int) ListOption {
	return func(o *ListOptions) {
		o.Limit, o.Offset = limit, offset
	}
}

// WithStatuses keeps tasks in any of statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) {
		o.Statuses = append([]Status(nil), statuses...)
	}
}

// WithUpdatedBetween bounds the last update. A zero time leaves that side open.
func WithUpdatedBetween(since, until time.Time) ListOption {
	return func(o *ListOptions) {
		o.Since, o.Until = since, until
	}
}

// WithAnswered keeps tasks that do or do not carry a result.
func WithAnswered(answered bool) ListOption {
	return func(o *ListOptions) {
		o.Answered = &answered
	}
}

// WithOrder sets the listing order.
func WithOrder(order Order) ListOption {
	return func(o *ListOptions) {
		o.Order = order
	}
}

// WithSearch keeps tasks whose id, query or last error contains text.
func WithSearch(text string) ListOption {
	return func(o *ListOptions) {
		o.Search = text
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

func dedupeStatuses(in []Status) []Status {
	var out []Status
	for _, s := range in {
		if IsValidStatus(s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
