package task

import (
	"context"

	xerrors "DeepResearch/internal/errors"
)

// Store persists task state.
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim moves a pending task to running and counts the attempt.
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	// MarkFailed records an error. A terminal failure moves the task to
	// failed; otherwise it returns to pending for another attempt.
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats aggregates task counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// observe counts one task.
func (s *Stats) observe(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if t.UpdatedAt == 0 {
		return
	}
	s.NewestUpdatedAt = max(s.NewestUpdatedAt, t.UpdatedAt)
	if s.OldestUpdatedAt == 0 || t.UpdatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
