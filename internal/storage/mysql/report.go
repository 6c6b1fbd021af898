package mysql

import (
	"context"

	xerrors "DeepResearch/internal/errors"
)

// Report statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ReportRecord is the archived outcome of one research run.
type ReportRecord struct {
	ID           int64  `json:"id"`
	RunID        string `json:"run_id"`
	Query        string `json:"query"`
	Research     string `json:"research"`
	Analysis     string `json:"analysis"`
	Verification string `json:"verification"`
	Summary      string `json:"summary"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Steps        int    `json:"steps"`
	Citations    int    `json:"citations"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    int64  `json:"created_at"`
}

// ReportRepository stores research reports.
type ReportRepository interface {
	// Save inserts the record, or replaces the one with the same RunID.
	Save(ctx context.Context, record *ReportRecord) error
	GetByRunID(ctx context.Context, runID string) (*ReportRecord, error)
	// ListLatest returns reports newest first. A non-positive limit means all.
	ListLatest(ctx context.Context, limit int) ([]ReportRecord, error)
	Close() error
}

// ErrReportNotFound is returned when no report matches.
var ErrReportNotFound = xerrors.New(xerrors.CodeNotFound, "report not found")
