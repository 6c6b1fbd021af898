package task

import (
	stdErrors "errors"

	xerrors "DeepResearch/internal/errors"
)

// Status is the lifecycle state of a queued run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result holds the three stage outputs of a completed run.
type Result struct {
	Research     string `json:"research"`
	Analysis     string `json:"analysis"`
	Verification string `json:"verification"`
	Summary      string `json:"summary"`
}

func (r *Result) empty() bool {
	return r == nil || (r.Research == "" && r.Analysis == "" && r.Verification == "" && r.Summary == "")
}

// Task is a queued research run. ID doubles as the pipeline run id.
type Task struct {
	ID         string  `json:"id"`
	Query      string  `json:"query"`
	Status     Status  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

var (
	ErrTaskNotFound  = xerrors.New(CodeTaskNotFound, "task not found")
	ErrTaskConflict  = xerrors.New(CodeTaskConflict, "task conflict")
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed")
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// IsTaskError reports whether err is the task sentinel for target.
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	case CodeTaskCompleted:
		return stdErrors.Is(err, ErrTaskCompleted)
	case CodeTaskExhausted:
		return stdErrors.Is(err, ErrTaskExhausted)
	}
	return false
}

// IsValidStatus reports whether status is one of the known values.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Finished reports whether the task will not run again.
func (t *Task) Finished() bool {
	if t == nil {
		return false
	}
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		result := *task.Result
		clone.Result = &result
	}
	return &clone
}
