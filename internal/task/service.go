package task

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/pkg/logger"
)

// SubmitRequest asks for an asynchronous research run. A non-empty ID makes
// the submission idempotent.
type SubmitRequest struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
}

// Service creates and queries tasks.
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService builds a Service. maxRetries bounds attempts per task.
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit stores a pending task and publishes it. Resubmitting a known ID
// returns the existing task.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerrors.New(CodeTaskValidation, "query is empty")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task service not initialised")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:         taskID,
		Query:      query,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			return s.store.Get(ctx, taskID)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "publish task")
		logger.L().Error("enqueue task failed", "task_id", taskID, "error", err)
		_ = s.store.MarkFailed(context.WithoutCancel(ctx), taskID, CodeTaskPublish, xerrors.UserMessage(wrapped), true)
		return nil, wrapped
	}
	logger.Audit().Info("research task queued",
		"task_id", taskID,
		"query", query,
		"max_retries", task.MaxRetries,
	)
	return task, nil
}

// Get returns the task with id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns tasks matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats aggregates tasks matching opts.
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Resume republishes pending tasks, for example those interrupted by a
// shutdown. It returns how many were published.
func (s *Service) Resume(ctx context.Context) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "task service not initialised")
	}
	pending, err := s.store.List(ctx, ListOptions{Statuses: []Status{StatusPending}, Limit: maxListLimit, Order: OldestFirst})
	if err != nil {
		return 0, err
	}
	for i, task := range pending {
		if err := s.producer.Publish(ctx, task.ID); err != nil {
			return i, xerrors.Wrap(CodeTaskPublish, err, "republish task "+task.ID)
		}
	}
	return len(pending), nil
}

// WaitUntilCompleted polls until the task has finished or ctx is done.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Finished() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the store and producer.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
