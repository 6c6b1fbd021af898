package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/observability/alerting"
	"DeepResearch/internal/observability/metrics"
	"DeepResearch/internal/pipeline"
	"DeepResearch/pkg/logger"
)

// Executor runs one research pipeline. *pipeline.Runner satisfies it.
type Executor interface {
	RunWithID(ctx context.Context, runID, query string) (pipeline.State, error)
}

// Processor consumes task ids and runs the pipeline for each.
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger overrides the processor logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount sets the number of concurrent runs.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher sends an alert whenever a task fails for good.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor builds a Processor.
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("task")
	}
	return p
}

// Start consumes until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "no task consumer configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "task processor not initialised")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("skipping task", "task_id", taskID, "reason", err.Error())
			return nil
		}
		p.logger.Error("claim task failed", "task_id", taskID, "error", err)
		return err
	}

	state, runErr := p.executor.RunWithID(ctx, task.ID, task.Query)
	// Bookkeeping must survive shutdown of the consumer context.
	storeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		return p.handleFailure(storeCtx, ctx.Err() != nil, task, runErr)
	}

	result := Result{
		Research:     state.Research(),
		Analysis:     state.Analysis(),
		Verification: state.Verification(),
		Summary:      state.Summary(),
	}
	if err := p.store.MarkSucceeded(storeCtx, task.ID, result); err != nil {
		p.logger.Error("record task result failed", "task_id", task.ID, "error", err)
		return err
	}
	metrics.ObserveTask("succeeded")
	logger.Audit().Info("research task succeeded",
		"task_id", task.ID,
		"query", task.Query,
		"attempts", task.Attempts,
		"duration", state.Duration().String(),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, shuttingDown bool, task *Task, runErr error) error {
	code := xerrors.CodeOf(runErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(runErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, task.ID, code, xerrors.UserMessage(runErr), terminal); err != nil {
		p.logger.Error("record task failure failed", "task_id", task.ID, "error", err)
		return err
	}
	logger.Audit().Warn("research task failed",
		"task_id", task.ID,
		"query", task.Query,
		"terminal", terminal,
		"error_code", string(code),
		"error", runErr.Error(),
		"attempts", task.Attempts,
		"max_retries", task.MaxRetries,
	)

	if terminal {
		metrics.ObserveTask("failed")
		p.emitAlert(ctx, task, code, runErr)
		return nil
	}
	metrics.ObserveTask("retried")
	if shuttingDown {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, "requeue task "+task.ID)
	}
	p.logger.Debug("task requeued", "task_id", task.ID, "attempts", task.Attempts)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    xerrors.UserMessage(cause),
		Severity:   xerrors.SeverityOf(cause),
		TaskID:     task.ID,
		Query:      task.Query,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		OccurredAt: p.now(),
		Metadata:   xerrors.MetadataOf(cause),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("alert delivery failed", "task_id", task.ID, "error", err)
	}
}
