package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"DeepResearch/internal/agent"
	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/events"
	"DeepResearch/internal/storage/mysql"
	"DeepResearch/pkg/logger"
)

const (
	startMessage = "🔍 Starting research process..."
	errorPrefix  = "❌ An error occurred: "
)

// Executor runs one task to completion. *agent.Agent implements it.
type Executor interface {
	Execute(ctx context.Context, task agent.Task) (string, error)
}

// Bus is the event bus the runner publishes on and visualizers read from.
type Bus interface {
	events.Publisher
	events.Subscriber
}

// Observer receives stage and run timings.
type Observer interface {
	StageFinished(stage string, d time.Duration, err error)
	RunFinished(outcome string, d time.Duration)
}

// Runner executes research runs.
type Runner struct {
	exec     Executor
	bus      Bus
	reports  mysql.ReportRepository
	observer Observer
	retries  int
	backoff  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	audit    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStageRetries retries a stage up to n more times when its error is
// classified retryable.
func WithStageRetries(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithRetryBackoff sets the pause between stage attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithReports archives each finished run.
func WithReports(repo mysql.ReportRepository) Option {
	return func(r *Runner) { r.reports = repo }
}

// WithObserver reports timings, e.g. to Prometheus.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger overrides the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner builds a Runner that executes stages with exec and publishes on bus.
func NewRunner(exec Executor, bus Bus, opts ...Option) *Runner {
	r := &Runner{
		exec:    exec,
		bus:     bus,
		backoff: time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("pipeline")
	}
	r.audit = logger.Audit()
	return r
}

// Run executes the three stages for query with a fresh run id.
func (r *Runner) Run(ctx context.Context, query string) (State, error) {
	return r.RunWithID(ctx, uuid.NewString(), query)
}

// RunWithID executes the three stages for query. An empty query is a no-op
// that publishes nothing. On failure the run stops at the failing stage,
// a single error message is published and the typed error is returned.
func (r *Runner) RunWithID(ctx context.Context, runID, query string) (State, error) {
	if strings.TrimSpace(query) == "" {
		return NewState(runID, query, time.Time{}), nil
	}
	if r.exec == nil {
		return NewState(runID, query, time.Time{}), xerrors.New(xerrors.CodeInitializationFailure, "pipeline has no executor")
	}

	tally := events.NewTally(r.bus)
	ctx = events.ContextWithPublisher(ctx, tally)

	log := r.logger.With("run_id", runID)
	state := NewState(runID, query, r.now())
	r.audit.Info("research run started", "run_id", runID, "query", query)

	for _, st := range stages {
		state = state.enter(st.phase)
		log.Info("stage started", "stage", st.name)

		task := st.build(tally, st.input(state))
		started := r.now()
		out, err := r.execute(ctx, st, task)
		r.observeStage(st.name, r.now().Sub(started), err)

		if err != nil {
			wrapped := xerrors.Wrap(xerrors.CodeStageExecution, err, st.name+" stage failed",
				xerrors.WithRetryable(xerrors.RetryableError(err)),
				xerrors.WithMetadata("stage", st.name),
				xerrors.WithMetadata("run_id", runID))
			state = state.fail(wrapped, r.now())
			r.publish(errorPrefix + xerrors.UserMessage(wrapped))

			log.Error("stage failed", "stage", st.name, "code", xerrors.CodeOf(err), "error", err)
			r.audit.Warn("research run failed", "run_id", runID, "stage", st.name, "code", xerrors.CodeOf(err))
			r.finish(ctx, state, tally)
			return state, wrapped
		}

		state = st.record(state, out)
		r.publish(st.header + out)
		log.Info("stage completed", "stage", st.name, "chars", len(out))
		r.audit.Info("research stage completed", "run_id", runID, "stage", st.name)
	}

	state = state.finish(r.now())
	r.publish(state.Summary())
	r.audit.Info("research run completed", "run_id", runID, "duration", state.Duration().String())
	r.finish(ctx, state, tally)
	return state, nil
}

func (r *Runner) execute(ctx context.Context, st stage, task agent.Task) (string, error) {
	var (
		out string
		err error
	)
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("retrying stage", "stage", st.name, "attempt", attempt+1, "error", err)
			if waitErr := sleep(ctx, r.backoff); waitErr != nil {
				return "", xerrors.Wrap(xerrors.CodeTimeout, waitErr, "cancelled while waiting to retry")
			}
		}
		out, err = r.call(ctx, st, task)
		if err == nil || !xerrors.RetryableError(err) || ctx.Err() != nil {
			break
		}
	}
	return out, err
}

// call runs one attempt and turns an executor panic into a stage error.
func (r *Runner) call(ctx context.Context, st stage, task agent.Task) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stage panicked", "stage", st.name, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			out, err = "", xerrors.New(xerrors.CodeStageExecution, fmt.Sprintf("panic: %v", p), xerrors.WithRetryable(false))
		}
	}()
	return r.exec.Execute(ctx, task)
}

func (r *Runner) publish(content string) {
	if r.bus != nil {
		r.bus.NotifyMessage(events.RoleAssistant, content)
	}
}

func (r *Runner) observeStage(name string, d time.Duration, err error) {
	if r.observer != nil {
		r.observer.StageFinished(name, d, err)
	}
}

func (r *Runner) finish(ctx context.Context, s State, tally *events.Tally) {
	outcome := mysql.StatusCompleted
	errText := ""
	if s.Phase() == PhaseErrored {
		outcome = mysql.StatusFailed
		errText = xerrors.UserMessage(s.Err())
	}
	if r.observer != nil {
		r.observer.RunFinished(outcome, s.Duration())
	}
	if r.reports == nil {
		return
	}

	record := &mysql.ReportRecord{
		RunID:        s.RunID(),
		Query:        s.Query(),
		Research:     s.Research(),
		Analysis:     s.Analysis(),
		Verification: s.Verification(),
		Summary:      s.Summary(),
		Status:       outcome,
		Error:        errText,
		Steps:        tally.Steps(),
		Citations:    tally.Citations(),
		DurationMS:   s.Duration().Milliseconds(),
		CreatedAt:    s.StartedAt().Unix(),
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.reports.Save(saveCtx, record); err != nil {
		r.logger.Warn("archive report failed", "run_id", s.RunID(), "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
