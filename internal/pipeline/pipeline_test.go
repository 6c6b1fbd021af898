package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeepResearch/internal/agent"
	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/events"
	"DeepResearch/internal/storage/mysql"
	"DeepResearch/internal/visualizer"
)

type stubExecutor struct {
	mu      sync.Mutex
	tasks   []agent.Task
	outputs map[string]string
	errs    map[string][]error
	bus     events.Publisher
}

func (s *stubExecutor) Execute(ctx context.Context, task agent.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	if queue := s.errs[task.Role.Name]; len(queue) > 0 {
		err := queue[0]
		s.errs[task.Role.Name] = queue[1:]
		if err != nil {
			return "", err
		}
	}
	if s.bus != nil {
		events.PublisherFrom(ctx, s.bus).NotifyCitation("source", "https://example.com", "preview...")
	}
	return s.outputs[task.Role.Name], nil
}

func newStub() *stubExecutor {
	return &stubExecutor{
		outputs: map[string]string{
			agent.WebResearchSpecialist.Name: "R",
			agent.ContentAnalyzer.Name:       "A",
			agent.FactChecker.Name:           "F",
		},
		errs: map[string][]error{},
	}
}

type recordedMessages struct {
	mu   sync.Mutex
	list []events.Message
}

func (r *recordedMessages) add(m events.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, m)
}

func (r *recordedMessages) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.list))
	for _, m := range r.list {
		out = append(out, m.Content)
	}
	return out
}

type memoryReports struct {
	mu      sync.Mutex
	records []mysql.ReportRecord
}

func (m *memoryReports) Save(_ context.Context, rec *mysql.ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryReports) GetByRunID(context.Context, string) (*mysql.ReportRecord, error) {
	return nil, mysql.ErrReportNotFound
}

func (m *memoryReports) ListLatest(context.Context, int) ([]mysql.ReportRecord, error) {
	return nil, nil
}

func (m *memoryReports) Close() error { return nil }

type observerSpy struct {
	stages   []string
	failed   []string
	outcomes []string
}

func (o *observerSpy) StageFinished(stage string, _ time.Duration, err error) {
	o.stages = append(o.stages, stage)
	if err != nil {
		o.failed = append(o.failed, stage)
	}
}

func (o *observerSpy) RunFinished(outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func subscribeAll(bus *events.Bus) (*recordedMessages, *int) {
	msgs := &recordedMessages{}
	steps := new(int)
	bus.SubscribeMessage(msgs.add)
	bus.SubscribeStep(func(events.Step) { *steps++ })
	return msgs, steps
}

func TestRunEmptyQueryIsNoop(t *testing.T) {
	bus := events.NewBus()
	msgs, steps := subscribeAll(bus)
	exec := newStub()

	state, err := NewRunner(exec, bus).Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, state.Phase())
	assert.Empty(t, msgs.contents())
	assert.Zero(t, *steps)
	assert.Empty(t, exec.tasks)
}

func TestRunPublishesStageResultsInOrder(t *testing.T) {
	bus := events.NewBus()
	msgs, steps := subscribeAll(bus)
	exec := newStub()
	reports := &memoryReports{}
	obs := &observerSpy{}

	state, err := NewRunner(exec, bus, WithReports(reports), WithObserver(obs)).RunWithID(context.Background(), "run-1", "quantum computing")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, state.Phase())
	assert.Equal(t, []string{
		"📝 Research Findings:\n\nR",
		"🔍 Analysis Results:\n\nA",
		"✅ Fact Check Results:\n\nF",
		FinalSummary("R", "A", "F"),
	}, msgs.contents())
	assert.Equal(t, 3, *steps)

	require.Len(t, exec.tasks, 3)
	assert.Contains(t, exec.tasks[0].Description, "quantum computing")
	assert.Equal(t, "R", exec.tasks[1].Context)
	assert.Equal(t, "A", exec.tasks[2].Context)

	assert.Equal(t, []string{"research", "analysis", "fact_check"}, obs.stages)
	assert.Equal(t, []string{mysql.StatusCompleted}, obs.outcomes)

	require.Len(t, reports.records, 1)
	rec := reports.records[0]
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "F", rec.Verification)
	assert.Equal(t, 3, rec.Steps)
	assert.Equal(t, mysql.StatusCompleted, rec.Status)
	assert.Equal(t, 0, bus.Len(events.KindCitation))
}

func TestRunCountsCitations(t *testing.T) {
	bus := events.NewBus()
	exec := newStub()
	exec.bus = bus
	reports := &memoryReports{}

	_, err := NewRunner(exec, bus, WithReports(reports)).Run(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, reports.records, 1)
	assert.Equal(t, 3, reports.records[0].Citations)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	cases := []struct {
		role      string
		stage     string
		published []string
		research  string
	}{
		{
			role:      agent.WebResearchSpecialist.Name,
			stage:     "research",
			published: []string{},
		},
		{
			role:      agent.ContentAnalyzer.Name,
			stage:     "analysis",
			published: []string{"📝 Research Findings:\n\nR"},
			research:  "R",
		},
		{
			role:      agent.FactChecker.Name,
			stage:     "fact_check",
			published: []string{"📝 Research Findings:\n\nR", "🔍 Analysis Results:\n\nA"},
			research:  "R",
		},
	}
	for _, tc := range cases {
		t.Run(tc.stage, func(t *testing.T) {
			bus := events.NewBus()
			msgs, _ := subscribeAll(bus)
			exec := newStub()
			exec.errs[tc.role] = []error{errors.New("model exploded")}
			reports := &memoryReports{}
			obs := &observerSpy{}

			state, err := NewRunner(exec, bus, WithReports(reports), WithObserver(obs)).Run(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeStageExecution, xerrors.CodeOf(err))
			assert.Equal(t, PhaseErrored, state.Phase())
			assert.Equal(t, tc.research, state.Research())
			assert.Empty(t, state.Summary())

			got := msgs.contents()
			require.Len(t, got, len(tc.published)+1)
			assert.Equal(t, tc.published, got[:len(tc.published)])
			last := got[len(got)-1]
			assert.True(t, strings.HasPrefix(last, "❌ An error occurred: "), last)
			assert.Contains(t, last, "model exploded")
			for _, m := range got {
				assert.NotContains(t, m, "Final Research Results")
			}

			assert.Len(t, exec.tasks, len(tc.published)+1)
			assert.Equal(t, []string{tc.stage}, obs.failed)
			assert.Equal(t, []string{mysql.StatusFailed}, obs.outcomes)
			require.Len(t, reports.records, 1)
			assert.Equal(t, mysql.StatusFailed, reports.records[0].Status)
			assert.Contains(t, reports.records[0].Error, "model exploded")
		})
	}
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, agent.Task) (string, error) {
	var m map[string]int
	m["boom"]++
	return "", nil
}

func TestRunConvertsStagePanicToFailure(t *testing.T) {
	bus := events.NewBus()
	msgs, _ := subscribeAll(bus)
	reports := &memoryReports{}

	var (
		state State
		err   error
	)
	require.NotPanics(t, func() {
		state, err = NewRunner(panickingExecutor{}, bus, WithReports(reports), WithStageRetries(2), WithRetryBackoff(0)).
			Run(context.Background(), "q")
	})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeStageExecution, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err))
	assert.Equal(t, PhaseErrored, state.Phase())

	got := msgs.contents()
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "❌ An error occurred: "), got[0])
	assert.Contains(t, got[0], "nil map")
	require.Len(t, reports.records, 1)
	assert.Equal(t, mysql.StatusFailed, reports.records[0].Status)
}

// rendezvousExecutor holds every research stage until all runs have
// published their first citation, so the runs overlap on the bus.
type rendezvousExecutor struct {
	arrived sync.WaitGroup
}

func (e *rendezvousExecutor) Execute(ctx context.Context, task agent.Task) (string, error) {
	events.PublisherFrom(ctx, nil).NotifyCitation("t", "https://example.com/"+task.Role.Name, "c")
	if task.Role.Name == agent.WebResearchSpecialist.Name {
		e.arrived.Done()
		e.arrived.Wait()
	}
	return "out", nil
}

func TestOverlappingRunsCountOwnEvents(t *testing.T) {
	bus := events.NewBus()
	var seen atomic.Int64
	bus.SubscribeCitation(func(events.Citation) { seen.Add(1) })

	const runs = 2
	exec := &rendezvousExecutor{}
	exec.arrived.Add(runs)
	reports := &memoryReports{}
	runner := NewRunner(exec, bus, WithReports(reports))

	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.RunWithID(context.Background(), fmt.Sprintf("run-%d", i), "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(runs*3), seen.Load())
	require.Len(t, reports.records, runs)
	for _, rec := range reports.records {
		assert.Equal(t, 3, rec.Citations, rec.RunID)
		assert.Equal(t, 3, rec.Steps, rec.RunID)
	}
}

func TestRunRetriesRetryableStageErrors(t *testing.T) {
	bus := events.NewBus()
	msgs, _ := subscribeAll(bus)
	exec := newStub()
	exec.errs[agent.WebResearchSpecialist.Name] = []error{
		xerrors.New(xerrors.CodeLLMFailure, "503 from model", xerrors.WithRetryable(true)),
	}

	state, err := NewRunner(exec, bus, WithStageRetries(2), WithRetryBackoff(0)).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, state.Phase())
	assert.Len(t, exec.tasks, 4)
	assert.Len(t, msgs.contents(), 4)
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	exec := newStub()
	exec.errs[agent.WebResearchSpecialist.Name] = []error{
		xerrors.New(xerrors.CodeLLMFailure, "400 from model", xerrors.WithRetryable(false)),
	}

	_, err := NewRunner(exec, events.NewBus(), WithStageRetries(3), WithRetryBackoff(0)).Run(context.Background(), "q")
	require.Error(t, err)
	assert.False(t, xerrors.RetryableError(err))
	assert.Len(t, exec.tasks, 1)
}

func TestRunWithoutRetriesByDefault(t *testing.T) {
	exec := newStub()
	exec.errs[agent.WebResearchSpecialist.Name] = []error{
		xerrors.New(xerrors.CodeNavigation, "flaky"),
	}

	_, err := NewRunner(exec, events.NewBus()).Run(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, xerrors.RetryableError(err))
	assert.Len(t, exec.tasks, 1)
}

func TestRetryBackoffHonoursCancellation(t *testing.T) {
	exec := newStub()
	exec.errs[agent.WebResearchSpecialist.Name] = []error{xerrors.New(xerrors.CodeLLMFailure, "busy")}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRunner(exec, events.NewBus(), WithStageRetries(1), WithRetryBackoff(time.Hour)).Run(ctx, "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, exec.tasks, 1)
}

func TestStateTransitionsDoNotMutate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idle := NewState("id", "q", start)
	researching := idle.enter(PhaseResearching)
	recorded := stages[0].record(researching, "out")
	done := recorded.finish(start.Add(90 * time.Second))

	assert.Equal(t, PhaseIdle, idle.Phase())
	assert.Equal(t, PhaseResearching, researching.Phase())
	assert.Empty(t, researching.Research())
	assert.Equal(t, "out", recorded.Research())
	assert.Equal(t, 90*time.Second, done.Duration())
	assert.True(t, done.Phase().Terminal())
	assert.False(t, recorded.Phase().Terminal())

	failed := researching.fail(errors.New("x"), start)
	assert.Equal(t, PhaseErrored, failed.Phase())
	assert.Nil(t, researching.Err())
}

func TestResearchProcessEmptyQuery(t *testing.T) {
	bus := events.NewBus()
	msgs, steps := subscribeAll(bus)
	a := "old"
	history := []visualizer.Pair{{User: &a}}

	d := NewRunner(newStub(), bus).ResearchProcess(context.Background(), "", history)
	assert.Equal(t, history, d.History)
	assert.Empty(t, d.Steps)
	assert.Empty(t, d.Citations)
	assert.Empty(t, d.Summary)
	assert.Empty(t, msgs.contents())
	assert.Zero(t, *steps)
}

func TestResearchProcessRendersPanels(t *testing.T) {
	bus := events.NewBus()
	exec := newStub()
	exec.bus = bus

	d := NewRunner(exec, bus).ResearchProcess(context.Background(), "Q", nil)

	require.Len(t, d.History, 5)
	assert.Equal(t, "Q", *d.History[0].User)
	assert.Equal(t, "🔍 Starting research process...", *d.History[0].Assistant)
	assert.Nil(t, d.History[1].User)
	assert.Equal(t, "📝 Research Findings:\n\nR", *d.History[1].Assistant)
	assert.Equal(t, FinalSummary("R", "A", "F"), *d.History[4].Assistant)

	assert.Contains(t, d.Steps, "Creating research task")
	assert.Contains(t, d.Citations, "https://example.com")
	assert.Contains(t, d.Summary, "Total Steps: 3")
	assert.Contains(t, d.Summary, "Citations Collected: 3")

	assert.Zero(t, bus.Len(events.KindStep))
	assert.Zero(t, bus.Len(events.KindMessage))
}

func TestResearchProcessShowsErrorMessage(t *testing.T) {
	bus := events.NewBus()
	exec := newStub()
	exec.errs[agent.WebResearchSpecialist.Name] = []error{errors.New("no network")}

	d := NewRunner(exec, bus).ResearchProcess(context.Background(), "Q", nil)
	require.Len(t, d.History, 2)
	require.Error(t, d.Err)
	assert.Contains(t, d.Err.Error(), "no network")
	assert.True(t, strings.HasPrefix(*d.History[1].Assistant, "❌ An error occurred: "))
	assert.Contains(t, *d.History[1].Assistant, "no network")
}

func TestClear(t *testing.T) {
	d := Clear()
	assert.Empty(t, d.History)
	assert.Empty(t, d.Steps)
	assert.Empty(t, d.Citations)
	assert.Empty(t, d.Summary)
}
