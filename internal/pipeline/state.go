package pipeline

import (
	"fmt"
	"time"

	"DeepResearch/internal/agent"
	"DeepResearch/internal/events"
)

// Phase is the position of a run in the pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResearching
	PhaseAnalyzing
	PhaseFactChecking
	PhaseDone
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResearching:
		return "researching"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseFactChecking:
		return "fact_checking"
	case PhaseDone:
		return "done"
	case PhaseErrored:
		return "errored"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseErrored }

// State is an immutable snapshot of a run. Transitions return a new value.
type State struct {
	runID        string
	query        string
	phase        Phase
	research     string
	analysis     string
	verification string
	err          error
	startedAt    time.Time
	finishedAt   time.Time
}

// NewState returns the Idle state of a run.
func NewState(runID, query string, startedAt time.Time) State {
	return State{runID: runID, query: query, phase: PhaseIdle, startedAt: startedAt}
}

func (s State) RunID() string         { return s.runID }
func (s State) Query() string         { return s.query }
func (s State) Phase() Phase          { return s.phase }
func (s State) Research() string      { return s.research }
func (s State) Analysis() string      { return s.analysis }
func (s State) Verification() string  { return s.verification }
func (s State) Err() error            { return s.err }
func (s State) StartedAt() time.Time  { return s.startedAt }
func (s State) FinishedAt() time.Time { return s.finishedAt }

// Duration is the wall time of a finished run, zero otherwise.
func (s State) Duration() time.Duration {
	if s.finishedAt.IsZero() {
		return 0
	}
	return s.finishedAt.Sub(s.startedAt)
}

// Summary is the composite report of a completed run.
func (s State) Summary() string {
	if s.phase != PhaseDone {
		return ""
	}
	return FinalSummary(s.research, s.analysis, s.verification)
}

func (s State) enter(p Phase) State {
	s.phase = p
	return s
}

func (s State) fail(err error, at time.Time) State {
	s.phase = PhaseErrored
	s.err = err
	s.finishedAt = at
	return s
}

func (s State) finish(at time.Time) State {
	s.phase = PhaseDone
	s.finishedAt = at
	return s
}

// stage describes one step of the pipeline as data: which phase it runs in,
// how to build its task from the current state and how its output is folded
// back into the state.
type stage struct {
	phase  Phase
	name   string
	header string
	build  func(events.Publisher, string) agent.Task
	input  func(State) string
	record func(State, string) State
}

var stages = []stage{
	{
		phase:  PhaseResearching,
		name:   "research",
		header: "📝 Research Findings:\n\n",
		build:  agent.ResearchTask,
		input:  func(s State) string { return s.query },
		record: func(s State, out string) State {
			s.research = out
			return s
		},
	},
	{
		phase:  PhaseAnalyzing,
		name:   "analysis",
		header: "🔍 Analysis Results:\n\n",
		build:  agent.AnalysisTask,
		input:  func(s State) string { return s.research },
		record: func(s State, out string) State {
			s.analysis = out
			return s
		},
	},
	{
		phase:  PhaseFactChecking,
		name:   "fact_check",
		header: "✅ Fact Check Results:\n\n",
		build:  agent.FactCheckTask,
		input:  func(s State) string { return s.analysis },
		record: func(s State, out string) State {
			s.verification = out
			return s
		},
	},
}

// FinalSummary renders the three stage outputs as one report.
func FinalSummary(research, analysis, verification string) string {
	return fmt.Sprintf("🎯 Final Research Results:\n\n1️⃣ Initial Research:\n%s\n\n2️⃣ Analysis:\n%s\n\n3️⃣ Fact Check:\n%s",
		research, analysis, verification)
}
