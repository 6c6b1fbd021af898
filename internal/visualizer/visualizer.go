// Package visualizer accumulates the events of one research run and renders
// them as the four display panels: chat, steps, citations and summary.
package visualizer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"DeepResearch/internal/events"
)

const clockLayout = "15:04:05"

// Pair is one chat row. A nil side is an empty cell.
type Pair struct {
	User      *string `json:"user"`
	Assistant *string `json:"assistant"`
}

// TimedStep is a step stamped with its arrival time.
type TimedStep struct {
	Time string `json:"time"`
	events.Step
}

// TimedCitation is a citation stamped with its arrival time.
type TimedCitation struct {
	Time string `json:"time"`
	events.Citation
}

// Option configures a Visualizer.
type Option func(*Visualizer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Visualizer) {
		if now != nil {
			v.now = now
		}
	}
}

// Visualizer collects steps, citations and chat messages from a bus. It is
// safe for concurrent use; handlers may run on the pipeline goroutine while
// the interface reads.
type Visualizer struct {
	mu        sync.Mutex
	bus       events.Subscriber
	subs      []events.Subscription
	steps     []TimedStep
	citations []TimedCitation
	messages  []events.Message
	start     time.Time
	now       func() time.Time
}

// New subscribes a fresh Visualizer to all three event kinds.
func New(bus events.Subscriber, opts ...Option) *Visualizer {
	v := &Visualizer{bus: bus, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if bus != nil {
		v.subs = []events.Subscription{
			bus.SubscribeStep(v.onStep),
			bus.SubscribeCitation(v.onCitation),
			bus.SubscribeMessage(v.onMessage),
		}
	}
	return v
}

// Start records the start of the run. Later calls are ignored.
func (v *Visualizer) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.start.IsZero() {
		v.start = v.now()
	}
}

// Close detaches the visualizer from the bus. It is idempotent.
func (v *Visualizer) Close() {
	v.mu.Lock()
	subs := v.subs
	v.subs = nil
	v.mu.Unlock()
	for _, s := range subs {
		v.bus.Unsubscribe(s)
	}
}

func (v *Visualizer) onStep(s events.Step) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.steps = append(v.steps, TimedStep{Time: v.now().Format(clockLayout), Step: s})
}

func (v *Visualizer) onCitation(c events.Citation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.citations = append(v.citations, TimedCitation{Time: v.now().Format(clockLayout), Citation: c})
}

func (v *Visualizer) onMessage(m events.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, m)
}

// Steps returns a copy of the received steps.
func (v *Visualizer) Steps() []TimedStep {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TimedStep(nil), v.steps...)
}

// Citations returns a copy of the received citations.
func (v *Visualizer) Citations() []TimedCitation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TimedCitation(nil), v.citations...)
}

// Messages returns a copy of the received chat messages.
func (v *Visualizer) Messages() []events.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]events.Message(nil), v.messages...)
}

// FormatChatHistory folds the message sequence into display pairs. A user
// message opens a pair. An assistant message fills the newest pair if its
// assistant side is still empty, otherwise it opens a pair with no user side.
func (v *Visualizer) FormatChatHistory() []Pair {
	v.mu.Lock()
	defer v.mu.Unlock()
	return PairMessages(v.messages)
}

// PairMessages applies the chat folding rule to msgs.
func PairMessages(msgs []events.Message) []Pair {
	pairs := make([]Pair, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if m.Role == events.RoleUser {
			pairs = append(pairs, Pair{User: &content})
			continue
		}
		if n := len(pairs); n > 0 && pairs[n-1].Assistant == nil {
			pairs[n-1].Assistant = &content
			continue
		}
		pairs = append(pairs, Pair{Assistant: &content})
	}
	return pairs
}

// FormatResearchSteps renders the steps panel.
func (v *Visualizer) FormatResearchSteps() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.steps) == 0 {
		return "No research steps yet."
	}
	var sb strings.Builder
	sb.WriteString("🔍 Research Process:\n\n")
	for _, s := range v.steps {
		fmt.Fprintf(&sb, "[%s] 🤖 %s\n", s.Time, s.Action)
		fmt.Fprintf(&sb, "💭 Thought: %s\n", s.Thought)
		if s.Input != "" {
			fmt.Fprintf(&sb, "📥 Input: %s\n", s.Input)
		}
		fmt.Fprintf(&sb, "📝 Observation: %s\n\n", s.Observation)
	}
	return sb.String()
}

// FormatCitations renders the citations panel.
func (v *Visualizer) FormatCitations() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.citations) == 0 {
		return "No citations yet."
	}
	var sb strings.Builder
	sb.WriteString("📚 Citations:\n\n")
	for _, c := range v.citations {
		fmt.Fprintf(&sb, "[%s] 📄 %s\n", c.Time, c.Title)
		fmt.Fprintf(&sb, "🔗 URL: %s\n", c.URL)
		fmt.Fprintf(&sb, "📝 Content: %s\n\n", c.Content)
	}
	return sb.String()
}

// ResearchSummary renders the summary panel.
func (v *Visualizer) ResearchSummary() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.start.IsZero() {
		return "Research not started yet."
	}
	elapsed := int(v.now().Sub(v.start).Seconds())
	return fmt.Sprintf("📊 Research Summary:\n- Total Steps: %d\n- Citations Collected: %d\n- Time Elapsed: %dm %ds\n",
		len(v.steps), len(v.citations), elapsed/60, elapsed%60)
}

// Counts returns the number of steps and citations received.
func (v *Visualizer) Counts() (steps, citations int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.steps), len(v.citations)
}
