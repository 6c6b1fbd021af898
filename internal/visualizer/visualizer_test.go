package visualizer

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeepResearch/internal/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func str(s string) *string { return &s }

func TestEmptyPanels(t *testing.T) {
	v := New(events.NewBus())
	defer v.Close()

	assert.Empty(t, v.FormatChatHistory())
	assert.Equal(t, "No research steps yet.", v.FormatResearchSteps())
	assert.Equal(t, "No citations yet.", v.FormatCitations())
	assert.Equal(t, "Research not started yet.", v.ResearchSummary())
}

func TestChatPairing(t *testing.T) {
	bus := events.NewBus()
	v := New(bus)
	defer v.Close()

	bus.NotifyMessage(events.RoleUser, "Q")
	bus.NotifyMessage(events.RoleAssistant, "A")
	assert.Equal(t, []Pair{{User: str("Q"), Assistant: str("A")}}, v.FormatChatHistory())

	bus.NotifyMessage(events.RoleAssistant, "B")
	assert.Equal(t, []Pair{
		{User: str("Q"), Assistant: str("A")},
		{Assistant: str("B")},
	}, v.FormatChatHistory())
}

func TestPairMessagesLeadingAssistantAndOpenUser(t *testing.T) {
	pairs := PairMessages([]events.Message{
		{Role: events.RoleAssistant, Content: "hello"},
		{Role: events.RoleUser, Content: "Q1"},
		{Role: events.RoleUser, Content: "Q2"},
		{Role: events.RoleAssistant, Content: "A2"},
	})
	assert.Equal(t, []Pair{
		{Assistant: str("hello")},
		{User: str("Q1")},
		{User: str("Q2"), Assistant: str("A2")},
	}, pairs)
}

func TestStepsAndCitationsAreStamped(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)}
	bus := events.NewBus()
	v := New(bus, WithClock(clock.Now))
	defer v.Close()

	bus.NotifyStep("think", "Browser Navigation", "https://go.dev", "loaded")
	bus.NotifyStep("no input", "Task Creation", "", "ok")
	bus.NotifyCitation("The Go Programming Language", "https://go.dev", "Go is...")

	steps := v.FormatResearchSteps()
	assert.True(t, strings.HasPrefix(steps, "🔍 Research Process:\n\n"))
	assert.Contains(t, steps, "[09:30:15] 🤖 Browser Navigation\n💭 Thought: think\n📥 Input: https://go.dev\n📝 Observation: loaded\n\n")
	assert.Contains(t, steps, "[09:30:15] 🤖 Task Creation\n💭 Thought: no input\n📝 Observation: ok\n\n")

	assert.Equal(t,
		"📚 Citations:\n\n[09:30:15] 📄 The Go Programming Language\n🔗 URL: https://go.dev\n📝 Content: Go is...\n\n",
		v.FormatCitations())

	require.Len(t, v.Steps(), 2)
	require.Len(t, v.Citations(), 1)
	assert.Equal(t, "https://go.dev", v.Citations()[0].URL)
}

func TestSummaryReportsElapsedTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	bus := events.NewBus()
	v := New(bus, WithClock(clock.Now))
	defer v.Close()

	v.Start()
	bus.NotifyStep("a", "b", "c", "d")
	bus.NotifyCitation("t", "u", "c")
	clock.Advance(2*time.Minute + 5*time.Second)
	v.Start()

	summary := v.ResearchSummary()
	assert.Contains(t, summary, "- Total Steps: 1")
	assert.Contains(t, summary, "- Citations Collected: 1")
	assert.Contains(t, summary, "- Time Elapsed: 2m 5s")
}

func TestCloseStopsAccumulation(t *testing.T) {
	bus := events.NewBus()
	v := New(bus)

	bus.NotifyStep("a", "b", "c", "d")
	v.Close()
	v.Close()
	bus.NotifyStep("e", "f", "g", "h")
	bus.NotifyMessage(events.RoleUser, "late")

	steps, citations := v.Counts()
	assert.Equal(t, 1, steps)
	assert.Equal(t, 0, citations)
	assert.Empty(t, v.Messages())
	assert.Equal(t, 0, bus.Len(events.KindStep))
}

func TestConcurrentReadsDuringDelivery(t *testing.T) {
	bus := events.NewBus()
	v := New(bus)
	defer v.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			bus.NotifyStep("t", "a", "i", "o")
			bus.NotifyMessage(events.RoleAssistant, "m")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = v.FormatResearchSteps()
			_ = v.FormatChatHistory()
		}
	}()
	wg.Wait()

	steps, _ := v.Counts()
	assert.Equal(t, 200, steps)
}
