package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"DeepResearch/internal/events"
	"DeepResearch/internal/pipeline"
	"DeepResearch/internal/visualizer"
)

// Researcher runs one submission. *pipeline.Runner implements it.
type Researcher interface {
	ResearchProcess(ctx context.Context, query string, history []visualizer.Pair, opts ...visualizer.Option) pipeline.Display
}

// Tab identifies a panel.
type Tab int

const (
	TabChat Tab = iota
	TabSteps
	TabCitations
	TabSummary
	tabCount
)

var tabNames = [tabCount]string{"Chat", "Research Steps", "Citations", "Summary"}

type researchDoneMsg struct {
	display pipeline.Display
}

// refreshMsg is sent whenever the bus delivers an event during a run.
type refreshMsg struct{}

// Model is the bubbletea model.
type Model struct {
	ctx        context.Context
	researcher Researcher
	bus        events.Subscriber

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	tab     Tab
	width   int
	height  int
	running bool
	query   string

	display pipeline.Display
	live    *visualizer.Visualizer
}

// New builds a Model. bus feeds the live panels and may be nil.
func New(ctx context.Context, researcher Researcher, bus events.Subscriber) Model {
	input := textinput.New()
	input.Placeholder = "Enter your research query..."
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:        ctx,
		researcher: researcher,
		bus:        bus,
		input:      input,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		display:    pipeline.Clear(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.stopLive()
			return m, tea.Quit
		case tea.KeyTab:
			m.tab = (m.tab + 1) % tabCount
			m.viewport.GotoTop()
		case tea.KeyShiftTab:
			m.tab = (m.tab - 1 + tabCount) % tabCount
			m.viewport.GotoTop()
		case tea.KeyCtrlL:
			if !m.running {
				m.stopLive()
				m.display = pipeline.Clear()
				m.input.Reset()
			}
		case tea.KeyEnter:
			if cmd := m.submit(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case researchDoneMsg:
		m.running = false
		m.query = ""
		m.display = msg.display
		m.stopLive()
		m.viewport.GotoBottom()

	case refreshMsg:
		if m.tab != TabChat {
			m.viewport.GotoBottom()
		}

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.viewport.SetContent(m.panel())
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() tea.Cmd {
	query := strings.TrimSpace(m.input.Value())
	if m.running || query == "" || m.researcher == nil {
		return nil
	}
	m.input.Reset()
	m.running = true
	m.query = query
	m.tab = TabSteps
	if m.bus != nil {
		m.live = visualizer.New(m.bus)
		m.live.Start()
	}

	ctx, researcher, history := m.ctx, m.researcher, m.display.History
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return researchDoneMsg{display: researcher.ResearchProcess(ctx, query, history)}
	})
}

func (m *Model) stopLive() {
	if m.live != nil {
		m.live.Close()
		m.live = nil
	}
}

func (m *Model) resize() {
	// title + tabs (2 lines with underline) + input + help + pane border
	reserved := 1 + 2 + 1 + 1 + 2
	m.viewport.Width = max(m.width-2, 10)
	m.viewport.Height = max(m.height-reserved, 3)
	m.input.Width = max(m.width-4, 10)
}

// panel renders the body of the active tab.
func (m Model) panel() string {
	switch m.tab {
	case TabSteps:
		if m.live != nil {
			return m.live.FormatResearchSteps()
		}
		return orPlaceholder(m.display.Steps, "No research steps yet.")
	case TabCitations:
		if m.live != nil {
			return orPlaceholder(m.live.FormatCitations(), "No citations yet.")
		}
		return orPlaceholder(m.display.Citations, "No citations yet.")
	case TabSummary:
		if m.live != nil {
			return m.live.ResearchSummary()
		}
		return orPlaceholder(m.display.Summary, "No research summary yet.")
	default:
		return m.renderChat()
	}
}

func (m Model) renderChat() string {
	width := max(m.viewport.Width-2, 10)
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for _, pair := range m.display.History {
		if pair.User != nil {
			b.WriteString(userStyle.Render("You") + "\n")
			b.WriteString(wrap.Render(*pair.User) + "\n\n")
		}
		if pair.Assistant != nil {
			b.WriteString(assistantStyle.Render("Assistant") + "\n")
			b.WriteString(wrap.Render(*pair.Assistant) + "\n\n")
		}
	}
	if m.running {
		b.WriteString(userStyle.Render("You") + "\n")
		b.WriteString(wrap.Render(m.query) + "\n\n")
		b.WriteString(assistantStyle.Render("Assistant") + "\n")
		b.WriteString(m.spinner.View() + " researching...\n")
	}
	if b.Len() == 0 {
		return helpStyle.Render("Ask a research question to begin.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// View implements tea.Model.
func (m Model) View() string {
	tabs := make([]string, 0, tabCount)
	for i, name := range tabNames {
		if Tab(i) == m.tab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, tabStyle.Render(name))
		}
	}

	status := "enter: research • tab: switch panel • ↑/↓ pgup/pgdn: scroll • ctrl+l: clear • esc: quit"
	if m.running {
		status = m.spinner.View() + " researching \"" + m.query + "\"..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("🔍 DeepResearch"),
		lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...),
		paneStyle.Render(m.viewport.View()),
		m.input.View(),
		helpStyle.Render(status),
	)
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
