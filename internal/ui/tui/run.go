package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"DeepResearch/internal/events"
)

// Run starts the terminal UI and blocks until the user quits or ctx is
// cancelled.
func Run(ctx context.Context, researcher Researcher, bus events.Subscriber) error {
	program := tea.NewProgram(New(ctx, researcher, bus), tea.WithAltScreen(), tea.WithContext(ctx))

	if bus != nil {
		refresh := func() { go program.Send(refreshMsg{}) }
		subs := []events.Subscription{
			bus.SubscribeStep(func(events.Step) { refresh() }),
			bus.SubscribeCitation(func(events.Citation) { refresh() }),
			bus.SubscribeMessage(func(events.Message) { refresh() }),
		}
		defer func() {
			for _, s := range subs {
				bus.Unsubscribe(s)
			}
		}()
	}

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
