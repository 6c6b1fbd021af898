package pipeline

import (
	"context"
	"strings"

	"DeepResearch/internal/events"
	"DeepResearch/internal/visualizer"
)

// Display holds the four panels shown after a submission.
type Display struct {
	History   []visualizer.Pair `json:"history"`
	Steps     string            `json:"steps"`
	Citations string            `json:"citations"`
	Summary   string            `json:"summary"`
	// Err is the run's failure, already shown as a chat message.
	Err error `json:"-"`
}

// ResearchProcess is the interface entrypoint for one submitted query. An
// empty query returns history unchanged with empty panels and publishes
// nothing. Otherwise a fresh visualizer records the run and the returned
// history is the prior history followed by this run's chat.
func (r *Runner) ResearchProcess(ctx context.Context, query string, history []visualizer.Pair, opts ...visualizer.Option) Display {
	if strings.TrimSpace(query) == "" {
		return Display{History: history}
	}

	viz := visualizer.New(r.bus, opts...)
	defer viz.Close()
	viz.Start()

	if r.bus != nil {
		r.bus.NotifyMessage(events.RoleUser, query)
		r.bus.NotifyMessage(events.RoleAssistant, startMessage)
	}
	_, err := r.Run(ctx, query)

	chat := viz.FormatChatHistory()
	merged := make([]visualizer.Pair, 0, len(history)+len(chat))
	merged = append(merged, history...)
	merged = append(merged, chat...)
	return Display{
		History:   merged,
		Steps:     viz.FormatResearchSteps(),
		Citations: viz.FormatCitations(),
		Summary:   viz.ResearchSummary(),
		Err:       err,
	}
}

// Clear resets every panel.
func Clear() Display {
	return Display{History: []visualizer.Pair{}}
}
