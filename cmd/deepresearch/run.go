package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/internal/events"
	"DeepResearch/internal/pipeline"
	"DeepResearch/internal/visualizer"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Research a single query and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(opts.cfg, false); err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			serveMetrics(ctx, opts.cfg.Server.MetricsAddress)

			out := cmd.OutOrStdout()
			if verbose {
				sub := a.bus.SubscribeStep(func(s events.Step) { printStep(out, s) })
				defer a.bus.Unsubscribe(sub)
			}

			return printResearch(ctx, out, a.runner, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print research steps as they happen")
	return cmd
}

type researcher interface {
	ResearchProcess(ctx context.Context, query string, history []visualizer.Pair, opts ...visualizer.Option) pipeline.Display
}

// printResearch runs query and writes the chat history, steps, citations
// and summary panels. A failed run still prints every panel.
func printResearch(ctx context.Context, w io.Writer, r researcher, query string) error {
	d := r.ResearchProcess(ctx, query, nil)

	heading(w, "Chat History")
	for _, p := range d.History {
		if p.User != nil {
			fmt.Fprintf(w, "👤 %s\n", *p.User)
		}
		if p.Assistant != nil {
			fmt.Fprintf(w, "🤖 %s\n", *p.Assistant)
		}
		fmt.Fprintln(w)
	}
	heading(w, "Research Steps")
	fmt.Fprintln(w, d.Steps)
	heading(w, "Citations")
	fmt.Fprintln(w, d.Citations)
	heading(w, "Summary")
	fmt.Fprintln(w, d.Summary)

	if d.Err != nil {
		return errors.New(xerrors.UserMessage(d.Err))
	}
	return nil
}

func heading(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("=", 40))
}

func printStep(w io.Writer, s events.Step) {
	fmt.Fprintf(w, "🤖 %s\n💭 %s\n", s.Action, s.Thought)
	if s.Input != "" {
		fmt.Fprintf(w, "📥 %s\n", s.Input)
	}
	fmt.Fprintf(w, "📝 %s\n\n", s.Observation)
}
