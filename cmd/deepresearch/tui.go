package main

import (
	"github.com/spf13/cobra"

	"DeepResearch/internal/ui/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive research interface (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	if err := initLogging(opts.cfg, true); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	serveMetrics(ctx, opts.cfg.Server.MetricsAddress)
	return tui.Run(ctx, a.runner, a.bus)
}
