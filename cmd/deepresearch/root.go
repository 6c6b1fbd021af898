package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"DeepResearch/internal/config"
	"DeepResearch/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "deepresearch",
		Short:         "Multi-stage web research assistant",
		Long:          `DeepResearch answers a question in three stages: web research, content analysis and fact checking. Each stage is run by a language model agent that can browse the web.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newTUICmd(opts), newRunCmd(opts), newServeCmd(opts))
	return root
}

// initLogging sends logs to stderr, or to a file when the terminal is owned
// by the UI.
func initLogging(cfg *config.Config, toFile bool) error {
	logCfg := cfg.Log
	if toFile && len(logCfg.OutputPaths) == 0 {
		logCfg.OutputPaths = []string{filepath.Join(cfg.Runtime.DataDir, "deepresearch.log")}
	}
	return logger.Init(logCfg)
}
