package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"DeepResearch/internal/agent"
	"DeepResearch/internal/config"
	"DeepResearch/internal/events"
	"DeepResearch/internal/llm"
	"DeepResearch/internal/llm/ollama"
	"DeepResearch/internal/llm/openai"
	"DeepResearch/internal/observability/metrics"
	"DeepResearch/internal/pipeline"
	"DeepResearch/internal/storage/mysql"
	"DeepResearch/internal/tools/browser"
	"DeepResearch/pkg/logger"
)

// app holds the wired pipeline shared by every command.
type app struct {
	cfg     *config.Config
	bus     *events.Bus
	runner  *pipeline.Runner
	reports mysql.ReportRepository
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, bus: events.NewBus()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if cfg.Events.Mirror.Enabled {
		mirror, err := events.NewRedisMirror(ctx, a.bus, events.RedisMirrorConfig{
			Address:  cfg.Events.Mirror.Redis.Address,
			Password: cfg.Events.Mirror.Redis.Password,
			DB:       cfg.Events.Mirror.Redis.DB,
			Channel:  cfg.Events.Mirror.Channel,
			Source:   "deepresearch",
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, mirror)
	}

	client, err := newLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	fetcher := newFetcher(cfg.Browser)
	if c, ok := fetcher.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	tool := browser.New(fetcher, a.bus, browser.WithPreviewChars(cfg.Browser.PreviewChars))

	ag := agent.New(client, a.bus,
		agent.WithTools(tool),
		agent.WithMaxIterations(cfg.LLM.MaxIterations),
		agent.WithObservationLimit(cfg.LLM.ObservationLimit),
		agent.WithLLMTimeout(cfg.LLM.Timeout),
	)

	reports, err := newReportRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.reports = reports
	a.closers = append(a.closers, reports)

	a.runner = pipeline.NewRunner(ag, a.bus,
		pipeline.WithStageRetries(cfg.Pipeline.StageRetries),
		pipeline.WithRetryBackoff(cfg.Pipeline.RetryBackoff),
		pipeline.WithReports(reports),
		pipeline.WithObserver(metrics.Pipeline{}),
	)

	logger.L().Info("pipeline ready",
		"llm_provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"browser", cfg.Browser.Driver,
		"reports", cfg.Storage.Reports.Driver,
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	}
}

func newFetcher(cfg config.BrowserConfig) browser.Fetcher {
	if cfg.Driver == "http" {
		return browser.NewHTTPFetcher(cfg.NavigationTimeout)
	}
	return browser.NewRodFetcher(browser.RodConfig{
		ControlURL:        cfg.ControlURL,
		Bin:               cfg.Bin,
		Headless:          cfg.IsHeadless(),
		NavigationTimeout: cfg.NavigationTimeout,
		IdleWait:          cfg.IdleWait,
	})
}

func newReportRepository(ctx context.Context, cfg *config.Config) (mysql.ReportRepository, error) {
	if cfg.Storage.Reports.Driver == "mysql" {
		return mysql.NewSQLReportRepository(ctx, cfg.Storage.Reports.MySQL)
	}
	return mysql.NewMemoryReportRepository(cfg.Runtime.DataDir)
}

// serveMetrics starts the standalone metrics listener when configured.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}
