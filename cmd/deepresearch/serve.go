package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"DeepResearch/internal/api"
	"DeepResearch/internal/config"
	"DeepResearch/internal/observability/alerting"
	"DeepResearch/internal/task"
	"DeepResearch/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process queued research runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initLogging(opts.cfg, false); err != nil {
				return err
			}
			return serve(cmd.Context(), opts.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := newTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := newTaskQueue(ctx, cfg.TaskQueue)
	if err != nil {
		_ = store.Close()
		return err
	}
	service := task.NewService(store, queue, cfg.TaskQueue.MaxRetries)
	defer service.Close()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, cfg.Alerting.Timeout))
	}
	processor := task.NewProcessor(a.runner, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	if n, err := service.Resume(ctx); err != nil {
		logger.L().Warn("resume pending tasks failed", "error", err)
	} else if n > 0 {
		logger.L().Info("resumed pending tasks", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return api.NewServer(cfg.Server.Address, service, a.reports).Start(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	if cfg.Storage.Tasks.Driver == "mysql" {
		return task.NewMySQLStore(ctx, cfg.Storage.Tasks.MySQL)
	}
	return task.NewMemoryStore(), nil
}

func newTaskQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Key:       cfg.Redis.Key,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return task.NewMemoryQueue(cfg.Buffer), nil
	}
}
