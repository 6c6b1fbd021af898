package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/pkg/logger"
)

const defaultRabbitQueue = "deepresearch.tasks"

// RabbitMQConfig addresses a RabbitMQ queue.
type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
	Durable  bool
}

// RabbitMQQueue publishes run ids to the default exchange and consumes them
// with manual acknowledgements, so a run interrupted by a crash is
// redelivered by the broker.
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	tag    string
	pubMu  sync.Mutex
	logger *slog.Logger
}

// NewRabbitMQQueue dials the broker and declares the queue.
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "rabbitmq url is empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultRabbitQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect to rabbitmq")
	}
	q := &RabbitMQQueue{conn: conn, queue: queue, tag: "deepresearch-" + queue, logger: logger.Named("rabbitmq_queue")}
	if err := q.setup(cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "open rabbitmq channel")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "set rabbitmq prefetch")
		}
	}
	if _, err := ch.QueueDeclare(q.queue, cfg.Durable, false, false, false, nil); err != nil {
		_ = ch.Close()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "declare rabbitmq queue "+q.queue)
	}
	q.ch = ch
	return nil
}

// Publish implements Producer. The run id doubles as the message id.
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "rabbitmq queue not initialised")
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    taskID,
		Timestamp:    time.Now(),
		AppId:        "deepresearch",
		Body:         []byte(taskID),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "rabbitmq publish")
	}
	return nil
}

// Consume implements Consumer. A handler error nacks the delivery with
// requeue unless the consumer is shutting down; success acks it. A closed
// delivery channel means the broker connection was lost.
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "rabbitmq queue not initialised")
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, q.tag, false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "subscribe to rabbitmq queue")
	}

	var g errgroup.Group
	g.SetLimit(max(workerCount, 1))
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return xerrors.New(xerrors.CodeQueueFailure, "rabbitmq delivery channel closed", xerrors.WithRetryable(true))
			}
			g.Go(func() error {
				q.deliver(ctx, d, handler)
				return nil
			})
		}
	}
}

func (q *RabbitMQQueue) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	id := string(d.Body)
	if err := handler(ctx, id); err != nil {
		requeue := ctx.Err() == nil
		q.logger.Warn("handler failed", "task_id", id, "requeue", requeue, "redelivered", d.Redelivered, "error", err)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			q.logger.Error("nack failed", "task_id", id, "error", nackErr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		q.logger.Error("ack failed", "task_id", id, "error", err)
	}
}

// Close implements Producer and Consumer.
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*RabbitMQQueue)(nil)
