package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/pkg/logger"
)

const (
	defaultRedisQueueKey = "deepresearch:tasks"
	defaultRedisWait     = 5 * time.Second
)

// RedisQueueConfig addresses a Redis list used as a queue.
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// redisLists is the subset of the client the queue uses.
type redisLists interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) *redis.StringCmd
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// RedisQueue keeps pending ids in Key and moves each id to Key+":processing"
// while its handler runs. Ids left there by a crashed consumer are moved back
// when Consume starts. One consuming process per key is assumed.
type RedisQueue struct {
	client     redisLists
	key        string
	processing string
	wait       time.Duration
	logger     *slog.Logger
}

// NewRedisQueue connects and pings the server.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect to redis at "+cfg.Address)
	}
	return newRedisQueue(client, cfg.Key, cfg.BlockWait), nil
}

func newRedisQueue(client redisLists, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = defaultRedisQueueKey
	}
	if wait <= 0 {
		wait = defaultRedisWait
	}
	return &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		wait:       wait,
		logger:     logger.Named("redis_queue"),
	}
}

// Publish implements Producer.
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.key, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis publish")
	}
	return nil
}

// Consume implements Consumer. A handler error puts the id back at the head
// of the queue. The first Redis error stops every worker and is returned.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	recovered, err := q.recoverInFlight(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.logger.Info("recovered in-flight tasks", "count", recovered, "key", q.key)
	}

	g, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		g.Go(func() error {
			for gctx.Err() == nil {
				id, err := q.client.BLMove(gctx, q.key, q.processing, "RIGHT", "LEFT", q.wait).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis consume")
				}
				if err := q.settle(gctx, id, handler(gctx, id)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// settle removes id from the processing list and, when the handler failed
// while the consumer is still running, queues it for another attempt.
func (q *RedisQueue) settle(ctx context.Context, id string, handlerErr error) error {
	requeue := handlerErr != nil && ctx.Err() == nil
	if handlerErr != nil {
		q.logger.Warn("handler failed", "task_id", id, "requeue", requeue, "error", handlerErr)
	}
	bg := context.WithoutCancel(ctx)
	_, err := q.client.TxPipelined(bg, func(p redis.Pipeliner) error {
		p.LRem(bg, q.processing, 1, id)
		if requeue {
			p.RPush(bg, q.key, id)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis settle "+id)
	}
	return nil
}

func (q *RedisQueue) recoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis recover in-flight")
		}
		n++
	}
}

// Close implements Producer and Consumer.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
