package task

import "context"

// Handler runs the research task behind one delivered id. A non-nil error
// asks queues that support redelivery to hand the id out again.
type Handler func(ctx context.Context, taskID string) error

// Producer enqueues research task ids for the processor.
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer feeds delivered ids to a handler with bounded concurrency until
// ctx is done or the transport goes away.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is implemented by MemoryQueue, RedisQueue and RabbitMQQueue.
type Queue interface {
	Producer
	Consumer
}
