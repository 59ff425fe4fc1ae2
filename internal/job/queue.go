package job

import "context"

// Handler 处理来自消息队列的作业 ID。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递作业。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 负责从队列中消费作业。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
