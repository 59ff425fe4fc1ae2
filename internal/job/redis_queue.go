package job

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// RedisQueue 使用 Redis list 实现作业队列：LPUSH 投递，BRPOP 消费。
type RedisQueue struct {
	client goredis.UniversalClient
	queue  string
	wait   time.Duration
	owned  bool
}

// RedisQueueOption 定义可选配置。
type RedisQueueOption func(*RedisQueue)

// WithBlockWait 设置 BRPOP 的阻塞时长。
func WithBlockWait(wait time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		if wait > 0 {
			q.wait = wait
		}
	}
}

// WithOwnedClient 让 Close 同时关闭底层客户端。
func WithOwnedClient() RedisQueueOption {
	return func(q *RedisQueue) {
		q.owned = true
	}
}

// NewRedisQueue 基于已连接的客户端创建队列。
func NewRedisQueue(client goredis.UniversalClient, queue string, opts ...RedisQueueOption) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端未初始化")
	}
	if queue == "" {
		queue = "openmcp:orch:jobs"
	}
	q := &RedisQueue{client: client, queue: queue, wait: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// Publish 将作业投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布作业失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取作业；处理失败的作业会被放回队尾。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, goredis.Nil) {
						continue
					}
					if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取作业失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				jobID := values[1]
				if handlerErr := handler(ctx, jobID); handlerErr != nil && xerrors.RetryableError(handlerErr) {
					_ = q.client.RPush(context.WithoutCancel(ctx), q.queue, jobID).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Len 返回队列中尚未消费的作业数量。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queue).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "读取 Redis 队列长度失败")
	}
	return n, nil
}

// Close 在持有客户端时关闭连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.owned {
		return nil
	}
	return q.client.Close()
}
