package checkpoint

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

const defaultRedisPrefix = "openmcp:orch:checkpoint:"

// RedisStore 以 JSON 字符串保存检查点，可选 TTL 让长期无人处理的挂起自动过期。
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 检查点存储，ttl 为 0 表示永不过期。
func NewRedisStore(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

// Save 实现 Store。
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "checkpoint requires a thread id")
	}
	encoded, err := cp.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化检查点失败")
	}
	if err := s.client.Set(ctx, s.key(cp.ThreadID), encoded, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 检查点失败")
	}
	return nil
}

// Load 实现 Store。
func (s *RedisStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	encoded, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 检查点失败")
	}
	return Decode(encoded)
}

// Delete 实现 Store。
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis 检查点失败")
	}
	return nil
}
