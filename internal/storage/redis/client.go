package redis

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"OpenMCP-Orchestrator/internal/config"
	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// NewClient 根据配置创建 Redis 客户端并探活。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 地址不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return client, nil
}
