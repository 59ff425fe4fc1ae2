package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// 注册 MySQL 驱动。
	_ "github.com/go-sql-driver/mysql"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// Config 描述连接池参数，零值使用默认值。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SkipMigrations 为 true 时不执行内置迁移。
	SkipMigrations bool
}

// Open 创建连接池、探活并执行迁移。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	if !cfg.SkipMigrations {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// IsDuplicateKey 判断错误是否为唯一键冲突。
func IsDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}

// Pool 按 DSN 复用连接池，使多个存储共享同一个数据库时只打开一次。
type Pool struct {
	opened map[string]*sql.DB
}

// NewPool 创建连接池缓存。
func NewPool() *Pool {
	return &Pool{opened: make(map[string]*sql.DB)}
}

// Get 返回 DSN 对应的连接，首次调用时打开并迁移。
func (p *Pool) Get(ctx context.Context, dsn string) (*sql.DB, error) {
	if db, ok := p.opened[dsn]; ok {
		return db, nil
	}
	db, err := Open(ctx, Config{DSN: dsn})
	if err != nil {
		return nil, err
	}
	p.opened[dsn] = db
	return db, nil
}

// Close 关闭所有连接。
func (p *Pool) Close() error {
	var firstErr error
	for dsn, db := range p.opened {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("关闭 MySQL 连接失败: %w", err)
		}
		delete(p.opened, dsn)
	}
	return firstErr
}
