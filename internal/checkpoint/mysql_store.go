package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// MySQLStore 将检查点保存在 run_checkpoints 表，每个线程至多一行。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 基于已迁移的连接创建存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Save 实现 Store。
func (s *MySQLStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "checkpoint requires a thread id")
	}
	encoded, err := cp.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化检查点失败")
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `INSERT INTO run_checkpoints (thread_id, run_id, kind, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE run_id = VALUES(run_id), kind = VALUES(kind), payload = VALUES(payload), updated_at = VALUES(updated_at)`,
		cp.ThreadID, cp.RunID, string(cp.Kind), string(encoded), now, now)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入检查点失败")
	}
	return nil
}

// Load 实现 Store。
func (s *MySQLStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM run_checkpoints WHERE thread_id = ?`, threadID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取检查点失败")
	}
	return Decode([]byte(payload))
}

// Delete 实现 Store。
func (s *MySQLStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除检查点失败")
	}
	return nil
}
