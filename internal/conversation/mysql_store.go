package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/plan"
)

// MySQLStore 使用 conversation_turns 与 thread_plans 两张表保存会话。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 基于已迁移的连接创建存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Append 实现 Store。
func (s *MySQLStore) Append(ctx context.Context, turn Turn) error {
	if err := validateTurn(&turn); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversation_turns (thread_id, run_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ThreadID, turn.RunID, string(turn.Role), turn.Content, turn.CreatedAt.UnixMilli())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入对话失败")
	}
	return nil
}

// History 实现 Store。
func (s *MySQLStore) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	if err := ValidThreadID(threadID); err != nil {
		return nil, err
	}
	query := `SELECT run_id, role, content, created_at FROM conversation_turns WHERE thread_id = ? ORDER BY id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话失败")
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn    Turn
			role    string
			created int64
		)
		if err := rows.Scan(&turn.RunID, &role, &turn.Content, &created); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话失败")
		}
		turn.ThreadID = threadID
		turn.Role = Role(role)
		turn.CreatedAt = time.UnixMilli(created).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话失败")
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// LoadPlans 实现 Store。
func (s *MySQLStore) LoadPlans(ctx context.Context, threadID string) (plan.Collection, error) {
	if err := ValidThreadID(threadID); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM thread_plans WHERE thread_id = ?`, threadID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Collection{}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取计划失败")
	}
	return decodePlans([]byte(payload))
}

// SavePlans 实现 Store。
func (s *MySQLStore) SavePlans(ctx context.Context, threadID string, plans plan.Collection) error {
	if err := ValidThreadID(threadID); err != nil {
		return err
	}
	data, err := encodePlans(plans)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO thread_plans (thread_id, payload, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
		threadID, string(data), time.Now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入计划失败")
	}
	return nil
}
