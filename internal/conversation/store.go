// Package conversation 保存线程的对话历史以及跨轮次延续的未完成计划。
package conversation

import (
	"context"
	"regexp"
	"strings"
	"time"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/plan"
)

// Role 标识一条对话记录的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleError 用于运行彻底失败时写入的错误说明。
	RoleError Role = "error"
)

// Turn 是一条只追加的对话记录。
type Turn struct {
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 定义会话存储。
type Store interface {
	Append(ctx context.Context, turn Turn) error
	// History 返回最近 limit 条记录，按时间正序；limit <= 0 表示全部。
	History(ctx context.Context, threadID string, limit int) ([]Turn, error)
	// LoadPlans 返回线程中延续到下一轮的计划，没有时返回空集合。
	LoadPlans(ctx context.Context, threadID string) (plan.Collection, error)
	SavePlans(ctx context.Context, threadID string, plans plan.Collection) error
}

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidThreadID 校验线程 ID，ID 会被用作文件名与主键。
func ValidThreadID(id string) error {
	if !threadIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "invalid thread id %q", id)
	}
	return nil
}

func validateTurn(turn *Turn) error {
	if err := ValidThreadID(turn.ThreadID); err != nil {
		return err
	}
	switch turn.Role {
	case RoleUser, RoleAssistant, RoleError:
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unknown turn role %q", turn.Role)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return nil
}

func tail(turns []Turn, limit int) []Turn {
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
