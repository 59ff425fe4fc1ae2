package job

import (
	"context"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// Store 抽象了作业状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将 pending 作业置为 running 并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	// Complete 记录运行结果；挂起的结果使作业进入 waiting。
	Complete(ctx context.Context, id string, outcome *agent.Outcome) error
	// MarkFailed 记录失败；terminal 为 false 时作业回到 pending 等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// Requeue 将卡在 running 的作业放回 pending。
	Requeue(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

func statusForOutcome(outcome *agent.Outcome) Status {
	if outcome != nil && outcome.Status == agent.StatusWaiting {
		return StatusWaiting
	}
	return StatusSucceeded
}

func statusForFailure(terminal bool) Status {
	if terminal {
		return StatusFailed
	}
	return StatusPending
}
