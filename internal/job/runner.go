package job

import (
	"context"
	"sync"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// Engine 是作业执行所需的编排能力，由 *agent.Orchestrator 实现。
type Engine interface {
	Run(ctx context.Context, threadID, request string) (*agent.Outcome, error)
	Resume(ctx context.Context, threadID string, input agent.ResumeInput) (*agent.Outcome, error)
}

// ThreadLocks 保证同一线程同一时刻只有一个运行。
type ThreadLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewThreadLocks 创建线程锁表。
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{held: make(map[string]struct{})}
}

// TryAcquire 非阻塞地占用线程，成功时返回释放函数。
func (l *ThreadLocks) TryAcquire(threadID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[threadID]; busy {
		return nil, false
	}
	l.held[threadID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, threadID)
			l.mu.Unlock()
		})
	}, true
}

// Held 报告线程是否正在运行。
func (l *ThreadLocks) Held(threadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[threadID]
	return busy
}

// Runner 在线程锁保护下调用编排引擎，同步接口与后台作业共用同一张锁表。
type Runner struct {
	engine Engine
	locks  *ThreadLocks
}

// NewRunner 构造 Runner。
func NewRunner(engine Engine) *Runner {
	return &Runner{engine: engine, locks: NewThreadLocks()}
}

// Busy 报告线程当前是否有活动运行。
func (r *Runner) Busy(threadID string) bool {
	return r.locks.Held(threadID)
}

// Run 同步处理一条新请求。
func (r *Runner) Run(ctx context.Context, threadID, request string) (*agent.Outcome, error) {
	release, ok := r.locks.TryAcquire(threadID)
	if !ok {
		return nil, busyError(threadID)
	}
	defer release()
	return r.engine.Run(ctx, threadID, request)
}

// Resume 同步恢复挂起的运行。
func (r *Runner) Resume(ctx context.Context, threadID string, input agent.ResumeInput) (*agent.Outcome, error) {
	release, ok := r.locks.TryAcquire(threadID)
	if !ok {
		return nil, busyError(threadID)
	}
	defer release()
	return r.engine.Resume(ctx, threadID, input)
}

// execute 在调用方已持有线程锁时执行作业。
func (r *Runner) execute(ctx context.Context, job *Job) (*agent.Outcome, error) {
	switch job.Kind {
	case KindRun:
		return r.engine.Run(ctx, job.ThreadID, job.Request)
	case KindResume:
		return r.engine.Resume(ctx, job.ThreadID, agent.ResumeInput{
			ExternalInput: job.ExternalInput,
			Decision:      job.Decision,
		})
	default:
		return nil, xerrors.Newf(CodeJobValidation, "unknown job kind %q", job.Kind)
	}
}

func busyError(threadID string) error {
	return xerrors.Newf(xerrors.CodeThreadBusy, "thread %s already has an active run", threadID)
}
