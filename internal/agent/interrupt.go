package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/pkg/logger"
)

// Interrupt 是返回给调用方的挂起载荷。
type Interrupt struct {
	Question      string                `json:"question"`
	Kind          checkpoint.Kind       `json:"kind"`
	ExpectedReply checkpoint.ReplyShape `json:"expected_reply"`
	Preview       map[string]any        `json:"preview,omitempty"`
}

var (
	askReplyShape = checkpoint.ReplyShape{
		Type:        "text",
		Description: "free-text answer to the question",
	}
	reviewReplyShape = checkpoint.ReplyShape{
		Type:        "decision",
		Options:     []string{string(DecisionApprove), string(DecisionReject), string(DecisionUpdate)},
		Description: "approve to run the action, reject to cancel it, or describe the changes to make",
	}
)

// suspension 是阶段向上返回的显式挂起结果。
type suspension struct {
	stage    checkpoint.Stage
	kind     checkpoint.Kind
	question string
	calls    []llm.ToolCall
	preview  map[string]any
}

// Gateway 负责检查点的持久化与“等待人工”标记的维护。
type Gateway struct {
	store checkpoint.Store

	mu       sync.Mutex
	awaiting map[string]bool
}

// NewGateway 创建中断网关。
func NewGateway(store checkpoint.Store) *Gateway {
	return &Gateway{store: store, awaiting: make(map[string]bool)}
}

// Awaiting 报告线程是否处于等待人工输入状态。
func (g *Gateway) Awaiting(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.awaiting[threadID]
}

func (g *Gateway) setAwaiting(threadID string, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v {
		g.awaiting[threadID] = true
		return
	}
	delete(g.awaiting, threadID)
}

// Suspend 持久化检查点并置位等待标记；持久化失败或 panic 时标记会被清除。
func (g *Gateway) Suspend(ctx context.Context, cp *checkpoint.Checkpoint) (iv *Interrupt, err error) {
	g.setAwaiting(cp.ThreadID, true)
	defer func() {
		if rec := recover(); rec != nil {
			g.setAwaiting(cp.ThreadID, false)
			panic(rec)
		}
		if err != nil {
			g.setAwaiting(cp.ThreadID, false)
		}
	}()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if err := g.store.Save(ctx, cp); err != nil {
		return nil, err
	}
	metrics.ObserveInterrupt(string(cp.Kind), "suspended")
	return interruptOf(cp), nil
}

// Record 覆盖保存检查点而不改变等待标记，用于记录已执行的决定。
func (g *Gateway) Record(ctx context.Context, cp *checkpoint.Checkpoint) error {
	return g.store.Save(context.WithoutCancel(ctx), cp)
}

// Resume 读取检查点并立即清除等待标记。检查点保留到运行结束，
// 以便恢复过程失败后可以再次恢复。
func (g *Gateway) Resume(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	defer g.setAwaiting(threadID, false)
	cp, err := g.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	metrics.ObserveInterrupt(string(cp.Kind), "resumed")
	return cp, nil
}

// Peek 读取检查点而不改变任何状态。
func (g *Gateway) Peek(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	return g.store.Load(ctx, threadID)
}

// Discard 删除已消费的检查点。
func (g *Gateway) Discard(ctx context.Context, threadID string) {
	if err := g.store.Delete(context.WithoutCancel(ctx), threadID); err != nil {
		logger.L().Warn("checkpoint_delete_failed", slog.String("thread_id", threadID), slog.Any("error", err))
	}
}

func interruptOf(cp *checkpoint.Checkpoint) *Interrupt {
	return &Interrupt{
		Question:      cp.Question,
		Kind:          cp.Kind,
		ExpectedReply: cp.ReplyShape,
		Preview:       cp.Pending.Preview,
	}
}

// suspend 将运行现场写入检查点并返回 waiting 结果。
func (o *Orchestrator) suspend(ctx context.Context, st *runState, susp *suspension) (*Outcome, error) {
	cp := st.toCheckpoint()
	cp.Stage = susp.stage
	cp.Kind = susp.kind
	cp.Question = susp.question
	cp.Pending = checkpoint.Pending{Calls: susp.calls, Preview: susp.preview}
	if susp.kind == checkpoint.KindReview {
		cp.ReplyShape = reviewReplyShape
	} else {
		cp.ReplyShape = askReplyShape
	}

	iv, err := o.gateway.Suspend(ctx, cp)
	if err != nil {
		return nil, err
	}
	st.log.Info("run_suspended",
		slog.String("stage", string(susp.stage)),
		slog.String("kind", string(susp.kind)),
		slog.Int("pending_calls", len(susp.calls)))
	metrics.ObserveRun(string(StatusWaiting), string(susp.kind))
	return &Outcome{
		ThreadID:  st.threadID,
		RunID:     st.runID,
		Status:    StatusWaiting,
		Interrupt: iv,
		Plans:     st.plans,
	}, nil
}
