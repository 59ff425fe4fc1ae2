package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/conversation"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/alerting"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/internal/plan"
	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/pkg/logger"
)

// Status 表示一次调用的结果类型。
type Status string

const (
	StatusCompleted Status = "completed"
	StatusWaiting   Status = "waiting"
)

// Outcome 是 Run 与 Resume 的返回值：要么是最终回答，要么是等待人工输入的挂起。
type Outcome struct {
	ThreadID  string          `json:"thread_id"`
	RunID     string          `json:"run_id"`
	Status    Status          `json:"status"`
	Answer    string          `json:"answer,omitempty"`
	Reason    Reason          `json:"reason,omitempty"`
	Interrupt *Interrupt      `json:"interrupt,omitempty"`
	Plans     plan.Collection `json:"plans"`
}

// Decision 是复核挂起的人工决定。
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionUpdate  Decision = "update"
)

// ParseDecision 规范化决定文本，空串返回空决定。
func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case "", DecisionApprove, DecisionReject, DecisionUpdate:
		return d, nil
	default:
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "unknown decision %q", raw)
	}
}

// ResumeInput 是恢复运行时提供的外部输入。Decision 为空时由回复文本推断。
type ResumeInput struct {
	ExternalInput string   `json:"external_input"`
	Decision      Decision `json:"decision,omitempty"`
}

const (
	defaultMaxPasses    = 25
	defaultMaxToolCalls = 50
	defaultHistoryDepth = 10
)

// Orchestrator 驱动计划、选择、执行循环，是系统的业务核心。
type Orchestrator struct {
	llmClient     llm.Client
	dispatcher    *tools.Dispatcher
	conversations conversation.Store
	gateway       *Gateway
	alerts        alerting.Dispatcher

	reviewEnabled bool
	maxPasses     int
	maxToolCalls  int
	historyDepth  int
	llmTimeout    time.Duration
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithReview 开启敏感操作的人工复核。
func WithReview(enabled bool) Option {
	return func(o *Orchestrator) {
		o.reviewEnabled = enabled
	}
}

// WithMaxPasses 设置跨轮次的循环上限。
func WithMaxPasses(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPasses = n
		}
	}
}

// WithMaxToolCalls 设置单次运行的工具调用预算，负数表示不限制。
func WithMaxToolCalls(n int) Option {
	return func(o *Orchestrator) {
		if n != 0 {
			o.maxToolCalls = n
		}
	}
}

// WithHistoryDepth 设置推理时参考的历史对话条数。
func WithHistoryDepth(depth int) Option {
	return func(o *Orchestrator) {
		if depth > 0 {
			o.historyDepth = depth
		}
	}
}

// WithLLMTimeout 设置单次推理调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.llmTimeout = timeout
		}
	}
}

// WithAlerts 配置告警分发器。
func WithAlerts(alerts alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerts = alerts
	}
}

// New 创建编排器。
func New(client llm.Client, dispatcher *tools.Dispatcher, conversations conversation.Store, checkpoints checkpoint.Store, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理客户端")
	}
	if dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具分发器")
	}
	if conversations == nil || checkpoints == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置会话或检查点存储")
	}
	o := &Orchestrator{
		llmClient:     client,
		dispatcher:    dispatcher,
		conversations: conversations,
		gateway:       NewGateway(checkpoints),
		maxPasses:     defaultMaxPasses,
		maxToolCalls:  defaultMaxToolCalls,
		historyDepth:  defaultHistoryDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// awaiting 报告本进程内线程是否在等待人工输入。跨进程的事实来源是检查点，
// 对外接口通过 Pending 读取。
func (o *Orchestrator) awaiting(threadID string) bool {
	return o.gateway.Awaiting(threadID)
}

// Pending 返回线程挂起时的问题，没有挂起时返回 checkpoint.ErrNotFound。
func (o *Orchestrator) Pending(ctx context.Context, threadID string) (*Interrupt, error) {
	cp, err := o.gateway.Peek(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return interruptOf(cp), nil
}

// Conversations 返回会话存储。
func (o *Orchestrator) Conversations() conversation.Store {
	return o.conversations
}

// Run 处理线程中的一条新请求。
func (o *Orchestrator) Run(ctx context.Context, threadID, request string) (outcome *Outcome, err error) {
	if err := conversation.ValidThreadID(threadID); err != nil {
		return nil, err
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求内容不能为空")
	}
	if _, err := o.gateway.Peek(ctx, threadID); err == nil {
		return nil, xerrors.Newf(xerrors.CodeConflict, "thread %s is waiting for human input", threadID)
	} else if !xerrors.HasCode(err, xerrors.CodeNoPendingInterrupt) {
		return nil, err
	}

	runID := uuid.NewString()
	log := logger.ForThread("agent", threadID, runID)
	defer o.guard(ctx, threadID, runID, log, &outcome, &err)

	history, err := o.conversations.History(ctx, threadID, o.historyDepth)
	if err != nil {
		return nil, err
	}
	carried, err := o.conversations.LoadPlans(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := o.conversations.Append(ctx, conversation.Turn{ThreadID: threadID, RunID: runID, Role: conversation.RoleUser, Content: request}); err != nil {
		return nil, err
	}

	st := newRunState(threadID, runID, request, history, carried.Unfinished(), log)
	log.Info("run_started", slog.Int("carried_plans", len(st.plans)))
	return o.drive(ctx, st)
}

// Resume 使用人工回复恢复挂起的运行。
func (o *Orchestrator) Resume(ctx context.Context, threadID string, input ResumeInput) (outcome *Outcome, err error) {
	if err := conversation.ValidThreadID(threadID); err != nil {
		return nil, err
	}
	cp, err := o.gateway.Resume(ctx, threadID)
	if err != nil {
		return nil, err
	}
	// 决定已执行后的失败不自动重试，由人工再次恢复时回放记录的结果。
	defer func() {
		if err != nil && cp.Pending.Applied() {
			err = xerrors.Wrap(xerrors.CodeOf(err), err, "resume failed after the approved action was dispatched", xerrors.WithRetryable(false))
		}
	}()
	log := logger.ForThread("agent", threadID, cp.RunID)
	defer o.guard(ctx, threadID, cp.RunID, log, &outcome, &err)
	defer func() {
		if err == nil && outcome != nil && outcome.Status == StatusCompleted {
			o.gateway.Discard(ctx, threadID)
		}
	}()

	history, err := o.conversations.History(ctx, threadID, o.historyDepth)
	if err != nil {
		return nil, err
	}
	st := restoreRunState(cp, history, log)
	log.Info("run_resumed", slog.String("stage", string(cp.Stage)), slog.String("kind", string(cp.Kind)))

	switch cp.Stage {
	case checkpoint.StageSelector:
		o.resumeSelector(st, cp, input)
	case checkpoint.StageExecutor:
		susp, err := o.resumeExecutor(ctx, st, cp, input)
		if err != nil {
			return nil, err
		}
		if susp != nil {
			return o.suspend(ctx, st, susp)
		}
	default:
		return nil, xerrors.Newf(xerrors.CodeStorageFailure, "checkpoint has unknown stage %q", cp.Stage)
	}
	return o.drive(ctx, st)
}

// guard 将 panic 转为错误，并在运行失败时写入错误形态的消息，保证用户总能得到回应。
func (o *Orchestrator) guard(ctx context.Context, threadID, runID string, log *slog.Logger, outcome **Outcome, err *error) {
	if rec := recover(); rec != nil {
		*outcome = nil
		*err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("run panicked: %v", rec))
	}
	if *err == nil {
		return
	}
	log.Error("run_failed", slog.Any("error", *err))
	metrics.ObserveRun("failed", string(xerrors.CodeOf(*err)))
	body := fmt.Sprintf(`{"error":%q,"code":%q}`, (*err).Error(), xerrors.CodeOf(*err))
	writeCtx := context.WithoutCancel(ctx)
	if appendErr := o.conversations.Append(writeCtx, conversation.Turn{ThreadID: threadID, RunID: runID, Role: conversation.RoleError, Content: body}); appendErr != nil {
		log.Error("error_turn_not_written", slog.Any("error", appendErr))
	}
	if xerrors.ShouldAlert(*err) {
		event := alerting.FromError(*err)
		event.ThreadID, event.RunID = threadID, runID
		o.notify(writeCtx, event)
	}
}

// drive 按优先级路由表推进运行，直到回答或挂起。
func (o *Orchestrator) drive(ctx context.Context, st *runState) (*Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "运行被取消")
		}
		if reason, done := o.junction(st); done {
			return o.answer(ctx, st, reason)
		}
		if st.passes >= o.maxPasses {
			st.log.Warn("pass_limit_reached", slog.Int("passes", st.passes))
			st.toolResponses = append(st.toolResponses, tools.ForcedStopResponse("orchestrator",
				fmt.Sprintf("stopped after %d passes without finishing", st.passes)))
			continue
		}
		st.passes++

		if _, ok := st.activePlan(); ok {
			o.updatePlans(ctx, st)
		} else {
			o.createPlans(ctx, st)
		}
		if reason, done := o.junction(st); done {
			return o.answer(ctx, st, reason)
		}

		susp := o.selectTasks(ctx, st)
		if susp != nil {
			return o.suspend(ctx, st, susp)
		}
		if st.signal == SignalAnswer {
			continue
		}

		susp, err := o.execute(ctx, st)
		if err != nil {
			return nil, err
		}
		if susp != nil {
			return o.suspend(ctx, st, susp)
		}
	}
}

// junction 依次检查：强制停止、回答信号、重试上限、全部完成。
func (o *Orchestrator) junction(st *runState) (Reason, bool) {
	if resp, ok := st.hasForcedStop(); ok {
		if st.detail == "" {
			st.detail = resp.Content
		}
		return ReasonForcedStop, true
	}
	if st.signal == SignalAnswer {
		return st.reason, true
	}
	if len(st.plans.RetryExhausted()) > 0 {
		return ReasonRetryExhausted, true
	}
	if st.plans.AllCompleted() {
		return ReasonCompleted, true
	}
	return "", false
}

// propose 调用推理引擎，统一处理超时、指标与错误码。
func (o *Orchestrator) propose(ctx context.Context, stage string, prompt llm.Prompt) (*llm.Proposal, error) {
	callCtx := ctx
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}
	start := time.Now()
	proposal, err := o.llmClient.Propose(callCtx, prompt)
	metrics.ObserveReasoning(stage, err, time.Since(start))
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, stage+" 推理失败")
	}
	if proposal == nil {
		proposal = &llm.Proposal{}
	}
	return proposal, nil
}

func (o *Orchestrator) notify(ctx context.Context, event alerting.Event) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Notify(ctx, event); err != nil {
		logger.L().Warn("alert_failed", slog.String("code", string(event.Code)), slog.Any("error", err))
	}
}
