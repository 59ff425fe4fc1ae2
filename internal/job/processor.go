package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/observability/alerting"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/pkg/logger"
)

const defaultBusyBackoff = 250 * time.Millisecond

// Processor 负责从队列消费作业并交给编排引擎执行。
type Processor struct {
	runner      *Runner
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	busyBackoff time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithBusyBackoff 设置线程被占用时重新入队前的等待时间。
func WithBusyBackoff(backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if backoff > 0 {
			p.busyBackoff = backoff
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner *Runner, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		busyBackoff: defaultBusyBackoff,
		logger:      logger.Named("job"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动作业处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	pending, err := p.store.Get(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) {
			p.logger.Debug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		return err
	}
	if pending.Finished() {
		return nil
	}

	release, ok := p.runner.locks.TryAcquire(pending.ThreadID)
	if !ok {
		return p.deferBusy(ctx, pending)
	}
	defer release()

	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrJobExhausted) {
			_ = p.store.MarkFailed(ctx, jobID, CodeJobExhausted, err.Error(), true)
			p.emitAlert(ctx, pending, CodeJobExhausted, err, "claim")
			return nil
		}
		p.logger.Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID, ThreadID: pending.ThreadID}, CodeJobProcessing, err, "claim")
		return err
	}
	metrics.ObserveJob(string(job.Kind), string(StatusRunning))

	outcome, execErr := p.execute(ctx, job)
	if execErr != nil {
		return p.handleFailure(ctx, job, execErr)
	}

	if err := p.store.Complete(ctx, job.ID, outcome); err != nil {
		// 运行已经产生副作用，不再重投，只记录失败。
		p.logger.Error("记录作业结果失败", slog.Any("error", err), slog.String("job_id", job.ID))
		_ = p.store.MarkFailed(ctx, job.ID, xerrors.CodeOf(err), err.Error(), true)
		p.emitAlert(ctx, job, xerrors.CodeStorageFailure, err, "complete")
		return nil
	}
	status := statusForOutcome(outcome)
	metrics.ObserveJob(string(job.Kind), string(status))
	logger.Audit().Info("作业执行完成",
		slog.String("job_id", job.ID),
		slog.String("thread_id", job.ThreadID),
		slog.String("kind", string(job.Kind)),
		slog.String("status", string(status)),
	)
	return nil
}

// execute 调用编排引擎，并把 panic 转为错误。
func (p *Processor) execute(ctx context.Context, job *Job) (outcome *agent.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = nil
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("job panicked: %v", rec))
		}
	}()
	return p.runner.execute(ctx, job)
}

func (p *Processor) deferBusy(ctx context.Context, job *Job) error {
	p.logger.Debug("线程忙，延后作业", slog.String("job_id", job.ID), slog.String("thread_id", job.ThreadID))
	metrics.ObserveJob(string(job.Kind), "deferred")
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(p.busyBackoff):
	}
	if err := p.producer.Publish(ctx, job.ID); err != nil {
		return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 延后重投失败", job.ID))
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || job.Attempts >= job.MaxRetries

	if err := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); err != nil {
		p.logger.Error("标记作业失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", job.ID),
		slog.String("thread_id", job.ThreadID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	switch {
	case retryable && terminal:
		stage = "exhausted"
		code = CodeJobExhausted
	case terminal:
		stage = "terminal"
	}
	if terminal {
		metrics.ObserveJob(string(job.Kind), string(StatusFailed))
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if !terminal {
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		p.logger.Debug("作业已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		ThreadID:   job.ThreadID,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
