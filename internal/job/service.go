package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/conversation"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/pkg/logger"
)

// Service 负责作业的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造作业服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// SubmitRun 排队一条新请求。id 非空时按 id 幂等。
func (s *Service) SubmitRun(ctx context.Context, id, threadID, request string) (*Job, error) {
	if strings.TrimSpace(request) == "" {
		return nil, xerrors.New(CodeJobValidation, "请求内容不能为空")
	}
	return s.submit(ctx, &Job{
		ID:       strings.TrimSpace(id),
		ThreadID: threadID,
		Kind:     KindRun,
		Request:  strings.TrimSpace(request),
	})
}

// SubmitResume 排队一次挂起恢复。
func (s *Service) SubmitResume(ctx context.Context, id, threadID string, input agent.ResumeInput) (*Job, error) {
	if strings.TrimSpace(input.ExternalInput) == "" && input.Decision == "" {
		return nil, xerrors.New(CodeJobValidation, "恢复需要回复内容或决定")
	}
	return s.submit(ctx, &Job{
		ID:            strings.TrimSpace(id),
		ThreadID:      threadID,
		Kind:          KindResume,
		ExternalInput: input.ExternalInput,
		Decision:      input.Decision,
	})
}

func (s *Service) submit(ctx context.Context, job *Job) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}
	if err := conversation.ValidThreadID(job.ThreadID); err != nil {
		return nil, xerrors.Wrap(CodeJobValidation, err, "线程 ID 不合法")
	}

	if job.ID != "" {
		existing, err := s.store.Get(ctx, job.ID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	job.MaxRetries = s.maxRetries

	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, job.ID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, job.ID); err != nil {
		logger.L().Error("作业入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, job.ID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	metrics.ObserveJob(string(job.Kind), string(StatusPending))
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", job.ID),
		slog.String("thread_id", job.ThreadID),
		slog.String("kind", string(job.Kind)),
		slog.Int("max_retries", job.MaxRetries),
	)
	return cloneJob(job), nil
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询直到作业进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
