package job

import (
	"strings"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// Kind 区分新请求与恢复挂起两类作业。
type Kind string

const (
	KindRun    Kind = "run"
	KindResume Kind = "resume"
)

// Status 表示作业在生命周期中的状态。可重试的失败会把作业放回 pending，
// 只有不可再重试时才进入 failed。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 描述一次排队执行的编排运行。
type Job struct {
	ID            string         `json:"id"`
	ThreadID      string         `json:"thread_id"`
	Kind          Kind           `json:"kind"`
	Request       string         `json:"request,omitempty"`
	ExternalInput string         `json:"external_input,omitempty"`
	Decision      agent.Decision `json:"decision,omitempty"`
	Status        Status         `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxRetries    int            `json:"max_retries"`
	LastError     string         `json:"last_error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Outcome       *agent.Outcome `json:"outcome,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Finished 报告作业是否已进入终态。
func (j *Job) Finished() bool {
	if j == nil {
		return false
	}
	switch j.Status {
	case StatusSucceeded, StatusWaiting, StatusFailed:
		return true
	}
	return false
}

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

var (
	// ErrJobNotFound 表示指定的作业不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示作业在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示作业已经结束。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示作业的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{Message: "job not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{Message: "job conflict", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{Message: "job already completed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{Message: "job validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的作业状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusWaiting, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatuses 解析逗号分隔的状态列表，忽略未知值。
func ParseStatuses(raw string) []Status {
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		status := Status(strings.ToLower(strings.TrimSpace(part)))
		if IsValidStatus(status) {
			out = append(out, status)
		}
	}
	return out
}

func cloneJob(j *Job) *Job {
	clone := *j
	if j.Outcome != nil {
		outcome := *j.Outcome
		outcome.Plans = j.Outcome.Plans.Clone()
		clone.Outcome = &outcome
	}
	return &clone
}
