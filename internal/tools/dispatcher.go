package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/pkg/logger"
)

// Response 是一次工具调用（或控制动作）的结果记录。
// ID 是每条响应独立生成的关联 ID，CallID 指向模型提出的调用。
type Response struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	IsError    bool      `json:"is_error,omitempty"`
	ForcedStop bool      `json:"forced_stop,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewResponse 生成一条带新关联 ID 的成功响应。
func NewResponse(callID, name, content string) Response {
	return Response{
		ID:        uuid.NewString(),
		CallID:    callID,
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ErrorResponse 将错误转换为结构化的错误响应内容。
func ErrorResponse(callID, name string, err error) Response {
	body := map[string]string{
		"error": err.Error(),
		"code":  string(codeOf(err)),
		"tool":  name,
	}
	encoded, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		encoded = []byte(err.Error())
	}
	resp := NewResponse(callID, name, string(encoded))
	resp.IsError = true
	return resp
}

// ForcedStopResponse 生成强制停止信号，编排器遇到后直接进入回答阶段。
func ForcedStopResponse(name, reason string) Response {
	resp := NewResponse("", name, reason)
	resp.ForcedStop = true
	return resp
}

func codeOf(err error) xerrors.Code {
	if execErr, ok := err.(*ExecutionError); ok {
		return execErr.Code()
	}
	return xerrors.CodeOf(err)
}

// Dispatcher 通过注册表执行工具调用并记录指标与日志。
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

// NewDispatcher 创建分发器。
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry, log: logger.Named("tools")}
}

// Registry 返回底层注册表。
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch 执行一次工具调用，失败时返回错误形态的响应而不是返回 error。
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) Response {
	start := time.Now()
	result, err := d.registry.Invoke(ctx, call.Name, call.Args)
	elapsed := time.Since(start)
	metrics.ObserveToolCall(call.Name, err != nil, elapsed)

	if err != nil {
		d.log.Warn("tool_failed", "tool", call.Name, "call_id", call.ID, "error", err, "duration_ms", elapsed.Milliseconds())
		return ErrorResponse(call.ID, call.Name, err)
	}
	d.log.Debug("tool_succeeded", "tool", call.Name, "call_id", call.ID, "duration_ms", elapsed.Milliseconds())
	return NewResponse(call.ID, call.Name, result)
}

// Lookup 查找工具并判断其是否需要人工审核。
func (d *Dispatcher) Lookup(name string) (Tool, bool) {
	return d.registry.Get(name)
}
