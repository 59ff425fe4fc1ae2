// Package tools 提供编排引擎可调用的工具注册表与分发器。
package tools

import (
	"context"
	"fmt"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// Tool 是一个可被推理引擎调用的工具。
type Tool interface {
	Name() string
	Description() string
	// Parameters 返回参数的 JSON Schema。
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Reviewable 由具有副作用、需要人工审核的工具实现。
// Simulate 不得产生副作用，只返回将要执行的内容预览。
type Reviewable interface {
	Tool
	RequiresReview() bool
	Simulate(ctx context.Context, args map[string]any) (map[string]any, error)
}

// NeedsReview 判断工具是否声明需要人工审核。
func NeedsReview(t Tool) (Reviewable, bool) {
	r, ok := t.(Reviewable)
	if !ok || !r.RequiresReview() {
		return nil, false
	}
	return r, true
}

// ExecutionError 表示工具执行失败。
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Code 返回对应的统一错误码。
func (e *ExecutionError) Code() xerrors.Code {
	if code := xerrors.CodeOf(e.Cause); code != xerrors.CodeUnknown {
		return code
	}
	return xerrors.CodeToolExecution
}

// Func 将普通函数包装为 Tool，便于注册轻量工具。
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Fn              func(ctx context.Context, args map[string]any) (string, error)
}

// Name 实现 Tool。
func (f *Func) Name() string { return f.ToolName }

// Description 实现 Tool。
func (f *Func) Description() string { return f.ToolDescription }

// Parameters 实现 Tool。
func (f *Func) Parameters() map[string]any {
	if f.Schema == nil {
		return ObjectSchema(nil)
	}
	return f.Schema
}

// Invoke 实现 Tool。
func (f *Func) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}

// ObjectSchema 构造一个 object 类型的参数 Schema。
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop 构造一个带描述的简单属性。
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
