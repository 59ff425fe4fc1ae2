package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
)

// Registry 维护工具名称到实现的映射。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建注册表并注册给定工具。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册工具，名称为空或重复时返回错误。
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool is nil")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get 根据名称查找工具。
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.TrimSpace(name)]
	return t, ok
}

// Names 返回排序后的工具名称。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions 返回供推理引擎选择的动作描述。
func (r *Registry) Definitions() []llm.Action {
	names := r.Names()
	actions := make([]llm.Action, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		actions = append(actions, llm.Action{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return actions
}

// Invoke 调用指定工具。工具返回的错误和 panic 都会被包装为 *ExecutionError。
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ExecutionError{Tool: name, Cause: xerrors.Newf(xerrors.CodeToolNotFound, "tool %s is not registered", name)}
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = ""
			err = &ExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	result, err = t.Invoke(ctx, args)
	if err != nil {
		return "", &ExecutionError{Tool: name, Cause: err}
	}
	return result, nil
}

// Simulate 以预览模式调用需要审核的工具。
func (r *Registry) Simulate(ctx context.Context, name string, args map[string]any) (preview map[string]any, err error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, &ExecutionError{Tool: name, Cause: xerrors.Newf(xerrors.CodeToolNotFound, "tool %s is not registered", name)}
	}
	reviewable, ok := t.(Reviewable)
	if !ok {
		return nil, &ExecutionError{Tool: name, Cause: xerrors.Newf(xerrors.CodeInvalidArgument, "tool %s does not support simulation", name)}
	}
	defer func() {
		if rec := recover(); rec != nil {
			preview = nil
			err = &ExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	preview, err = reviewable.Simulate(ctx, args)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Cause: err}
	}
	return preview, nil
}
