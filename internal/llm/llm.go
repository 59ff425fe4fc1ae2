package llm

import (
	"context"
	"strings"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 是模型提出的一次具名动作调用。
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message 是提示词中的一条对话记录。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Action 描述模型可以选择的一个动作及其参数 JSON Schema。
type Action struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Prompt 是一次推理调用的完整上下文。
type Prompt struct {
	System   string    `json:"system"`
	Messages []Message `json:"messages"`
	Actions  []Action  `json:"actions,omitempty"`
}

// Proposal 是推理结果：要么包含工具调用，要么是一段文本。
type Proposal struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Text      string     `json:"text,omitempty"`
}

// HasToolCalls 判断提案中是否存在工具调用。
func (p *Proposal) HasToolCalls() bool {
	return p != nil && len(p.ToolCalls) > 0
}

// First 返回第一个名称在 names 中的调用。
func (p *Proposal) First(names ...string) (ToolCall, bool) {
	if p == nil {
		return ToolCall{}, false
	}
	for _, call := range p.ToolCalls {
		for _, name := range names {
			if strings.EqualFold(call.Name, name) {
				return call, true
			}
		}
	}
	return ToolCall{}, false
}

// Client 定义了调用推理引擎的统一接口。
type Client interface {
	Propose(ctx context.Context, prompt Prompt) (*Proposal, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, prompt Prompt) (*Proposal, error)

// Propose 实现 Client 接口。
func (f ClientFunc) Propose(ctx context.Context, prompt Prompt) (*Proposal, error) {
	return f(ctx, prompt)
}
