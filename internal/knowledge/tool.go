package knowledge

import (
	"context"
	"encoding/json"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
)

// ToolName 是知识检索工具的注册名。
const ToolName = "lookup_knowledge"

// Tool 将知识库包装为只读工具。
type Tool struct {
	provider Provider
}

var _ tools.Tool = (*Tool)(nil)

// NewTool 创建知识检索工具。
func NewTool(provider Provider) *Tool {
	return &Tool{provider: provider}
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string {
	return "Search the operator knowledge base for guidance about chains, tokens and procedures."
}

func (t *Tool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"query": tools.Prop("string", "free text describing what you need to know"),
	}, "query")
}

// Invoke 返回匹配条目的 JSON 数组；没有命中时返回空数组。
func (t *Tool) Invoke(_ context.Context, args map[string]any) (string, error) {
	query := llm.String(args, "query")
	if query == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "query is required")
	}
	snippets := t.provider.Query(query)
	if snippets == nil {
		snippets = []Snippet{}
	}
	encoded, err := json.Marshal(snippets)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
