package agent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/conversation"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
)

type stageFunc func(n int, prompt llm.Prompt) (*llm.Proposal, error)

// scriptedLLM 按提示词中提供的动作识别阶段，并把调用交给对应的脚本函数。
type scriptedLLM struct {
	mu       sync.Mutex
	calls    map[string]int
	prompts  map[string][]llm.Prompt
	create   stageFunc
	update   stageFunc
	selector stageFunc
	executor stageFunc
	classify stageFunc
	edits    stageFunc
	answer   stageFunc
}

func newScript() *scriptedLLM {
	return &scriptedLLM{calls: map[string]int{}, prompts: map[string][]llm.Prompt{}}
}

func stageOf(prompt llm.Prompt) string {
	names := map[string]bool{}
	for _, a := range prompt.Actions {
		names[a.Name] = true
	}
	switch {
	case len(prompt.Actions) == 0:
		return "answer"
	case names[ActionUpdatePlan]:
		return "update"
	case names[ActionCreatePlans]:
		return "create"
	case names[ActionSelectTasks]:
		return "selector"
	case names[ActionClassify]:
		return "classify"
	case names[ActionApplyEdits]:
		return "edits"
	default:
		return "executor"
	}
}

func (s *scriptedLLM) Propose(_ context.Context, prompt llm.Prompt) (*llm.Proposal, error) {
	stage := stageOf(prompt)
	s.mu.Lock()
	s.calls[stage]++
	n := s.calls[stage]
	s.prompts[stage] = append(s.prompts[stage], prompt)
	fn := map[string]stageFunc{
		"create": s.create, "update": s.update, "selector": s.selector, "executor": s.executor,
		"classify": s.classify, "edits": s.edits, "answer": s.answer,
	}[stage]
	s.mu.Unlock()
	if fn == nil {
		if stage == "answer" {
			return &llm.Proposal{Text: "final answer"}, nil
		}
		return &llm.Proposal{}, nil
	}
	return fn(n, prompt)
}

func (s *scriptedLLM) count(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *scriptedLLM) lastPrompt(stage string) llm.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompts := s.prompts[stage]
	return prompts[len(prompts)-1]
}

func calls(tc ...llm.ToolCall) *llm.Proposal {
	return &llm.Proposal{ToolCalls: tc}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Args: args}
}

func text(s string) *llm.Proposal {
	return &llm.Proposal{Text: s}
}

func createPlan(title string, tasks ...string) stageFunc {
	items := make([]any, len(tasks))
	for i, t := range tasks {
		items[i] = t
	}
	return func(int, llm.Prompt) (*llm.Proposal, error) {
		return calls(call("c1", ActionCreatePlans, map[string]any{
			"plans": []any{map[string]any{"title": title, "tasks": items}},
		})), nil
	}
}

func selectIndexes(indexes ...int) stageFunc {
	raw := make([]any, len(indexes))
	for i, idx := range indexes {
		raw[i] = float64(idx)
	}
	return func(int, llm.Prompt) (*llm.Proposal, error) {
		return calls(call("s1", ActionSelectTasks, map[string]any{"indexes": raw})), nil
	}
}

func updateTask(index int, status, result string) llm.ToolCall {
	return call("u1", ActionUpdatePlan, map[string]any{
		"updates": []any{map[string]any{"index": float64(index), "status": status, "result": result}},
	})
}

type counterTool struct {
	mu    sync.Mutex
	name  string
	count int
	fail  bool
}

func (t *counterTool) Name() string               { return t.name }
func (t *counterTool) Description() string        { return "test tool " + t.name }
func (t *counterTool) Parameters() map[string]any { return tools.ObjectSchema(nil) }
func (t *counterTool) Invoke(context.Context, map[string]any) (string, error) {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
	if t.fail {
		return "", errors.New("rpc timeout")
	}
	return `{"ok":true,"tool":"` + t.name + `"}`, nil
}

func (t *counterTool) invoked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// transferStub 是需要复核的工具，预览中带有超出 JSON 安全整数范围的金额。
type transferStub struct {
	counterTool
}

func (t *transferStub) RequiresReview() bool { return true }

func (t *transferStub) Simulate(_ context.Context, args map[string]any) (map[string]any, error) {
	wei, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	return map[string]any{
		"to":        llm.String(args, "to"),
		"amount":    llm.String(args, "amount"),
		"value_wei": wei,
		"gas":       map[string]any{"limit": uint64(21000), "fee_cap": big.NewInt(30_000_000_000)},
	}, nil
}

type fixture struct {
	orch          *Orchestrator
	script        *scriptedLLM
	conversations *conversation.FileStore
	checkpoints   checkpoint.Store
	price         *counterTool
	broken        *counterTool
	transfer      *transferStub
}

func newFixture(t *testing.T, script *scriptedLLM, store checkpoint.Store, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		script:   script,
		price:    &counterTool{name: "fetch_price"},
		broken:   &counterTool{name: "broken_rpc", fail: true},
		transfer: &transferStub{counterTool{name: "transfer_native"}},
	}
	registry, err := tools.NewRegistry(f.price, f.broken, f.transfer)
	require.NoError(t, err)
	f.conversations, err = conversation.NewFileStore("")
	require.NoError(t, err)
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	f.checkpoints = store
	f.orch, err = New(script, tools.NewDispatcher(registry), f.conversations, store, opts...)
	require.NoError(t, err)
	return f
}

func lastToolMessage(prompt llm.Prompt) llm.Message {
	for i := len(prompt.Messages) - 1; i >= 0; i-- {
		if prompt.Messages[i].Role == llm.RoleTool {
			return prompt.Messages[i]
		}
	}
	return llm.Message{}
}
