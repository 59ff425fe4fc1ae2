package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/internal/tools"
)

const deferredContent = `{"status":"deferred","reason":"another action in the same step is waiting for the user; propose this call again afterwards"}`

// execute 开始新的执行轮次。
func (o *Orchestrator) execute(ctx context.Context, st *runState) (*suspension, error) {
	metrics.ObserveStage("executor")
	st.signal = SignalContinue
	st.toolResponses = nil
	st.transcript = []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Request: %s\n\n%s", st.request, st.executorInput),
	}}
	return o.executorLoop(ctx, st)
}

// executorLoop 反复请求提案并处理，直到本轮结束或需要挂起。
func (o *Orchestrator) executorLoop(ctx context.Context, st *runState) (*suspension, error) {
	actions := append(o.dispatcher.Registry().Definitions(), terminateAction, askUserAction)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.budgetExhausted(st) {
			return nil, nil
		}

		proposal, err := o.propose(ctx, "executor", llm.Prompt{
			System:   executorPrompt,
			Messages: st.transcript,
			Actions:  actions,
		})
		if err != nil {
			st.log.Warn("executor_failed", slog.Any("error", err))
			st.finish(ReasonReasoningFailure, err.Error())
			return nil, nil
		}

		if !proposal.HasToolCalls() {
			if len(st.toolResponses) == 0 {
				st.finish(ReasonExecutorIdle, proposal.Text)
				return nil, nil
			}
			if text := strings.TrimSpace(proposal.Text); text != "" {
				st.toolResponses = append(st.toolResponses, tools.NewResponse("", "executor_summary", text))
			}
			st.log.Info("executor_pass_finished", slog.Int("responses", len(st.toolResponses)))
			return nil, nil
		}

		calls := ensureCallIDs(proposal.ToolCalls)
		st.transcript = append(st.transcript, llm.Message{Role: llm.RoleAssistant, Content: proposal.Text, ToolCalls: calls})

		done, susp := o.handleProposal(ctx, st, calls)
		if susp != nil || done {
			return susp, nil
		}
	}
}

// handleProposal 按优先级处理一次提案中的调用：terminate 优先；普通调用按顺序执行；
// 然后对第一个需要复核的调用发起复核，其余复核调用与提问得到延后响应；否则合并提问。
func (o *Orchestrator) handleProposal(ctx context.Context, st *runState, calls []llm.ToolCall) (bool, *suspension) {
	if term, ok := firstNamed(calls, ActionTerminate); ok {
		for _, call := range calls {
			if call.ID != term.ID {
				st.addResponse(tools.NewResponse(call.ID, call.Name, deferredContent))
			}
		}
		reason := llm.String(term.Args, "reason")
		if reason == "" {
			reason = "terminated by executor"
		}
		st.addResponse(tools.NewResponse(term.ID, ActionTerminate, reason))
		st.log.Info("executor_terminated", slog.String("reason", reason))
		return true, nil
	}

	var asks, gated []llm.ToolCall
	for _, call := range calls {
		switch {
		case call.Name == ActionAskUser:
			asks = append(asks, call)
		case o.requiresReview(call.Name):
			gated = append(gated, call)
		default:
			if o.budgetExhausted(st) {
				return true, nil
			}
			st.toolCalls++
			st.addResponse(o.dispatcher.Dispatch(ctx, call))
		}
	}

	if len(gated) > 0 {
		for _, call := range append(gated[1:], asks...) {
			st.addResponse(tools.NewResponse(call.ID, call.Name, deferredContent))
		}
		return false, o.beginReview(ctx, st, gated[0])
	}
	if len(asks) > 0 {
		return false, &suspension{
			stage:    checkpoint.StageExecutor,
			kind:     checkpoint.KindAsk,
			question: mergeQuestions(asks),
			calls:    asks,
		}
	}
	return false, nil
}

// budgetExhausted 在工具预算用尽时追加强制停止响应。
func (o *Orchestrator) budgetExhausted(st *runState) bool {
	if o.maxToolCalls < 0 || st.toolCalls < o.maxToolCalls {
		return false
	}
	if _, ok := st.hasForcedStop(); !ok {
		st.log.Warn("tool_budget_exhausted", slog.Int("tool_calls", st.toolCalls))
		st.toolResponses = append(st.toolResponses, tools.ForcedStopResponse("orchestrator",
			fmt.Sprintf("tool call budget of %d exhausted", o.maxToolCalls)))
	}
	return true
}

func (o *Orchestrator) requiresReview(name string) bool {
	if !o.reviewEnabled {
		return false
	}
	t, ok := o.dispatcher.Lookup(name)
	if !ok {
		return false
	}
	_, gated := tools.NeedsReview(t)
	return gated
}

// resumeExecutor 将人工回复代入挂起的调用，然后继续执行循环。
func (o *Orchestrator) resumeExecutor(ctx context.Context, st *runState, cp *checkpoint.Checkpoint, input ResumeInput) (*suspension, error) {
	metrics.ObserveStage("executor")
	st.signal = SignalContinue
	switch cp.Kind {
	case checkpoint.KindAsk:
		for _, call := range cp.Pending.Calls {
			st.addResponse(tools.NewResponse(call.ID, ActionAskUser, input.ExternalInput))
		}
	case checkpoint.KindReview:
		if len(cp.Pending.Calls) > 0 {
			if err := o.completeReview(ctx, st, cp, input); err != nil {
				return nil, err
			}
		}
	}
	return o.executorLoop(ctx, st)
}

func firstNamed(calls []llm.ToolCall, name string) (llm.ToolCall, bool) {
	for _, call := range calls {
		if call.Name == name {
			return call, true
		}
	}
	return llm.ToolCall{}, false
}

func ensureCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		out[i] = call
	}
	return out
}

func mergeQuestions(asks []llm.ToolCall) string {
	questions := make([]string, 0, len(asks))
	for _, call := range asks {
		if q := llm.String(call.Args, "question"); q != "" {
			questions = append(questions, q)
		}
	}
	switch len(questions) {
	case 0:
		return "Could you provide more details?"
	case 1:
		return questions[0]
	}
	var b strings.Builder
	b.WriteString("Please answer the following:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return strings.TrimRight(b.String(), "\n")
}

func encodeContent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
