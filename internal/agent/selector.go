package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-Orchestrator/internal/checkpoint"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/alerting"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/internal/plan"
	"OpenMCP-Orchestrator/internal/tools"
)

// resultPreviewRunes 是 executorInput 中每条已完成结果的截断长度。
const resultPreviewRunes = 200

// selectTasks 选择下一批任务；返回非 nil 表示需要向用户提问。
func (o *Orchestrator) selectTasks(ctx context.Context, st *runState) *suspension {
	metrics.ObserveStage("selector")
	st.signal = SignalContinue
	if plannerShortCircuit(st) {
		return nil
	}
	active, ok := st.activePlan()
	if !ok {
		st.finish(ReasonSelectorFault, "no active plan to select from")
		return nil
	}

	prompt := fmt.Sprintf("Request: %s\n\nActive plan: %s\n\nPlans:\n%s\n\nLatest tool responses:\n%s",
		st.request, active.ID, st.plans.Snapshot(), summarizeResponses(st.toolResponses))
	proposal, err := o.propose(ctx, "selector", llm.Prompt{
		System:   selectorPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Actions:  []llm.Action{selectTasksAction, terminateAction, askUserAction},
	})
	if err != nil {
		st.log.Warn("selector_failed", slog.Any("error", err))
		st.finish(ReasonReasoningFailure, err.Error())
		return nil
	}

	call, ok := proposal.First(ActionSelectTasks, ActionTerminate, ActionAskUser)
	if !ok {
		st.log.Warn("selector_fault", slog.String("reason", "no control action"))
		st.finish(ReasonSelectorFault, "the selector returned no control action")
		return nil
	}

	switch call.Name {
	case ActionTerminate:
		reason := llm.String(call.Args, "reason")
		st.log.Info("selector_terminated", slog.String("reason", reason))
		st.finish(ReasonTerminated, reason)
		return nil
	case ActionAskUser:
		question := llm.String(call.Args, "question")
		if question == "" {
			st.finish(ReasonSelectorFault, "the selector asked an empty question")
			return nil
		}
		st.signal = SignalAsk
		return &suspension{
			stage:    checkpoint.StageSelector,
			kind:     checkpoint.KindAsk,
			question: question,
			calls:    []llm.ToolCall{call},
		}
	}

	target := active
	if id := llm.String(call.Args, "plan_id"); id != "" {
		if p, exists := st.plans.Find(id); exists && p.Status() != plan.StatusCompleted {
			target = p
		}
	}
	indexes := filterSelection(target, llm.Ints(call.Args, "indexes"))
	if len(indexes) == 0 {
		st.log.Warn("selector_fault", slog.String("reason", "no selectable index"))
		st.finish(ReasonSelectorFault, "the selector chose no selectable task")
		return nil
	}

	if count := st.selections.record(target, indexes); count >= liveLockThreshold {
		st.log.Warn("live_lock_detected", slog.String("plan_id", target.ID), slog.Any("tasks", indexes), slog.Int("count", count))
		st.finish(ReasonLiveLock, fmt.Sprintf("tasks %v of plan %q were selected %d times without progress", indexes, target.Title, count))
		err := xerrors.New(xerrors.CodeLiveLock, "", xerrors.WithMetadata("plan_id", target.ID))
		event := alerting.FromError(err)
		event.ThreadID, event.RunID = st.threadID, st.runID
		o.notify(ctx, event)
		return nil
	}

	st.activePlanID = target.ID
	st.selected = indexes
	st.executorInput = executorInput(target, indexes)
	st.log.Info("tasks_selected", slog.String("plan_id", target.ID), slog.Any("tasks", indexes))
	return nil
}

// filterSelection 丢弃越界、已完成与重试耗尽的索引，去重并最多保留三个。
func filterSelection(p *plan.Plan, proposed []int) []int {
	seen := make(map[int]bool, len(proposed))
	out := make([]int, 0, maxSelectedTasks)
	for _, idx := range proposed {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		t, ok := p.Task(idx)
		if !ok || !t.Selectable() {
			continue
		}
		out = append(out, idx)
		if len(out) == maxSelectedTasks {
			break
		}
	}
	return out
}

func executorInput(p *plan.Plan, indexes []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work on the following tasks of plan %q:\n", p.Title)
	for _, idx := range indexes {
		t, _ := p.Task(idx)
		fmt.Fprintf(&b, "[%d] %s (%s)\n", t.Index, t.Title, t.Status)
	}
	var done []string
	for _, t := range p.Tasks {
		if t.Status == plan.TaskCompleted && t.Result != "" {
			done = append(done, fmt.Sprintf("[%d] %s: %s", t.Index, t.Title, plan.Truncate(t.Result, resultPreviewRunes)))
		}
	}
	if len(done) > 0 {
		b.WriteString("Already completed:\n")
		b.WriteString(strings.Join(done, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resumeSelector 将用户对选择阶段提问的回复记为合成的工具响应，随后回到 Planner。
func (o *Orchestrator) resumeSelector(st *runState, cp *checkpoint.Checkpoint, input ResumeInput) {
	callID := ""
	if len(cp.Pending.Calls) > 0 {
		callID = cp.Pending.Calls[0].ID
	}
	st.toolResponses = append(st.toolResponses, tools.NewResponse(callID, ActionAskUser, input.ExternalInput))
	st.signal = SignalContinue
}
