package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/internal/plan"
)

// plannerShortCircuit 在调用推理前检查重试上限与全部完成两个条件。
func plannerShortCircuit(st *runState) bool {
	if exhausted := st.plans.RetryExhausted(); len(exhausted) > 0 {
		st.finish(ReasonRetryExhausted, "")
		return true
	}
	if st.plans.AllCompleted() {
		st.finish(ReasonCompleted, "")
		return true
	}
	return false
}

// createPlans 在没有活跃计划时请求推理引擎分解请求。
func (o *Orchestrator) createPlans(ctx context.Context, st *runState) {
	metrics.ObserveStage("planner")
	st.signal = SignalContinue
	if plannerShortCircuit(st) {
		return
	}

	messages := historyMessages(st.history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: st.request})
	proposal, err := o.propose(ctx, "planner", llm.Prompt{
		System:   plannerCreatePrompt,
		Messages: messages,
		Actions:  []llm.Action{createPlansAction},
	})
	if err != nil {
		st.log.Warn("planner_failed", slog.Any("error", err))
		st.finish(ReasonReasoningFailure, err.Error())
		return
	}

	created := 0
	for _, call := range proposal.ToolCalls {
		if call.Name != ActionCreatePlans {
			continue
		}
		created += appendPlans(st, call.Args)
	}
	if created == 0 {
		st.log.Info("planner_no_plan", slog.Bool("text_reply", proposal.Text != ""))
		st.finish(ReasonNoUpdate, proposal.Text)
		return
	}
	st.log.Info("plans_created", slog.Int("count", created))
}

// updatePlans 将上一轮的工具响应交给推理引擎，按位置更新任务。
func (o *Orchestrator) updatePlans(ctx context.Context, st *runState) {
	metrics.ObserveStage("planner")
	st.signal = SignalContinue
	if plannerShortCircuit(st) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nPlans:\n%s\n\nTool responses from the last pass:\n%s",
		st.request, st.plans.Snapshot(), summarizeResponses(st.toolResponses))
	messages := historyMessages(st.history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: b.String()})

	proposal, err := o.propose(ctx, "planner", llm.Prompt{
		System:   plannerUpdatePrompt,
		Messages: messages,
		Actions:  []llm.Action{updatePlanAction, createPlansAction},
	})
	if err != nil {
		st.log.Warn("planner_failed", slog.Any("error", err))
		st.finish(ReasonReasoningFailure, err.Error())
		return
	}

	actionable := 0
	for _, call := range proposal.ToolCalls {
		switch call.Name {
		case ActionUpdatePlan:
			if o.applyUpdates(st, call.Args) {
				actionable++
			}
		case ActionCreatePlans:
			actionable += appendPlans(st, call.Args)
		}
	}
	if actionable == 0 {
		st.log.Info("planner_no_update", slog.Bool("text_reply", proposal.Text != ""))
		st.finish(ReasonNoUpdate, proposal.Text)
	}
}

// appendPlans 根据 create_plans 参数追加计划，返回追加的数量。
func appendPlans(st *runState, args map[string]any) int {
	created := 0
	for _, raw := range llm.Objects(args, "plans") {
		p := plan.New(llm.String(raw, "title"), llm.Strings(raw, "tasks"))
		if len(p.Tasks) == 0 {
			continue
		}
		if p.Title == "" {
			p.Title = plan.Truncate(st.request, 60)
		}
		st.plans = append(st.plans, p)
		st.activePlanID = p.ID
		created++
	}
	return created
}

// applyUpdates 解析 update_plan 参数并整体应用；任一条目不合法时整批丢弃。
func (o *Orchestrator) applyUpdates(st *runState, args map[string]any) bool {
	target, ok := st.activePlan()
	if id := llm.String(args, "plan_id"); id != "" {
		if found, exists := st.plans.Find(id); exists {
			target, ok = found, true
		}
	}
	if !ok {
		return false
	}

	raw := llm.Objects(args, "updates")
	if len(raw) == 0 {
		return false
	}
	updates := make([]plan.Update, 0, len(raw))
	for _, item := range raw {
		index, valid := llm.Int(item["index"])
		if !valid {
			st.log.Warn("plan_update_rejected", slog.String("reason", "missing index"))
			return false
		}
		u := plan.Update{Index: index, Result: llm.String(item, "result"), Title: llm.String(item, "title")}
		if rawStatus := llm.String(item, "status"); rawStatus != "" {
			status, valid := plan.ParseTaskStatus(rawStatus)
			if !valid {
				st.log.Warn("plan_update_rejected", slog.String("reason", "unknown status"), slog.String("status", rawStatus))
				return false
			}
			u.Status = status
		}
		updates = append(updates, u)
	}

	touched, err := target.Apply(updates)
	if err != nil {
		st.log.Warn("plan_update_rejected", slog.Any("error", err))
		return false
	}
	st.log.Info("plan_updated", slog.String("plan_id", target.ID), slog.Any("tasks", touched))
	return len(touched) > 0
}
