package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-Orchestrator/internal/conversation"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/observability/alerting"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/internal/plan"
)

// answer 在终止路径上生成回答、写入会话并保存需要延续的计划。
func (o *Orchestrator) answer(ctx context.Context, st *runState, reason Reason) (*Outcome, error) {
	metrics.ObserveStage("answer")
	text := o.synthesize(ctx, st, reason)

	exhausted := st.plans.RetryExhausted()
	if len(exhausted) > 0 {
		text = strings.TrimSpace(text) + "\n\n" + exhaustionNote(exhausted)
		err := xerrors.New(xerrors.CodeRetryExhausted, "", xerrors.WithMetadata("task", exhausted[0].Task.Title))
		event := alerting.FromError(err)
		event.ThreadID, event.RunID = st.threadID, st.runID
		o.notify(ctx, event)
	}
	if note := reasonNote(reason, st.detail); note != "" {
		text = strings.TrimSpace(text) + "\n\n" + note
	}
	text = strings.TrimSpace(text)

	if err := o.conversations.Append(ctx, conversation.Turn{
		ThreadID: st.threadID,
		RunID:    st.runID,
		Role:     conversation.RoleAssistant,
		Content:  text,
	}); err != nil {
		return nil, err
	}
	if err := o.conversations.SavePlans(ctx, st.threadID, st.plans.Unfinished()); err != nil {
		return nil, err
	}

	st.log.Info("run_completed", slog.String("reason", string(reason)), slog.Int("passes", st.passes), slog.Int("tool_calls", st.toolCalls))
	metrics.ObserveRun(string(StatusCompleted), string(reason))
	return &Outcome{
		ThreadID: st.threadID,
		RunID:    st.runID,
		Status:   StatusCompleted,
		Answer:   text,
		Reason:   reason,
		Plans:    st.plans,
	}, nil
}

// synthesize 请推理引擎撰写回答，失败时退回确定性的摘要。
func (o *Orchestrator) synthesize(ctx context.Context, st *runState, reason Reason) string {
	content := fmt.Sprintf("Request: %s\n\nTermination reason: %s\n\nPlans:\n%s\n\nTool responses:\n%s",
		st.request, reason, st.plans.Snapshot(), summarizeResponses(st.toolResponses))
	messages := historyMessages(st.history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})

	proposal, err := o.propose(ctx, "answer", llm.Prompt{System: answerPrompt, Messages: messages})
	if err != nil {
		st.log.Warn("answer_fallback", slog.Any("error", err))
		return fallbackAnswer(st, reason)
	}
	if text := strings.TrimSpace(proposal.Text); text != "" {
		return text
	}
	return fallbackAnswer(st, reason)
}

// fallbackAnswer 根据计划快照生成确定性的回答。
func fallbackAnswer(st *runState, reason Reason) string {
	var b strings.Builder
	if len(st.plans) == 0 {
		b.WriteString("I could not make progress on your request.")
		if st.detail != "" && reason != ReasonReasoningFailure {
			b.WriteString(" ")
			b.WriteString(st.detail)
		}
		return b.String()
	}
	switch reason {
	case ReasonCompleted:
		b.WriteString("All planned tasks are completed.\n")
	default:
		b.WriteString("Work on your request stopped before every task was finished.\n")
	}
	for _, p := range st.plans {
		fmt.Fprintf(&b, "%s:\n", p.Title)
		for _, t := range p.Tasks {
			fmt.Fprintf(&b, "- %s: %s", t.Title, t.Status)
			if t.Result != "" {
				fmt.Fprintf(&b, " (%s)", plan.Truncate(t.Result, resultPreviewRunes))
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// exhaustionNote 列出达到重试上限的任务及其最后一次结果。
func exhaustionNote(exhausted []plan.ExhaustedTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following tasks failed %d times and were not retried further:\n", plan.MaxRetries)
	for _, e := range exhausted {
		last := e.Task.Result
		if last == "" {
			last = "no result recorded"
		}
		fmt.Fprintf(&b, "- %s / [%d] %s: %s\n", e.PlanTitle, e.Task.Index, e.Task.Title, plan.Truncate(last, resultPreviewRunes))
	}
	return strings.TrimRight(b.String(), "\n")
}

func reasonNote(reason Reason, detail string) string {
	switch reason {
	case ReasonLiveLock:
		return "Stopped because the same tasks kept being selected without any progress (" + detail + ")."
	case ReasonSelectorFault:
		return "Stopped because the next step could not be determined: " + detail + "."
	case ReasonForcedStop:
		return "Stopped early: " + detail + "."
	case ReasonReasoningFailure:
		return "Stopped because the reasoning service failed."
	}
	return ""
}
