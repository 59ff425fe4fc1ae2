package agent

import (
	"log/slog"
	"strings"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/conversation"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/plan"
	"OpenMCP-Orchestrator/internal/tools"
)

// Signal 是阶段之间传递的路由信号。
type Signal string

const (
	SignalContinue Signal = "continue"
	SignalAnswer   Signal = "answer"
	SignalAsk      Signal = "ask"
)

// Reason 说明运行为何进入回答阶段。
type Reason string

const (
	ReasonCompleted        Reason = "completed"
	ReasonRetryExhausted   Reason = "retry_exhausted"
	ReasonLiveLock         Reason = "live_lock"
	ReasonSelectorFault    Reason = "selector_fault"
	ReasonNoUpdate         Reason = "planner_no_update"
	ReasonTerminated       Reason = "terminated"
	ReasonExecutorIdle     Reason = "executor_idle"
	ReasonForcedStop       Reason = "forced_stop"
	ReasonReasoningFailure Reason = "reasoning_failure"
)

// runState 是单次运行的全部可变状态，只属于一个线程的一次运行。
type runState struct {
	threadID string
	runID    string
	request  string
	history  []conversation.Turn

	plans         plan.Collection
	activePlanID  string
	selected      []int
	executorInput string
	toolResponses []tools.Response
	transcript    []llm.Message

	signal Signal
	reason Reason
	// detail 记录终止时的补充说明，例如 terminate 的理由或故障描述。
	detail string

	selections *selectionCounter
	passes     int
	toolCalls  int

	log *slog.Logger
}

func newRunState(threadID, runID, request string, history []conversation.Turn, plans plan.Collection, log *slog.Logger) *runState {
	return &runState{
		threadID:   threadID,
		runID:      runID,
		request:    request,
		history:    history,
		plans:      plans,
		signal:     SignalContinue,
		selections: newSelectionCounter(nil),
		log:        log,
	}
}

// finish 设置回答信号与原因。
func (s *runState) finish(reason Reason, detail string) {
	s.signal = SignalAnswer
	s.reason = reason
	s.detail = detail
}

func (s *runState) addResponse(resp tools.Response) {
	s.toolResponses = append(s.toolResponses, resp)
	s.transcript = append(s.transcript, toolMessage(resp))
}

func (s *runState) hasForcedStop() (tools.Response, bool) {
	for _, resp := range s.toolResponses {
		if resp.ForcedStop {
			return resp, true
		}
	}
	return tools.Response{}, false
}

func (s *runState) activePlan() (*plan.Plan, bool) {
	if s.activePlanID != "" {
		if p, ok := s.plans.Find(s.activePlanID); ok && p.Status() != plan.StatusCompleted {
			return p, true
		}
	}
	p, ok := s.plans.Active()
	if ok {
		s.activePlanID = p.ID
	}
	return p, ok
}

// toCheckpoint 捕获恢复所需的最小现场。
func (s *runState) toCheckpoint() *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ThreadID:        s.threadID,
		RunID:           s.runID,
		Request:         s.request,
		Plans:           s.plans.Clone(),
		ActivePlanID:    s.activePlanID,
		SelectedIndexes: append([]int(nil), s.selected...),
		ExecutorInput:   s.executorInput,
		ToolResponses:   append([]tools.Response(nil), s.toolResponses...),
		Transcript:      append([]llm.Message(nil), s.transcript...),
		Selections:      s.selections.snapshot(),
		Passes:          s.passes,
		ToolCalls:       s.toolCalls,
	}
}

func restoreRunState(cp *checkpoint.Checkpoint, history []conversation.Turn, log *slog.Logger) *runState {
	st := newRunState(cp.ThreadID, cp.RunID, cp.Request, history, cp.Plans, log)
	st.activePlanID = cp.ActivePlanID
	st.selected = cp.SelectedIndexes
	st.executorInput = cp.ExecutorInput
	st.toolResponses = cp.ToolResponses
	st.transcript = cp.Transcript
	st.selections = newSelectionCounter(cp.Selections)
	st.passes = cp.Passes
	st.toolCalls = cp.ToolCalls
	return st
}

func toolMessage(resp tools.Response) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: resp.CallID,
		Name:       resp.Name,
		Content:    resp.Content,
	}
}

func historyMessages(turns []conversation.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case conversation.RoleAssistant, conversation.RoleError:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}
	return out
}

func summarizeResponses(responses []tools.Response) string {
	if len(responses) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, resp := range responses {
		b.WriteString("- ")
		b.WriteString(resp.Name)
		if resp.IsError {
			b.WriteString(" [error]")
		}
		b.WriteString(": ")
		b.WriteString(plan.Truncate(resp.Content, 1000))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
