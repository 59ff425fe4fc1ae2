package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/conversation"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
)

// reviewScript 让执行阶段先提出一次转账，之后只回复文本。
func reviewScript() *scriptedLLM {
	script := newScript()
	script.create = createPlan("pay", "send payment")
	script.selector = selectIndexes(0)
	script.executor = func(n int, _ llm.Prompt) (*llm.Proposal, error) {
		if n == 1 {
			return calls(call("tx1", "transfer_native", map[string]any{"to": "0xabc", "amount": "1"})), nil
		}
		return text("reported to user"), nil
	}
	return script
}

func suspendForReview(t *testing.T, f *fixture, threadID string) *Outcome {
	t.Helper()
	out, err := f.orch.Run(context.Background(), threadID, "pay alice 1 eth")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, out.Status)
	require.Equal(t, checkpoint.KindReview, out.Interrupt.Kind)
	return out
}

func TestReviewPreviewSerialisesBigIntegers(t *testing.T) {
	f := newFixture(t, reviewScript(), nil, WithReview(true))
	out := suspendForReview(t, f, "thread-big")

	assert.Equal(t, []string{"approve", "reject", "update"}, out.Interrupt.ExpectedReply.Options)
	assert.Equal(t, "1000000000000000000000000", out.Interrupt.Preview["value_wei"])
	gas := out.Interrupt.Preview["gas"].(map[string]any)
	assert.Equal(t, "30000000000", gas["fee_cap"])
	assert.Equal(t, 0, f.transfer.invoked(), "simulation has no side effects")

	encoded, err := json.Marshal(out.Interrupt)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"value_wei":"1000000000000000000000000"`)
}

func TestReviewUpdateReportsEditedPayload(t *testing.T) {
	script := reviewScript()
	script.edits = func(int, llm.Prompt) (*llm.Proposal, error) {
		return calls(call("ed", ActionApplyEdits, map[string]any{
			"edits": []any{map[string]any{"path": "/amount", "value": "50"}},
		})), nil
	}
	f := newFixture(t, script, nil, WithReview(true))
	suspendForReview(t, f, "thread-upd")

	out, err := f.orch.Resume(context.Background(), "thread-upd", ResumeInput{ExternalInput: "change amount to 50"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 0, f.transfer.invoked(), "edited calls are never executed automatically")
	assert.Equal(t, 0, script.count("classify"), "keyword replies skip the classifier")
	assert.Equal(t, 2, script.count("executor"), "the executor re-proposes after the edit")

	reply := lastToolMessage(script.lastPrompt("executor"))
	assert.Equal(t, "tx1", reply.ToolCallID)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(reply.Content), &body))
	assert.Equal(t, "edited", body["status"])
	payload := body["payload"].(map[string]any)
	assert.Equal(t, "50", payload["amount"])
	assert.Equal(t, "0xabc", payload["to"])
}

func TestReviewApproveExecutes(t *testing.T) {
	f := newFixture(t, reviewScript(), nil, WithReview(true))
	suspendForReview(t, f, "thread-ok")

	_, err := f.orch.Resume(context.Background(), "thread-ok", ResumeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, 1, f.transfer.invoked())
}

func TestReviewRejectDoesNotExecute(t *testing.T) {
	script := reviewScript()
	script.classify = classifyAs(DecisionReject)
	f := newFixture(t, script, nil, WithReview(true))
	suspendForReview(t, f, "thread-no")

	_, err := f.orch.Resume(context.Background(), "thread-no", ResumeInput{ExternalInput: "no, too expensive"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.transfer.invoked())
	assert.Equal(t, 1, script.count("classify"))
	reply := lastToolMessage(script.lastPrompt("executor"))
	assert.Contains(t, reply.Content, `"status":"rejected"`)
}

func classifyAs(decision Decision) stageFunc {
	return func(int, llm.Prompt) (*llm.Proposal, error) {
		return calls(call("k", ActionClassify, map[string]any{"decision": string(decision)})), nil
	}
}

func TestClassifyReplyKeywordsNeedWholeReply(t *testing.T) {
	cases := []struct {
		reply    string
		llm      Decision
		want     Decision
		classify int
	}{
		{reply: "yes", want: DecisionApprove},
		{reply: "OK, approve!", want: DecisionApprove},
		{reply: "reject", want: DecisionReject},
		{reply: "no. cancel", want: DecisionReject},
		{reply: "change the amount to 2", want: DecisionUpdate},
		{reply: "yes, amount 50", llm: DecisionUpdate, want: DecisionUpdate, classify: 1},
		{reply: "ok stop", llm: DecisionReject, want: DecisionReject, classify: 1},
		{reply: "no problem, go ahead", llm: DecisionApprove, want: DecisionApprove, classify: 1},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			script := newScript()
			if tc.llm != "" {
				script.classify = classifyAs(tc.llm)
			}
			f := newFixture(t, script, nil, WithReview(true))
			got, err := f.orch.classifyReply(context.Background(), call("tx", "transfer_native", nil), nil, ResumeInput{ExternalInput: tc.reply})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.classify, script.count("classify"))
		})
	}
}

func TestReviewApproveWithChangesIsNotExecuted(t *testing.T) {
	script := reviewScript()
	script.classify = classifyAs(DecisionUpdate)
	f := newFixture(t, script, nil, WithReview(true))
	suspendForReview(t, f, "thread-amend")

	_, err := f.orch.Resume(context.Background(), "thread-amend", ResumeInput{ExternalInput: "yes, amount 50"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.transfer.invoked())
	assert.Equal(t, 1, script.count("classify"))
}

// failingTurns 让前 failures 次助手消息写入失败。
type failingTurns struct {
	*conversation.FileStore
	mu       sync.Mutex
	failures int
}

func (s *failingTurns) Append(ctx context.Context, turn conversation.Turn) error {
	s.mu.Lock()
	fail := turn.Role == conversation.RoleAssistant && s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return xerrors.New(xerrors.CodeStorageFailure, "disk full")
	}
	return s.FileStore.Append(ctx, turn)
}

// failingCheckpoints 在 reject 返回 true 时拒绝保存。
type failingCheckpoints struct {
	*checkpoint.MemoryStore
	reject func(cp *checkpoint.Checkpoint) bool
}

func (s *failingCheckpoints) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if s.reject != nil && s.reject(cp) {
		return xerrors.New(xerrors.CodeStorageFailure, "redis down")
	}
	return s.MemoryStore.Save(ctx, cp)
}

func rebuild(t *testing.T, f *fixture, turns conversation.Store, store checkpoint.Store) *Orchestrator {
	t.Helper()
	registry, err := tools.NewRegistry(f.price, f.broken, f.transfer)
	require.NoError(t, err)
	orch, err := New(f.script, tools.NewDispatcher(registry), turns, store, WithReview(true))
	require.NoError(t, err)
	return orch
}

func TestApprovedActionRunsOnceAcrossRepeatedResume(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	f := newFixture(t, reviewScript(), store, WithReview(true))
	suspendForReview(t, f, "thread-once")

	orch := rebuild(t, f, &failingTurns{FileStore: f.conversations, failures: 1}, store)

	_, err := orch.Resume(ctx, "thread-once", ResumeInput{Decision: DecisionApprove})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err), "a failure after the action ran must not be retried automatically")
	assert.Equal(t, 1, f.transfer.invoked())

	cp, err := store.Load(ctx, "thread-once")
	require.NoError(t, err)
	assert.True(t, cp.Pending.Approved)
	require.NotNil(t, cp.Pending.Result)

	out, err := orch.Resume(ctx, "thread-once", ResumeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 1, f.transfer.invoked())

	_, err = store.Load(ctx, "thread-once")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestApprovedActionWithUnrecordedResultIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	store := &failingCheckpoints{MemoryStore: checkpoint.NewMemoryStore()}
	script := reviewScript()
	f := newFixture(t, script, store, WithReview(true))
	suspendForReview(t, f, "thread-lost")

	store.reject = func(cp *checkpoint.Checkpoint) bool { return cp.Pending.Result != nil }
	orch := rebuild(t, f, &failingTurns{FileStore: f.conversations, failures: 1}, store)

	_, err := orch.Resume(ctx, "thread-lost", ResumeInput{Decision: DecisionApprove})
	require.Error(t, err)
	assert.Equal(t, 1, f.transfer.invoked())

	_, err = orch.Resume(ctx, "thread-lost", ResumeInput{ExternalInput: "approve"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.transfer.invoked())
	reply := lastToolMessage(script.lastPrompt("executor"))
	assert.Equal(t, "tx1", reply.ToolCallID)
	assert.Contains(t, reply.Content, "outcome is unknown")
}

func TestApprovalNotPersistedSkipsExecution(t *testing.T) {
	ctx := context.Background()
	store := &failingCheckpoints{MemoryStore: checkpoint.NewMemoryStore()}
	f := newFixture(t, reviewScript(), store, WithReview(true))
	suspendForReview(t, f, "thread-nosave")

	store.reject = func(cp *checkpoint.Checkpoint) bool { return cp.Pending.Approved }
	_, err := f.orch.Resume(ctx, "thread-nosave", ResumeInput{Decision: DecisionApprove})
	require.Error(t, err)
	assert.True(t, xerrors.RetryableError(err), "nothing ran, so the resume may be retried")
	assert.Equal(t, 0, f.transfer.invoked())

	store.reject = nil
	_, err = f.orch.Resume(ctx, "thread-nosave", ResumeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, 1, f.transfer.invoked())
}

func TestReviewClassificationFailureReturnsToProposal(t *testing.T) {
	script := reviewScript()
	script.classify = func(int, llm.Prompt) (*llm.Proposal, error) {
		return nil, errors.New("classifier offline")
	}
	f := newFixture(t, script, nil, WithReview(true))
	suspendForReview(t, f, "thread-cls")

	out, err := f.orch.Resume(context.Background(), "thread-cls", ResumeInput{ExternalInput: "hmm, what do you think?"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 0, f.transfer.invoked())
	assert.Equal(t, 1, script.count("classify"))

	reply := lastToolMessage(script.lastPrompt("executor"))
	assert.Contains(t, reply.Content, string(xerrors.CodeInterruptClassify))
}

func TestReviewDisabledDispatchesDirectly(t *testing.T) {
	f := newFixture(t, reviewScript(), nil)
	out, err := f.orch.Run(context.Background(), "thread-direct", "pay alice 1 eth")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 1, f.transfer.invoked())
}

func TestProposalPrecedence(t *testing.T) {
	script := newScript()
	script.create = createPlan("p", "t")
	script.selector = selectIndexes(0)
	script.executor = func(n int, _ llm.Prompt) (*llm.Proposal, error) {
		if n == 1 {
			return calls(
				call("a", ActionAskUser, map[string]any{"question": "sure?"}),
				call("b", "transfer_native", map[string]any{"to": "0x1", "amount": "1"}),
				call("c", "fetch_price", nil),
				call("d", "transfer_native", map[string]any{"to": "0x2", "amount": "2"}),
			), nil
		}
		return text("ok"), nil
	}
	f := newFixture(t, script, nil, WithReview(true))

	out, err := f.orch.Run(context.Background(), "thread-prec", "do it")
	require.NoError(t, err)
	require.Equal(t, checkpoint.KindReview, out.Interrupt.Kind)
	assert.Equal(t, 1, f.price.invoked(), "ordinary calls run before the review")

	cp, err := f.checkpoints.Load(context.Background(), "thread-prec")
	require.NoError(t, err)
	require.Len(t, cp.Pending.Calls, 1)
	assert.Equal(t, "b", cp.Pending.Calls[0].ID)
	deferred := 0
	for _, resp := range cp.ToolResponses {
		if resp.CallID == "a" || resp.CallID == "d" {
			assert.Contains(t, resp.Content, "deferred")
			deferred++
		}
	}
	assert.Equal(t, 2, deferred)
}

func TestTerminateWinsWithinProposal(t *testing.T) {
	script := newScript()
	script.create = createPlan("p", "t")
	script.selector = selectIndexes(0)
	script.executor = func(int, llm.Prompt) (*llm.Proposal, error) {
		return calls(call("c", "fetch_price", nil), call("t", ActionTerminate, map[string]any{"reason": "wallet empty"})), nil
	}
	script.update = func(_ int, prompt llm.Prompt) (*llm.Proposal, error) {
		return calls(updateTask(0, "failed", "wallet empty")), nil
	}
	f := newFixture(t, script, nil)

	_, err := f.orch.Run(context.Background(), "thread-term", "do it")
	require.NoError(t, err)
	assert.Equal(t, 0, f.price.invoked())
	last := script.lastPrompt("update").Messages
	assert.Contains(t, last[len(last)-1].Content, "terminate: wallet empty")
}

func TestNormalizePreview(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	got := normalizePreview(map[string]any{
		"ptr":    huge,
		"value":  *big.NewInt(7),
		"nonce":  uint64(1 << 60),
		"small":  uint64(5),
		"list":   []any{big.NewInt(1), "x"},
		"typed":  map[string]*big.Int{"fee": big.NewInt(9)},
		"bytes":  []byte("ab"),
		"nested": map[string]any{"n": nil},
	}).(map[string]any)

	assert.Equal(t, "123456789012345678901234567890", got["ptr"])
	assert.Equal(t, "7", got["value"])
	assert.Equal(t, "1152921504606846976", got["nonce"])
	assert.Equal(t, uint64(5), got["small"])
	assert.Equal(t, []any{"1", "x"}, got["list"])
	assert.Equal(t, map[string]any{"fee": "9"}, got["typed"])
	assert.Equal(t, []byte("ab"), got["bytes"])
	assert.Nil(t, got["nested"].(map[string]any)["n"])
}

type gwei uint64

func TestNormalizePreviewIntegerKindsAndStructs(t *testing.T) {
	type fee struct {
		Cap   *big.Int `json:"cap"`
		Limit int      `json:"limit"`
		Tip   uint64   `json:"tip"`
	}
	got := normalizePreview(map[string]any{
		"int":    int(1 << 60),
		"small":  int(7),
		"int32":  int32(-5),
		"uint":   uint(1 << 62),
		"named":  gwei(1 << 58),
		"fee":    fee{Cap: big.NewInt(3), Limit: 21000, Tip: 1 << 60},
		"feeptr": &fee{Cap: big.NewInt(4)},
	}).(map[string]any)

	assert.Equal(t, "1152921504606846976", got["int"])
	assert.Equal(t, int(7), got["small"])
	assert.Equal(t, int32(-5), got["int32"])
	assert.Equal(t, "4611686018427387904", got["uint"])
	assert.Equal(t, "288230376151711744", got["named"])
	assert.Equal(t, map[string]any{"cap": int64(3), "limit": int64(21000), "tip": "1152921504606846976"}, got["fee"])
	assert.Equal(t, map[string]any{"cap": int64(4), "limit": int64(0), "tip": int64(0)}, got["feeptr"])
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Approve ")
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, d)

	_, err = ParseDecision("maybe")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}
