package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
)

type previewTool struct {
	Func
	review bool
}

func (p *previewTool) RequiresReview() bool { return p.review }

func (p *previewTool) Simulate(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"amount": args["amount"], "simulated": true}, nil
}

func echoTool(name string) *Func {
	return &Func{
		ToolName:        name,
		ToolDescription: "echo",
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			return llm.String(args, "text"), nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(echoTool("echo"))
	require.NoError(t, err)

	err = r.Register(echoTool("echo"))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))
	assert.Error(t, r.Register(echoTool(" ")))
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestDefinitionsAreSorted(t *testing.T) {
	r, err := NewRegistry(echoTool("zeta"), echoTool("alpha"))
	require.NoError(t, err)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}

func TestInvokeWrapsFailures(t *testing.T) {
	boom := &Func{ToolName: "boom", Fn: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("rpc down")
	}}
	crash := &Func{ToolName: "crash", Fn: func(context.Context, map[string]any) (string, error) {
		panic("nil map")
	}}
	r, err := NewRegistry(boom, crash)
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "boom", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "boom", execErr.Tool)
	assert.Equal(t, xerrors.CodeToolExecution, execErr.Code())

	_, err = r.Invoke(context.Background(), "crash", nil)
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "panic: nil map")

	_, err = r.Invoke(context.Background(), "missing", nil)
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, xerrors.CodeToolNotFound, execErr.Code())
}

func TestDispatchProducesErrorShapedResponse(t *testing.T) {
	boom := &Func{ToolName: "boom", Fn: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("insufficient funds")
	}}
	r, err := NewRegistry(boom, echoTool("echo"))
	require.NoError(t, err)
	d := NewDispatcher(r)

	ok := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}})
	assert.False(t, ok.IsError)
	assert.Equal(t, "hi", ok.Content)
	assert.Equal(t, "c1", ok.CallID)

	failed := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "boom"})
	assert.True(t, failed.IsError)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(failed.Content), &body))
	assert.Contains(t, body["error"], "insufficient funds")
	assert.Equal(t, string(xerrors.CodeToolExecution), body["code"])

	assert.NotEqual(t, ok.ID, failed.ID, "correlation ids must be fresh per response")
}

func TestNeedsReviewUsesCapability(t *testing.T) {
	gated := &previewTool{Func: *echoTool("transfer"), review: true}
	ungated := &previewTool{Func: *echoTool("quote"), review: false}
	r, err := NewRegistry(gated, ungated, echoTool("echo"))
	require.NoError(t, err)

	for name, want := range map[string]bool{"transfer": true, "quote": false, "echo": false} {
		tool, ok := r.Get(name)
		require.True(t, ok)
		_, gatedTool := NeedsReview(tool)
		assert.Equal(t, want, gatedTool, name)
	}

	preview, err := r.Simulate(context.Background(), "transfer", map[string]any{"amount": "1"})
	require.NoError(t, err)
	assert.Equal(t, true, preview["simulated"])
	_, err = r.Simulate(context.Background(), "echo", nil)
	assert.Error(t, err)
}
