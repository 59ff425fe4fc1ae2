package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/llm"
)

const echoScript = `import json, sys
req = json.load(sys.stdin)
names = [a["name"] for a in req.get("actions") or []]
if "terminate" in names:
    print(json.dumps({"tool_calls": [{"name": "terminate", "args": {"reason": req["messages"][-1]["content"]}}]}))
else:
    print(json.dumps({"text": "  no actions  "}))
`

func TestProposeThroughScript(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	script := filepath.Join(t.TempDir(), "bridge.py")
	require.NoError(t, os.WriteFile(script, []byte(echoScript), 0o644))

	client, err := NewClient(python, script, "")
	require.NoError(t, err)

	proposal, err := client.Propose(context.Background(), llm.Prompt{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "stop now"}},
		Actions:  []llm.Action{{Name: "terminate"}},
	})
	require.NoError(t, err)
	require.Len(t, proposal.ToolCalls, 1)
	assert.NotEmpty(t, proposal.ToolCalls[0].ID)
	assert.Equal(t, "stop now", proposal.ToolCalls[0].Args["reason"])

	proposal, err = client.Propose(context.Background(), llm.Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "no actions", proposal.Text)
}

func TestResolveScriptPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/opt", "bridge.py"), ResolveScriptPath("/opt", "bridge.py"))
	assert.Equal(t, "/abs/x.py", ResolveScriptPath("/opt", "/abs/x.py"))
	assert.Equal(t, "x.py", ResolveScriptPath("", "x.py"))
}
