package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/auth"
	"OpenMCP-Orchestrator/internal/checkpoint"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("OPENMCP_ORCH_AUTH_MODE", "jwt")
	t.Setenv("OPENMCP_ORCH_AUTH_SECRET", "0123456789abcdef0123")
	t.Setenv("OPENMCP_ORCH_RUNTIME_DATA_DIR", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "ops", "--permissions", auth.PermissionRunsApprove})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "expires: "))

	svc, err := auth.NewService(auth.Config{
		Mode:     auth.ModeJWT,
		Secret:   "0123456789abcdef0123",
		Issuer:   "openmcp-orchestrator",
		Audience: "openmcp-api",
	})
	require.NoError(t, err)
	subject, err := svc.Verify(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "ops", subject.Name)
	assert.True(t, subject.HasPermission(auth.PermissionRunsApprove))
	assert.False(t, subject.HasPermission(auth.PermissionRunsWrite))
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printOutcome(&buf, &agent.Outcome{
		ThreadID: "t-1",
		Status:   agent.StatusWaiting,
		Interrupt: &agent.Interrupt{
			Question: "Send 1 ETH?",
			Kind:     checkpoint.KindReview,
			Preview:  map[string]any{"amount": "1"},
		},
	}, false))
	assert.Contains(t, buf.String(), "Send 1 ETH?")
	assert.Contains(t, buf.String(), `"amount": "1"`)

	buf.Reset()
	require.NoError(t, printOutcome(&buf, &agent.Outcome{
		ThreadID: "t-2",
		Status:   agent.StatusCompleted,
		Answer:   "done",
		Reason:   agent.ReasonCompleted,
	}, false))
	assert.Contains(t, buf.String(), "reason: completed")
	assert.True(t, strings.HasSuffix(buf.String(), "done\n"))

	buf.Reset()
	require.NoError(t, printOutcome(&buf, &agent.Outcome{ThreadID: "t-3", Status: agent.StatusCompleted}, true))
	assert.Contains(t, buf.String(), `"thread_id": "t-3"`)
}
