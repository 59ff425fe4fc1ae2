package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToRotatingFiles(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app.log")
	auditLog := filepath.Join(dir, "audit", "audit.log")

	require.NoError(t, Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	}))
	t.Cleanup(func() { _ = Init(Config{OutputPaths: []string{"discard"}}) })

	ForThread("executor", "thread-1", "run-1").Info("tool_dispatched", "tool", "get_balance")
	Audit().Info("review_approved", "thread_id", "thread-1")
	require.NoError(t, Sync())

	app, err := os.ReadFile(appLog)
	require.NoError(t, err)
	assert.Contains(t, string(app), `"component":"executor"`)
	assert.Contains(t, string(app), `"thread_id":"thread-1"`)

	audit, err := os.ReadFile(auditLog)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "review_approved")
	assert.Contains(t, string(audit), `"stream":"audit"`)
}

func TestAuditRequiresPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	assert.Error(t, err)
}
