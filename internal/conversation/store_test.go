package conversation

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/plan"
)

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, Turn{ThreadID: "t-1", Role: RoleUser, Content: "check my balance"}))
	require.NoError(t, store.Append(ctx, Turn{ThreadID: "t-1", Role: RoleAssistant, Content: "1.5 ETH"}))

	p := plan.New("balance", []string{"fetch balance"})
	_, err = p.Apply([]plan.Update{{Index: 0, Status: plan.TaskFailed, Result: "rpc timeout"}})
	require.NoError(t, err)
	require.NoError(t, store.SavePlans(ctx, "t-1", plan.Collection{p}))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	history, err := reopened.History(ctx, "t-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "1.5 ETH", history[1].Content)

	last, err := reopened.History(ctx, "t-1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, RoleAssistant, last[0].Role)

	plans, err := reopened.LoadPlans(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, p.ID, plans[0].ID)
	assert.Equal(t, 1, plans[0].Tasks[0].RetryCount)
	assert.Equal(t, plan.StatusInProgress, plans[0].Status())
}

func TestFileStoreInMemory(t *testing.T) {
	store, err := NewFileStore("")
	require.NoError(t, err)
	ctx := context.Background()

	plans, err := store.LoadPlans(ctx, "fresh")
	require.NoError(t, err)
	assert.Empty(t, plans)

	require.NoError(t, store.Append(ctx, Turn{ThreadID: "fresh", Role: RoleError, Content: "boom"}))
	history, err := store.History(ctx, "fresh", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].CreatedAt.IsZero())
}

func TestThreadIDValidation(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		err := store.Append(context.Background(), Turn{ThreadID: id, Role: RoleUser, Content: "x"})
		assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument), id)
	}
	err = store.Append(context.Background(), Turn{ThreadID: "ok", Role: "system", Content: "x"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestMySQLStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewMySQLStore(db)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000).UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversation_turns")).
		WithArgs("t-1", "run-1", "user", "hello", created.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Append(ctx, Turn{ThreadID: "t-1", RunID: "run-1", Role: RoleUser, Content: "hello", CreatedAt: created}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT run_id, role, content, created_at FROM conversation_turns")).
		WithArgs("t-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "role", "content", "created_at"}).
			AddRow("run-1", "assistant", "second", created.UnixMilli()+1).
			AddRow("run-1", "user", "first", created.UnixMilli()))
	history, err := store.History(ctx, "t-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM thread_plans")).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	plans, err := store.LoadPlans(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, plans)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thread_plans")).
		WithArgs("t-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.SavePlans(ctx, "t-1", plan.Collection{plan.New("p", []string{"a"})}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
