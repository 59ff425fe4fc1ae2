package job

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
)

var jobRowColumns = []string{
	"id", "thread_id", "kind", "request", "external_input", "decision", "status", "attempts", "max_retries",
	"last_error", "error_code", "outcome", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQLStore(db), mock
}

func TestMySQLStoreCreateMapsDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO orchestrator_jobs").
		WithArgs("j1", "t1", "run", "hello", "", "", "pending", 0, 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO orchestrator_jobs").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	job := &Job{ID: "j1", ThreadID: "t1", Kind: KindRun, Request: "hello", Status: StatusPending, MaxRetries: 3}
	require.NoError(t, store.Create(context.Background(), job))
	assert.NotZero(t, job.CreatedAt)

	err := store.Create(context.Background(), job)
	assert.ErrorIs(t, err, ErrJobConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreGetDecodesOutcome(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows(jobRowColumns).AddRow(
		"j1", "t1", "resume", "", "yes", "approve", "succeeded", 1, 3,
		"", "", `{"thread_id":"t1","run_id":"r1","status":"completed","answer":"sent","plans":null}`, 10, 20,
	)
	mock.ExpectQuery("FROM orchestrator_jobs WHERE id = \\?").WithArgs("j1").WillReturnRows(rows)
	mock.ExpectQuery("FROM orchestrator_jobs WHERE id = \\?").WithArgs("nope").WillReturnRows(sqlmock.NewRows(jobRowColumns))

	job, err := store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, KindResume, job.Kind)
	assert.Equal(t, agent.DecisionApprove, job.Decision)
	require.NotNil(t, job.Outcome)
	assert.Equal(t, "sent", job.Outcome.Answer)
	assert.Equal(t, agent.StatusCompleted, job.Outcome.Status)

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreClaimReportsCompletedJob(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE orchestrator_jobs SET status = \\?, attempts = attempts \\+ 1").
		WithArgs("running", sqlmock.AnyArg(), "j1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM orchestrator_jobs WHERE id = \\?").WithArgs("j1").WillReturnRows(
		sqlmock.NewRows(jobRowColumns).AddRow("j1", "t1", "run", "hi", "", "", "waiting", 1, 3, "", "", nil, 1, 2),
	)

	job, err := store.Claim(context.Background(), "j1")
	assert.ErrorIs(t, err, ErrJobCompleted)
	require.NotNil(t, job)
	assert.Nil(t, job.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreCompleteAndFail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE orchestrator_jobs SET status = \\?, outcome = \\?").
		WithArgs("waiting", sqlmock.AnyArg(), sqlmock.AnyArg(), "j1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orchestrator_jobs SET status = \\?, last_error = \\?").
		WithArgs("pending", "boom", "STORAGE_FAILURE", sqlmock.AnyArg(), "j2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orchestrator_jobs SET status = \\?, last_error = \\?").
		WithArgs("failed", "bad", "INVALID_ARGUMENT", sqlmock.AnyArg(), "j3").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, store.Complete(ctx, "j1", &agent.Outcome{Status: agent.StatusWaiting}))
	require.NoError(t, store.MarkFailed(ctx, "j2", xerrors.CodeStorageFailure, "boom", false))
	assert.ErrorIs(t, store.MarkFailed(ctx, "j3", xerrors.CodeInvalidArgument, "bad", true), ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreListBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM orchestrator_jobs WHERE status IN \\(\\?, \\?\\) AND thread_id = \\? ORDER BY updated_at ASC").
		WithArgs("pending", "running", "t9", 5, 0).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow("a", "t9", "run", "x", "", "", "pending", 0, 3, "", "", nil, 1, 1).
			AddRow("b", "t9", "run", "y", "", "", "running", 1, 3, "", "", nil, 2, 2))

	jobs, err := store.List(context.Background(), buildListOptions([]ListOption{
		WithStatuses(StatusPending, StatusRunning), WithThread("t9"), WithLimit(5), WithSortOrder(SortByUpdatedAsc),
	}))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, StatusRunning, jobs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT\\s+COUNT\\(\\*\\) AS total").
		WithArgs("pending", "running", "waiting", "succeeded", "failed", "run").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "running", "waiting", "succeeded", "failed", "oldest", "newest"}).
			AddRow(5, 1, 1, 1, 1, 1, 100, 200))

	stats, err := store.Stats(context.Background(), buildListOptions([]ListOption{WithKind(KindRun)}))
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 5, Pending: 1, Running: 1, Waiting: 1, Succeeded: 1, Failed: 1, OldestUpdatedAt: 100, NewestUpdatedAt: 200}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
