package job

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"OpenMCP-Orchestrator/internal/agent"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	mysqlstore "OpenMCP-Orchestrator/internal/storage/mysql"
)

// MySQLStore 使用 orchestrator_jobs 表记录作业状态。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已迁移的连接创建作业存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

const jobColumns = `id, thread_id, kind, request, external_input, decision, status, attempts, max_retries,
        last_error, error_code, outcome, created_at, updated_at`

// Create 插入新的作业记录。
func (s *MySQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "作业 ID 不能为空")
	}
	now := s.now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now

	const stmt = `INSERT INTO orchestrator_jobs
        (id, thread_id, kind, request, external_input, decision, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		job.ID,
		job.ThreadID,
		string(job.Kind),
		job.Request,
		job.ExternalInput,
		string(job.Decision),
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if mysqlstore.IsDuplicateKey(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入作业失败")
	}
	return nil
}

// Get 查询指定作业。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM orchestrator_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	return job, nil
}

// Claim 将作业标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE orchestrator_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), s.now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		switch job.Status {
		case StatusSucceeded, StatusWaiting, StatusFailed:
			return job, ErrJobCompleted
		case StatusRunning:
			return job, ErrJobConflict
		default:
			return job, ErrJobExhausted
		}
	}
	return job, nil
}

// Complete 写入运行结果。
func (s *MySQLStore) Complete(ctx context.Context, id string, outcome *agent.Outcome) error {
	encoded, err := encodeOutcome(outcome)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码作业结果失败")
	}
	const stmt = `UPDATE orchestrator_jobs SET status = ?, outcome = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(statusForOutcome(outcome)), encoded, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录作业结果失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败原因。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE orchestrator_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(statusForFailure(terminal)), lastError, string(code), s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业失败出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Requeue 将卡在 running 的作业放回 pending。
func (s *MySQLStore) Requeue(ctx context.Context, id string) error {
	const stmt = `UPDATE orchestrator_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusPending), s.now().Unix(), id, string(StatusRunning))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置作业状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobConflict
	}
	return nil
}

// List 返回符合条件的作业。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM orchestrator_jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历作业失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的作业聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS waiting,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM orchestrator_jobs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending), string(StatusRunning), string(StatusWaiting),
		string(StatusSucceeded), string(StatusFailed),
	}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Waiting,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业统计失败")
	}
	return stats, nil
}

// Close 不关闭共享连接，连接由连接池统一释放。
func (s *MySQLStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job      Job
		kind     string
		decision string
		status   string
		outcome  sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.ThreadID,
		&kind,
		&job.Request,
		&job.ExternalInput,
		&decision,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorCode,
		&outcome,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Decision = agent.Decision(decision)
	job.Status = Status(status)
	if outcome.Valid && strings.TrimSpace(outcome.String) != "" {
		var decoded agent.Outcome
		if err := json.Unmarshal([]byte(outcome.String), &decoded); err != nil {
			return nil, err
		}
		job.Outcome = &decoded
	}
	return &job, nil
}

func encodeOutcome(outcome *agent.Outcome) (sql.NullString, error) {
	if outcome == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.ThreadID != "" {
		conditions = append(conditions, "thread_id = ?")
		args = append(args, opts.ThreadID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
