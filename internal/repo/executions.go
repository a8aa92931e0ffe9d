package repo

import (
	"context"
	"database/sql"
	"errors"

	"workopilot/internal/domain"
)

const executionColumns = `id,task_id,subtask_id,status,started_at,heartbeat_at,finished_at,error`

func scanExecution(row rowScanner) (domain.TaskExecution, error) {
	var e domain.TaskExecution
	var subtaskID, finishedAt, errMsg sql.NullString
	err := row.Scan(&e.ID, &e.TaskID, &subtaskID, &e.Status, &e.StartedAt, &e.HeartbeatAt, &finishedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.SubtaskID = stringPtr(subtaskID)
	e.FinishedAt = stringPtr(finishedAt)
	e.Error = errMsg.String
	return e, nil
}

func (r Repo) InsertExecution(ctx context.Context, e domain.TaskExecution) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_executions(`+executionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, nullableStringPtr(e.SubtaskID), string(e.Status), e.StartedAt, e.HeartbeatAt,
		nullableStringPtr(e.FinishedAt), nullable(e.Error))
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.TaskExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE id=?`, id))
}

// RunningExecution returns the most recent running execution of a task.
func (r Repo) RunningExecution(ctx context.Context, taskID string) (domain.TaskExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM task_executions
WHERE task_id=? AND status='running' ORDER BY started_at DESC LIMIT 1`, taskID))
}

func (r Repo) TouchExecution(ctx context.Context, id, heartbeatAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_executions SET heartbeat_at=? WHERE id=? AND status='running'`, heartbeatAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) FinishExecution(ctx context.Context, id string, status domain.ExecutionStatus, finishedAt, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_executions SET status=?, finished_at=?, error=? WHERE id=? AND status='running'`,
		string(status), finishedAt, nullable(errMsg), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleExecutions lists running executions whose heartbeat is older than cutoff.
// Timestamps are RFC3339 UTC so string comparison orders them.
func (r Repo) StaleExecutions(ctx context.Context, cutoff string) ([]domain.TaskExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM task_executions
WHERE status='running' AND heartbeat_at < ? ORDER BY heartbeat_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE task_id=? ORDER BY started_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountRunningExecutions(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_executions WHERE status='running'`).Scan(&n)
	return n, err
}
