package repo

import (
	"context"
	"database/sql"
	"errors"

	"workopilot/internal/domain"
)

func (r Repo) GetTerminal(ctx context.Context, taskID string) (domain.TaskTerminal, error) {
	var t domain.TaskTerminal
	var last sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT task_id,session_name,last_subtask_id,updated_at FROM task_terminals WHERE task_id=?`, taskID).
		Scan(&t.TaskID, &t.SessionName, &last, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	t.LastSubtaskID = stringPtr(last)
	return t, err
}

func (r Repo) UpsertTerminal(ctx context.Context, t domain.TaskTerminal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_terminals(task_id,session_name,last_subtask_id,updated_at) VALUES (?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET session_name=excluded.session_name, last_subtask_id=excluded.last_subtask_id, updated_at=excluded.updated_at`,
		t.TaskID, t.SessionName, nullableStringPtr(t.LastSubtaskID), t.UpdatedAt)
	return err
}
