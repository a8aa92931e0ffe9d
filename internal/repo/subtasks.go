package repo

import (
	"context"
	"database/sql"
	"errors"

	"workopilot/internal/domain"
)

const subtaskColumns = `id,task_id,title,status,"order",description,acceptance_criteria,technical_notes,prompt_context,completed_at`

func scanSubtask(row rowScanner) (domain.Subtask, error) {
	var s domain.Subtask
	var description, criteria, notes, promptContext, completedAt sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.Title, &s.Status, &s.Order, &description, &criteria, &notes, &promptContext, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Description = description.String
	s.AcceptanceCriteria = unmarshalList(criteria)
	s.TechnicalNotes = notes.String
	s.PromptContext = promptContext.String
	s.CompletedAt = stringPtr(completedAt)
	return s, nil
}

// GetSubtask finds a subtask by id regardless of its task.
func (r Repo) GetSubtask(ctx context.Context, id string) (domain.Subtask, error) {
	return scanSubtask(r.DB.QueryRowContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id=?`, id))
}

// GetSubtaskForTask finds a subtask by id only when it belongs to taskID.
func (r Repo) GetSubtaskForTask(ctx context.Context, id, taskID string) (domain.Subtask, error) {
	return scanSubtask(r.DB.QueryRowContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id=? AND task_id=?`, id, taskID))
}

func (r Repo) ListSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE task_id=? ORDER BY "order" ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertSubtask(ctx context.Context, s domain.Subtask) error {
	criteria, err := marshalList(s.AcceptanceCriteria)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO subtasks(`+subtaskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Title, string(s.Status), s.Order, nullable(s.Description), criteria,
		nullable(s.TechnicalNotes), nullable(s.PromptContext), nullableStringPtr(s.CompletedAt))
	return err
}

// UpdateSubtask rewrites the content columns of the subtask with s.ID. The
// owning task is never changed.
func (r Repo) UpdateSubtask(ctx context.Context, s domain.Subtask) error {
	criteria, err := marshalList(s.AcceptanceCriteria)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE subtasks SET title=?, status=?, "order"=?, description=?, acceptance_criteria=?,
technical_notes=?, prompt_context=?, completed_at=? WHERE id=?`,
		s.Title, string(s.Status), s.Order, nullable(s.Description), criteria,
		nullable(s.TechnicalNotes), nullable(s.PromptContext), nullableStringPtr(s.CompletedAt), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetSubtaskOrder(ctx context.Context, id string, order int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE subtasks SET "order"=? WHERE id=?`, order, id)
	return err
}

// NextSubtaskOrder returns max(order)+1 for the task, 0 when it has none.
func (r Repo) NextSubtaskOrder(ctx context.Context, taskID string) (int, error) {
	var next int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX("order"), -1) + 1 FROM subtasks WHERE task_id=?`, taskID).Scan(&next)
	return next, err
}

func (r Repo) DeleteSubtask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM subtasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
