package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workopilot/internal/domain"
)

const taskColumns = `id,project_id,title,status,substatus,complexity,priority,category,initialized,schema_version,
description,business_rules,technical_notes,acceptance_criteria,ai_metadata,created_at,started_at,completed_at,
modified_at,modified_by,scheduled_date,due_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var projectID, substatus, complexity, startedAt, completedAt, scheduled, due sql.NullString
	var description, rules, notes, criteria, aiMeta string
	var initialized int
	err := row.Scan(&t.ID, &projectID, &t.Title, &t.Status, &substatus, &complexity, &t.Priority, &t.Category,
		&initialized, &t.SchemaVersion, &description, &rules, &notes, &criteria, &aiMeta,
		&t.Timestamps.CreatedAt, &startedAt, &completedAt, &t.ModifiedAt, &t.ModifiedBy, &scheduled, &due)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ProjectID = stringPtr(projectID)
	if substatus.Valid {
		s := domain.Substatus(substatus.String)
		t.Substatus = &s
	}
	if complexity.Valid {
		c := domain.Complexity(complexity.String)
		t.Complexity = &c
	}
	t.Initialized = initialized != 0
	t.Context.Description = unmarshalText(description)
	t.Context.BusinessRules = unmarshalList(sql.NullString{String: rules, Valid: true})
	t.Context.TechnicalNotes = unmarshalText(notes)
	t.Context.AcceptanceCriteria = unmarshalList(sql.NullString{String: criteria, Valid: true})
	if aiMeta != "" {
		if err := json.Unmarshal([]byte(aiMeta), &t.AIMetadata); err != nil {
			return t, fmt.Errorf("task %s ai_metadata: %w", t.ID, err)
		}
	}
	t.Timestamps.StartedAt = stringPtr(startedAt)
	t.Timestamps.CompletedAt = stringPtr(completedAt)
	t.ScheduledDate = stringPtr(scheduled)
	t.DueDate = stringPtr(due)
	return t, nil
}

// taskContextColumns serializes each context field on its own, the way the
// columns are stored.
func taskContextColumns(c domain.TaskContext) (description, rules, notes, criteria string, err error) {
	if description, err = marshalJSON(c.Description); err != nil {
		return
	}
	if rules, err = marshalJSON(nonNil(c.BusinessRules)); err != nil {
		return
	}
	if notes, err = marshalJSON(c.TechnicalNotes); err != nil {
		return
	}
	criteria, err = marshalJSON(nonNil(c.AcceptanceCriteria))
	return
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func substatusValue(s *domain.Substatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func complexityValue(c *domain.Complexity) any {
	if c == nil {
		return nil
	}
	return string(*c)
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	description, rules, notes, criteria, err := taskContextColumns(t.Context)
	if err != nil {
		return err
	}
	aiMeta, err := marshalJSON(t.AIMetadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ProjectID), t.Title, string(t.Status), substatusValue(t.Substatus), complexityValue(t.Complexity),
		t.Priority, t.Category, boolInt(t.Initialized), t.SchemaVersion, description, rules, notes, criteria, aiMeta,
		t.Timestamps.CreatedAt, nullableStringPtr(t.Timestamps.StartedAt), nullableStringPtr(t.Timestamps.CompletedAt),
		t.ModifiedAt, string(t.ModifiedBy), nullableStringPtr(t.ScheduledDate), nullableStringPtr(t.DueDate))
	return err
}

// UpdateTask rewrites every mutable column of t.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	description, rules, notes, criteria, err := taskContextColumns(t.Context)
	if err != nil {
		return err
	}
	aiMeta, err := marshalJSON(t.AIMetadata)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET project_id=?, title=?, status=?, substatus=?, complexity=?, priority=?, category=?,
initialized=?, schema_version=?, description=?, business_rules=?, technical_notes=?, acceptance_criteria=?, ai_metadata=?,
started_at=?, completed_at=?, modified_at=?, modified_by=?, scheduled_date=?, due_date=? WHERE id=?`,
		nullableStringPtr(t.ProjectID), t.Title, string(t.Status), substatusValue(t.Substatus), complexityValue(t.Complexity),
		t.Priority, t.Category, boolInt(t.Initialized), t.SchemaVersion, description, rules, notes, criteria, aiMeta,
		nullableStringPtr(t.Timestamps.StartedAt), nullableStringPtr(t.Timestamps.CompletedAt),
		t.ModifiedAt, string(t.ModifiedBy), nullableStringPtr(t.ScheduledDate), nullableStringPtr(t.DueDate), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LegacyTaskFields are the columns a legacy JSON document overwrites.
type LegacyTaskFields struct {
	Complexity    *domain.Complexity
	Initialized   bool
	SchemaVersion int
	Context       domain.TaskContext
	AIMetadata    json.RawMessage
	StartedAt     *string
	Status        domain.TaskStatus
	ModifiedAt    string
	ModifiedBy    domain.ModifiedBy
}

// UpdateTaskFromLegacy overwrites the legacy-owned columns of a task.
// ai_metadata is stored exactly as supplied.
func (r Repo) UpdateTaskFromLegacy(ctx context.Context, id string, f LegacyTaskFields) error {
	description, rules, notes, criteria, err := taskContextColumns(f.Context)
	if err != nil {
		return err
	}
	aiMeta := string(f.AIMetadata)
	if strings.TrimSpace(aiMeta) == "" || aiMeta == "null" {
		aiMeta = "{}"
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET complexity=?, initialized=?, schema_version=?, description=?, business_rules=?,
technical_notes=?, acceptance_criteria=?, ai_metadata=?, started_at=?, status=?, modified_at=?, modified_by=? WHERE id=?`,
		complexityValue(f.Complexity), boolInt(f.Initialized), f.SchemaVersion, description, rules, notes, criteria, aiMeta,
		nullableStringPtr(f.StartedAt), string(f.Status), f.ModifiedAt, string(f.ModifiedBy), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// GetTaskFull returns the task with its subtasks ordered by "order".
func (r Repo) GetTaskFull(ctx context.Context, id string) (domain.TaskFull, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return domain.TaskFull{}, err
	}
	subtasks, err := r.ListSubtasks(ctx, id)
	if err != nil {
		return domain.TaskFull{}, err
	}
	return domain.TaskFull{Task: t, Subtasks: subtasks}, nil
}

type TaskFilters struct {
	ProjectID   string
	Status      string
	ExcludeDone bool
	Limit       int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ExcludeDone {
		clauses = append(clauses, "status != 'done'")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY priority DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM tasks`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
