package repo

import (
	"context"
	"fmt"
	"strings"

	"workopilot/internal/domain"
)

type LogFilters struct {
	Event      string
	EntityKind string
	EntityID   string
	Actor      string
	AfterID    int64
	Limit      int
}

// LatestLogs returns audit rows newest first.
func (r Repo) LatestLogs(ctx context.Context, f LogFilters) ([]domain.LogEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Event != "" {
		clauses = append(clauses, "event=?")
		args = append(args, f.Event)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,event,entity_kind,COALESCE(entity_id,''),operation,actor,payload_json FROM logs WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Event, &e.EntityKind, &e.EntityID, &e.Operation, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LogsSince returns audit rows with id greater than afterID, oldest first.
func (r Repo) LogsSince(ctx context.Context, afterID int64, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,event,entity_kind,COALESCE(entity_id,''),operation,actor,payload_json
FROM logs WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Event, &e.EntityKind, &e.EntityID, &e.Operation, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
