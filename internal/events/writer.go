package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Operations recorded in the audit log.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Actors recorded in the audit log.
const (
	ActorUser          = "user"
	ActorAI            = "ai"
	ActorCLI           = "cli"
	ActorSystem        = "system"
	ActorJSONMigration = "json_migration"
)

// Event names. Webhook filters match on these.
const (
	ProjectCreated             = "project.created"
	TaskCreated                = "task.created"
	TaskUpdated                = "task.updated"
	TaskDeleted                = "task.deleted"
	TaskStatusChanged          = "task.status_changed"
	TaskSubstatusChanged       = "task.substatus_changed"
	TaskStructuringComplete    = "task.structuring_complete"
	SubtaskCreated             = "subtask.created"
	SubtaskUpdated             = "subtask.updated"
	SubtasksReordered          = "subtask.reordered"
	ExecutionStarted           = "execution.started"
	ExecutionFinished          = "execution.finished"
	ExecutionStale             = "execution.stale"
	TerminalBound              = "terminal.bound"
	TerminalPrepared           = "terminal.prepared"
	LegacyDocumentImported     = "legacy.imported"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Payload map[string]any

// Entry is one audit row.
type Entry struct {
	Event      string
	EntityKind string
	EntityID   string
	Operation  string
	Actor      string
	Payload    Payload
}

// Writer appends rows to the logs table. Rows are never updated or deduplicated.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, ex Execer, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if e.Actor == "" {
		e.Actor = ActorUser
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal log payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO logs(ts,event,entity_kind,entity_id,operation,actor,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Event, e.EntityKind, nullable(e.EntityID), e.Operation, e.Actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
