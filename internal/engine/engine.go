package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"workopilot/internal/config"
	"workopilot/internal/domain"
	"workopilot/internal/events"
	"workopilot/internal/repo"
)

var (
	ErrExecutionRunning  = errors.New("task already has a running execution")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// withTx runs fn against a Repo bound to a fresh transaction and commits
// when fn succeeds.
func (e Engine) withTx(ctx context.Context, fn func(r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(repo.Repo{DB: tx, Now: e.now}); err != nil {
		return err
	}
	return tx.Commit()
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func modifiedBy(actor string) domain.ModifiedBy {
	if m := domain.ModifiedBy(actor); m.Valid() {
		return m
	}
	return domain.ModifiedByCLI
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID    string
	Name  string
	Path  string
	Actor string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, validationf("project name is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Project{ID: id, Name: name, Path: opts.Path, CreatedAt: e.timestamp()}
	err := e.withTx(ctx, func(r repo.Repo) error {
		if err := r.InsertProject(ctx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.ProjectCreated, EntityKind: "project", EntityID: p.ID,
			Operation: events.OpCreate, Actor: opts.Actor,
			Payload: events.Payload{"name": p.Name, "path": p.Path},
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID                 string
	ProjectID          string
	Title              string
	Priority           int
	Category           string
	Complexity         string
	Description        string
	BusinessRules      []string
	TechnicalNotes     string
	AcceptanceCriteria []string
	ScheduledDate      string
	DueDate            string
	Actor              string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, validationf("title is required")
	}
	var projectID *string
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		projectID = &opts.ProjectID
	}
	var complexity *domain.Complexity
	if opts.Complexity != "" {
		c := domain.Complexity(opts.Complexity)
		if !c.Valid() {
			return domain.Task{}, validationf("unknown complexity %q", opts.Complexity)
		}
		complexity = &c
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.timestamp()
	t := domain.Task{
		ID:            id,
		ProjectID:     projectID,
		Title:         title,
		Status:        domain.TaskPending,
		Complexity:    complexity,
		Priority:      opts.Priority,
		Category:      opts.Category,
		SchemaVersion: 1,
		Context: domain.TaskContext{
			Description:        opts.Description,
			BusinessRules:      opts.BusinessRules,
			TechnicalNotes:     opts.TechnicalNotes,
			AcceptanceCriteria: opts.AcceptanceCriteria,
		},
		Timestamps:    domain.TaskTimestamps{CreatedAt: now},
		ModifiedAt:    now,
		ModifiedBy:    modifiedBy(opts.Actor),
		ScheduledDate: optionalString(opts.ScheduledDate),
		DueDate:       optionalString(opts.DueDate),
	}
	err := e.withTx(ctx, func(r repo.Repo) error {
		if err := r.InsertTask(ctx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.TaskCreated, EntityKind: "task", EntityID: t.ID,
			Operation: events.OpCreate, Actor: opts.Actor,
			Payload: events.Payload{"title": t.Title, "status": t.Status},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.TaskFull, error) {
	return e.Repo.GetTaskFull(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Status != "" && !domain.TaskStatus(f.Status).Valid() {
		return nil, validationf("unknown task status %q", f.Status)
	}
	return e.Repo.ListTasks(ctx, f)
}

// UpdateTaskStatus moves a task to status. The first move to a started
// status stamps started_at; done stamps completed_at and reopening clears it.
func (e Engine) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, actor string) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, validationf("unknown task status %q", status)
	}
	var t domain.Task
	err := e.withTx(ctx, func(r repo.Repo) error {
		var err error
		t, err = r.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == status {
			return nil
		}
		from := t.Status
		now := e.timestamp()
		t.Status = status
		if status.Started() && t.Timestamps.StartedAt == nil {
			t.Timestamps.StartedAt = &now
		}
		if status == domain.TaskDone {
			t.Timestamps.CompletedAt = &now
			t.Substatus = nil
		} else {
			t.Timestamps.CompletedAt = nil
		}
		t.ModifiedAt = now
		t.ModifiedBy = modifiedBy(actor)
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.TaskStatusChanged, EntityKind: "task", EntityID: t.ID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"from": from, "to": status},
		})
	})
	return t, err
}

// SetSubstatus sets or, with nil, clears the substatus of a task that is not done.
func (e Engine) SetSubstatus(ctx context.Context, id string, substatus *domain.Substatus, actor string) (domain.Task, error) {
	if substatus != nil && !substatus.Valid() {
		return domain.Task{}, validationf("unknown substatus %q", *substatus)
	}
	var t domain.Task
	err := e.withTx(ctx, func(r repo.Repo) error {
		var err error
		t, err = r.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == domain.TaskDone && substatus != nil {
			return fmt.Errorf("%w: task %s is done", ErrInvalidTransition, id)
		}
		from := t.Substatus
		t.Substatus = substatus
		t.ModifiedAt = e.timestamp()
		t.ModifiedBy = modifiedBy(actor)
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.TaskSubstatusChanged, EntityKind: "task", EntityID: t.ID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"from": from, "to": substatus},
		})
	})
	return t, err
}

// MarkStructuringComplete sets ai_metadata.structuring_complete and clears a
// structuring substatus. The returned bool is true only on the false to true
// transition, which is also the only case that emits
// task.structuring_complete.
func (e Engine) MarkStructuringComplete(ctx context.Context, id, actor string) (domain.Task, bool, error) {
	var t domain.Task
	changed := false
	err := e.withTx(ctx, func(r repo.Repo) error {
		var err error
		t, err = r.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t.AIMetadata.StructuringComplete {
			return nil
		}
		now := e.timestamp()
		t.AIMetadata.StructuringComplete = true
		t.AIMetadata.LastInteraction = &now
		t.Initialized = true
		if t.Substatus != nil && *t.Substatus == domain.SubstatusStructuring {
			t.Substatus = nil
		}
		t.ModifiedAt = now
		t.ModifiedBy = modifiedBy(actor)
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}
		changed = true
		return r.AppendLog(ctx, events.Entry{
			Event: events.TaskStructuringComplete, EntityKind: "task", EntityID: t.ID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"title": t.Title},
		})
	})
	if err == nil && changed {
		e.logger().Info("structuring complete", "task_id", id)
	}
	return t, changed, err
}

// DeleteTask removes a task; subtasks, executions and terminal bindings
// cascade.
func (e Engine) DeleteTask(ctx context.Context, id, actor string) error {
	return e.withTx(ctx, func(r repo.Repo) error {
		t, err := r.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if err := r.DeleteTask(ctx, id); err != nil {
			return err
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.TaskDeleted, EntityKind: "task", EntityID: id,
			Operation: events.OpDelete, Actor: actor,
			Payload: events.Payload{"title": t.Title},
		})
	})
}

func (e Engine) Logs(ctx context.Context, f repo.LogFilters) ([]domain.LogEntry, error) {
	return e.Repo.LatestLogs(ctx, f)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
