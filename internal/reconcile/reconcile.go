// Package reconcile imports legacy per-task JSON documents into the
// relational store.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"workopilot/internal/domain"
	"workopilot/internal/events"
	"workopilot/internal/repo"
)

const orphanMessage = "Task not found in database - skipping (orphan JSON)"

// Store is the part of the relational store the reconciler writes through.
type Store interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTaskFromLegacy(ctx context.Context, id string, f repo.LegacyTaskFields) error
	GetSubtaskForTask(ctx context.Context, id, taskID string) (domain.Subtask, error)
	GetSubtask(ctx context.Context, id string) (domain.Subtask, error)
	InsertSubtask(ctx context.Context, s domain.Subtask) error
	UpdateSubtask(ctx context.Context, s domain.Subtask) error
	AppendLog(ctx context.Context, e events.Entry) error
}

type Reconciler struct {
	Store  Store
	Fs     afero.Fs
	Logger *slog.Logger
	Now    func() time.Time
}

// DocumentResult is the outcome for one source file.
type DocumentResult struct {
	File             string `json:"file"`
	TaskID           string `json:"task_id,omitempty"`
	Success          bool   `json:"success"`
	SubtasksMigrated int    `json:"subtasks_migrated"`
	Deleted          bool   `json:"deleted"`
	Error            string `json:"error,omitempty"`
}

type Report struct {
	Success bool             `json:"success"`
	Results []DocumentResult `json:"results"`
}

// Failed returns the results that did not succeed.
func (r Report) Failed() []DocumentResult {
	var out []DocumentResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

func (r Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r Reconciler) fs() afero.Fs {
	if r.Fs != nil {
		return r.Fs
	}
	return afero.NewOsFs()
}

// Reconcile processes paths one after another. A failing document never
// stops the run; its error is recorded in the report instead. Writes are not
// transactional: subtasks written before a mid-document failure stay written.
func (r Reconciler) Reconcile(ctx context.Context, paths []string, deleteSourceAfterSuccess bool) Report {
	report := Report{Success: true, Results: make([]DocumentResult, 0, len(paths))}
	for _, path := range paths {
		res := r.reconcileFile(ctx, path, deleteSourceAfterSuccess)
		if !res.Success {
			report.Success = false
			r.logger().Warn("legacy import failed", "file", path, "task_id", res.TaskID, "error", res.Error)
		} else {
			r.logger().Info("legacy import", "file", path, "task_id", res.TaskID,
				"subtasks", res.SubtasksMigrated, "deleted", res.Deleted)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (r Reconciler) reconcileFile(ctx context.Context, path string, deleteSource bool) DocumentResult {
	res := DocumentResult{File: path}
	fail := func(err error) DocumentResult {
		res.Error = err.Error()
		return res
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	data, err := afero.ReadFile(r.fs(), path)
	if err != nil {
		return fail(fmt.Errorf("read %s: %w", path, err))
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return fail(err)
	}
	res.TaskID = doc.ID

	n, err := r.Apply(ctx, path, doc)
	res.SubtasksMigrated = n
	if err != nil {
		return fail(err)
	}
	res.Success = true
	if deleteSource {
		if err := r.fs().Remove(path); err != nil {
			res.Success = false
			res.Error = fmt.Sprintf("delete %s: %v", path, err)
			return res
		}
		res.Deleted = true
	}
	return res
}

// Apply merges one parsed document into the store and records the audit row.
// It returns the number of subtasks written.
func (r Reconciler) Apply(ctx context.Context, source string, doc Document) (int, error) {
	if _, err := r.Store.GetTask(ctx, doc.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, errors.New(orphanMessage)
		}
		return 0, fmt.Errorf("find task %s: %w", doc.ID, err)
	}

	if err := r.Store.UpdateTaskFromLegacy(ctx, doc.ID, r.taskFields(doc)); err != nil {
		return 0, fmt.Errorf("update task %s: %w", doc.ID, err)
	}

	migrated := 0
	for _, st := range doc.Subtasks {
		if err := r.applySubtask(ctx, doc.ID, st); err != nil {
			return migrated, err
		}
		migrated++
	}

	err := r.Store.AppendLog(ctx, events.Entry{
		Event:      events.LegacyDocumentImported,
		EntityKind: "task",
		EntityID:   doc.ID,
		Operation:  events.OpUpdate,
		Actor:      events.ActorJSONMigration,
		Payload:    events.Payload{"source_file": source, "subtasks_migrated": migrated},
	})
	if err != nil {
		return migrated, fmt.Errorf("audit log for task %s: %w", doc.ID, err)
	}
	return migrated, nil
}

func (r Reconciler) taskFields(doc Document) repo.LegacyTaskFields {
	modifiedAt := r.now().UTC().Format(time.RFC3339)
	if doc.ModifiedAt != nil && *doc.ModifiedAt != "" {
		modifiedAt = *doc.ModifiedAt
	}
	modifiedBy := domain.ModifiedByCLI
	if doc.ModifiedBy != nil && doc.ModifiedBy.Valid() {
		modifiedBy = *doc.ModifiedBy
	}
	aiMeta := doc.AIMetadata
	if len(aiMeta) == 0 {
		aiMeta = json.RawMessage("{}")
	}
	return repo.LegacyTaskFields{
		Complexity:    doc.Complexity,
		Initialized:   doc.Initialized,
		SchemaVersion: doc.SchemaVersion,
		Context:       doc.Context,
		AIMetadata:    aiMeta,
		StartedAt:     doc.Timestamps.StartedAt,
		Status:        doc.Status,
		ModifiedAt:    modifiedAt,
		ModifiedBy:    modifiedBy,
	}
}

func (r Reconciler) applySubtask(ctx context.Context, taskID string, st LegacySubtask) error {
	facts, err := r.facts(ctx, taskID, st.ID)
	if err != nil {
		return err
	}
	decision := Resolve(facts)
	row := st.toDomain(decision.TargetID(taskID, st.ID), taskID)
	switch decision.Resolution {
	case MatchedDirect, MatchedComposite:
		if err := r.Store.UpdateSubtask(ctx, row); err != nil {
			return fmt.Errorf("update subtask %s: %w", row.ID, err)
		}
	case NeedsInsert:
		if err := r.Store.InsertSubtask(ctx, row); err != nil {
			return fmt.Errorf("insert subtask %s: %w", row.ID, err)
		}
	}
	r.logger().Debug("legacy subtask", "task_id", taskID, "subtask_id", st.ID,
		"resolution", decision.Resolution.String(), "row_id", row.ID)
	return nil
}

// facts gathers only the lookups needed to reach a decision.
func (r Reconciler) facts(ctx context.Context, taskID, subtaskID string) (Facts, error) {
	var f Facts
	found, err := exists(r.Store.GetSubtaskForTask(ctx, subtaskID, taskID))
	if err != nil {
		return f, fmt.Errorf("find subtask %s: %w", subtaskID, err)
	}
	if found {
		f.DirectInTask = true
		return f, nil
	}
	composite := CompositeID(taskID, subtaskID)
	found, err = exists(r.Store.GetSubtask(ctx, composite))
	if err != nil {
		return f, fmt.Errorf("find subtask %s: %w", composite, err)
	}
	if found {
		f.CompositeExists = true
		return f, nil
	}
	f.DirectElsewhere, err = exists(r.Store.GetSubtask(ctx, subtaskID))
	if err != nil {
		return f, fmt.Errorf("find subtask %s: %w", subtaskID, err)
	}
	return f, nil
}

func exists(_ domain.Subtask, err error) (bool, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
