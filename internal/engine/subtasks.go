package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"workopilot/internal/domain"
	"workopilot/internal/events"
	"workopilot/internal/repo"
)

// SubtaskCreateOptions are parameters for adding a subtask.
type SubtaskCreateOptions struct {
	ID                 string
	TaskID             string
	Title              string
	Description        string
	AcceptanceCriteria []string
	TechnicalNotes     string
	PromptContext      string
	Actor              string
}

// AddSubtask appends a pending subtask after the last one of its task.
func (e Engine) AddSubtask(ctx context.Context, opts SubtaskCreateOptions) (domain.Subtask, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Subtask{}, validationf("subtask title is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := domain.Subtask{
		ID:                 id,
		TaskID:             opts.TaskID,
		Title:              title,
		Status:             domain.SubtaskPending,
		Description:        opts.Description,
		AcceptanceCriteria: opts.AcceptanceCriteria,
		TechnicalNotes:     opts.TechnicalNotes,
		PromptContext:      opts.PromptContext,
	}
	err := e.withTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetTask(ctx, opts.TaskID); err != nil {
			return fmt.Errorf("task %s: %w", opts.TaskID, err)
		}
		order, err := r.NextSubtaskOrder(ctx, opts.TaskID)
		if err != nil {
			return err
		}
		s.Order = order
		if err := r.InsertSubtask(ctx, s); err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.SubtaskCreated, EntityKind: "subtask", EntityID: s.ID,
			Operation: events.OpCreate, Actor: opts.Actor,
			Payload: events.Payload{"task_id": s.TaskID, "title": s.Title, "order": s.Order},
		})
	})
	if err != nil {
		return domain.Subtask{}, err
	}
	return s, nil
}

// UpdateSubtaskStatus sets the status of a subtask of taskID. Moving to done
// stamps completed_at; any other status clears it.
func (e Engine) UpdateSubtaskStatus(ctx context.Context, taskID, subtaskID string, status domain.SubtaskStatus, actor string) (domain.Subtask, error) {
	if !status.Valid() {
		return domain.Subtask{}, validationf("unknown subtask status %q", status)
	}
	var s domain.Subtask
	err := e.withTx(ctx, func(r repo.Repo) error {
		var err error
		s, err = r.GetSubtaskForTask(ctx, subtaskID, taskID)
		if err != nil {
			return err
		}
		if s.Status == status {
			return nil
		}
		from := s.Status
		s.Status = status
		if status == domain.SubtaskDone {
			now := e.timestamp()
			s.CompletedAt = &now
		} else {
			s.CompletedAt = nil
		}
		if err := r.UpdateSubtask(ctx, s); err != nil {
			return err
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.SubtaskUpdated, EntityKind: "subtask", EntityID: s.ID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"task_id": taskID, "from": from, "to": status},
		})
	})
	return s, err
}

// ReorderSubtasks rewrites the order of a task's subtasks to 0..n-1 following
// ids. ids must name every subtask of the task exactly once.
func (e Engine) ReorderSubtasks(ctx context.Context, taskID string, ids []string, actor string) ([]domain.Subtask, error) {
	var out []domain.Subtask
	err := e.withTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetTask(ctx, taskID); err != nil {
			return err
		}
		current, err := r.ListSubtasks(ctx, taskID)
		if err != nil {
			return err
		}
		owned := make(map[string]bool, len(current))
		for _, s := range current {
			owned[s.ID] = true
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if !owned[id] {
				return validationf("subtask %s does not belong to task %s", id, taskID)
			}
			if seen[id] {
				return validationf("subtask %s listed twice", id)
			}
			seen[id] = true
		}
		if len(ids) != len(current) {
			return validationf("reorder lists %d of %d subtasks", len(ids), len(current))
		}
		for i, id := range ids {
			if err := r.SetSubtaskOrder(ctx, id, i); err != nil {
				return err
			}
		}
		if err := r.AppendLog(ctx, events.Entry{
			Event: events.SubtasksReordered, EntityKind: "task", EntityID: taskID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"order": ids},
		}); err != nil {
			return err
		}
		out, err = r.ListSubtasks(ctx, taskID)
		return err
	})
	return out, err
}
