package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"workopilot/internal/domain"
	"workopilot/internal/events"
	"workopilot/internal/repo"
)

// DefaultSessionName derives a terminal session name from a task id.
func DefaultSessionName(taskID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, taskID)
	if len(id) > 8 {
		id = id[:8]
	}
	return "wp-" + id
}

// BindTerminal attaches a task to a terminal session. Rebinding to a
// different session forgets the last subtask run there.
func (e Engine) BindTerminal(ctx context.Context, taskID, sessionName, actor string) (domain.TaskTerminal, error) {
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		sessionName = DefaultSessionName(taskID)
	}
	var term domain.TaskTerminal
	err := e.withTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetTask(ctx, taskID); err != nil {
			return err
		}
		prev, err := r.GetTerminal(ctx, taskID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		term = domain.TaskTerminal{TaskID: taskID, SessionName: sessionName, UpdatedAt: e.timestamp()}
		if err == nil && prev.SessionName == sessionName {
			term.LastSubtaskID = prev.LastSubtaskID
		}
		if err := r.UpsertTerminal(ctx, term); err != nil {
			return err
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.TerminalBound, EntityKind: "task", EntityID: taskID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"session_name": sessionName},
		})
	})
	return term, err
}

func (e Engine) GetTerminal(ctx context.Context, taskID string) (domain.TaskTerminal, error) {
	return e.Repo.GetTerminal(ctx, taskID)
}

// TerminalPrep is the result of PrepareTerminal.
type TerminalPrep struct {
	Terminal domain.TaskTerminal `json:"terminal"`
	// ResetContext is true when a different subtask, or the whole task, last
	// ran in this session.
	ResetContext bool `json:"reset_context"`
	Created      bool `json:"created"`
}

// PrepareTerminal is called before running subtaskID (empty for the whole
// task) in the task's session. It binds a default session when none exists
// and records subtaskID as the last one run.
func (e Engine) PrepareTerminal(ctx context.Context, taskID, subtaskID, actor string) (TerminalPrep, error) {
	var prep TerminalPrep
	err := e.withTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetTask(ctx, taskID); err != nil {
			return err
		}
		if subtaskID != "" {
			if _, err := r.GetSubtaskForTask(ctx, subtaskID, taskID); err != nil {
				return fmt.Errorf("subtask %s: %w", subtaskID, err)
			}
		}
		term, err := r.GetTerminal(ctx, taskID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			term = domain.TaskTerminal{TaskID: taskID, SessionName: DefaultSessionName(taskID)}
			prep.Created = true
		case err != nil:
			return err
		default:
			prep.ResetContext = term.LastSubtaskID != nil && *term.LastSubtaskID != subtaskID
		}
		term.LastSubtaskID = optionalString(subtaskID)
		term.UpdatedAt = e.timestamp()
		if err := r.UpsertTerminal(ctx, term); err != nil {
			return err
		}
		prep.Terminal = term
		return r.AppendLog(ctx, events.Entry{
			Event: events.TerminalPrepared, EntityKind: "task", EntityID: taskID,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"session_name": term.SessionName, "subtask_id": subtaskID, "reset_context": prep.ResetContext},
		})
	})
	return prep, err
}
