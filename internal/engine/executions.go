package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workopilot/internal/domain"
	"workopilot/internal/events"
	"workopilot/internal/repo"
)

const staleErrorMessage = "heartbeat timeout"

// ExecutionStartOptions are parameters for starting an execution.
type ExecutionStartOptions struct {
	TaskID    string
	SubtaskID string
	Actor     string
}

// StartExecution records a running execution for a task or one of its
// subtasks. A task has at most one running execution.
func (e Engine) StartExecution(ctx context.Context, opts ExecutionStartOptions) (domain.TaskExecution, error) {
	now := e.timestamp()
	x := domain.TaskExecution{
		ID:          uuid.NewString(),
		TaskID:      opts.TaskID,
		SubtaskID:   optionalString(opts.SubtaskID),
		Status:      domain.ExecutionRunning,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	err := e.withTx(ctx, func(r repo.Repo) error {
		t, err := r.GetTask(ctx, opts.TaskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", opts.TaskID, err)
		}
		if t.Status == domain.TaskDone {
			return fmt.Errorf("%w: task %s is done", ErrInvalidTransition, t.ID)
		}
		if opts.SubtaskID != "" {
			if _, err := r.GetSubtaskForTask(ctx, opts.SubtaskID, opts.TaskID); err != nil {
				return fmt.Errorf("subtask %s: %w", opts.SubtaskID, err)
			}
		}
		running, err := r.RunningExecution(ctx, opts.TaskID)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrExecutionRunning, running.ID)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.InsertExecution(ctx, x); err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		return r.AppendLog(ctx, events.Entry{
			Event: events.ExecutionStarted, EntityKind: "execution", EntityID: x.ID,
			Operation: events.OpCreate, Actor: opts.Actor,
			Payload: events.Payload{"task_id": x.TaskID, "subtask_id": opts.SubtaskID},
		})
	})
	if err != nil {
		return domain.TaskExecution{}, err
	}
	e.logger().Debug("execution started", "execution_id", x.ID, "task_id", x.TaskID)
	return x, nil
}

// Heartbeat refreshes a running execution. Heartbeats are not audited.
func (e Engine) Heartbeat(ctx context.Context, id string) (domain.TaskExecution, error) {
	if err := e.Repo.TouchExecution(ctx, id, e.timestamp()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.notRunning(ctx, id)
		}
		return domain.TaskExecution{}, err
	}
	return e.Repo.GetExecution(ctx, id)
}

// notRunning tells a missing execution apart from a finished one.
func (e Engine) notRunning(ctx context.Context, id string) (domain.TaskExecution, error) {
	x, err := e.Repo.GetExecution(ctx, id)
	if err != nil {
		return x, err
	}
	return x, fmt.Errorf("%w: execution %s is %s", ErrInvalidTransition, id, x.Status)
}

// FinishExecution closes a running execution as completed or failed.
func (e Engine) FinishExecution(ctx context.Context, id string, status domain.ExecutionStatus, errMsg, actor string) (domain.TaskExecution, error) {
	if status != domain.ExecutionCompleted && status != domain.ExecutionFailed {
		return domain.TaskExecution{}, validationf("finish status must be completed or failed, got %q", status)
	}
	var x domain.TaskExecution
	err := e.withTx(ctx, func(r repo.Repo) error {
		var err error
		x, err = r.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if x.Status != domain.ExecutionRunning {
			return fmt.Errorf("%w: execution %s is %s", ErrInvalidTransition, id, x.Status)
		}
		now := e.timestamp()
		if err := r.FinishExecution(ctx, id, status, now, errMsg); err != nil {
			return err
		}
		x.Status = status
		x.FinishedAt = &now
		x.Error = errMsg
		return r.AppendLog(ctx, events.Entry{
			Event: events.ExecutionFinished, EntityKind: "execution", EntityID: id,
			Operation: events.OpUpdate, Actor: actor,
			Payload: events.Payload{"task_id": x.TaskID, "status": status, "error": errMsg},
		})
	})
	return x, err
}

// RunningExecution returns the running execution of a task, or nil.
func (e Engine) RunningExecution(ctx context.Context, taskID string) (*domain.TaskExecution, error) {
	x, err := e.Repo.RunningExecution(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (e Engine) ListExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error) {
	return e.Repo.ListExecutions(ctx, taskID)
}

// CleanupStaleExecutions marks every running execution whose last heartbeat
// is older than olderThan as stale. A non-positive olderThan falls back to
// executions.stale_after.
func (e Engine) CleanupStaleExecutions(ctx context.Context, olderThan time.Duration) ([]domain.TaskExecution, error) {
	if olderThan <= 0 {
		olderThan = e.Config.Executions.StaleAfter
	}
	now := e.now().UTC()
	cutoff := now.Add(-olderThan).Format(time.RFC3339)
	finishedAt := now.Format(time.RFC3339)
	var swept []domain.TaskExecution
	err := e.withTx(ctx, func(r repo.Repo) error {
		stale, err := r.StaleExecutions(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, x := range stale {
			if err := r.FinishExecution(ctx, x.ID, domain.ExecutionStale, finishedAt, staleErrorMessage); err != nil {
				return fmt.Errorf("mark execution %s stale: %w", x.ID, err)
			}
			if err := r.AppendLog(ctx, events.Entry{
				Event: events.ExecutionStale, EntityKind: "execution", EntityID: x.ID,
				Operation: events.OpUpdate, Actor: events.ActorSystem,
				Payload: events.Payload{"task_id": x.TaskID, "heartbeat_at": x.HeartbeatAt},
			}); err != nil {
				return err
			}
			x.Status = domain.ExecutionStale
			x.FinishedAt = &finishedAt
			x.Error = staleErrorMessage
			swept = append(swept, x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(swept) > 0 {
		e.logger().Info("stale executions cleaned up", "count", len(swept), "older_than", olderThan.String())
	}
	return swept, nil
}

// RunStaleSweep calls CleanupStaleExecutions every executions.sweep_interval
// until ctx is done. A zero interval disables the sweep.
func (e Engine) RunStaleSweep(ctx context.Context) {
	interval := e.Config.Executions.SweepInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.CleanupStaleExecutions(ctx, 0); err != nil && ctx.Err() == nil {
			e.logger().Error("stale sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
