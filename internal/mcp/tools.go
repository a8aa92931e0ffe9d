package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/progress"
)

// Handler implements the tool calls.
type Handler struct {
	Engine engine.Engine
	Logger *slog.Logger
	Actor  string
}

func (h *Handler) actor() string {
	if h.Actor == "" {
		return DefaultActor
	}
	return h.Actor
}

type TaskInput struct {
	TaskID string `json:"task_id" jsonschema:"ID of the task"`
}

type ProgressOutput struct {
	TaskID        string `json:"task_id"`
	State         string `json:"state"`
	Label         string `json:"label"`
	Action        string `json:"action"`
	Indicator     string `json:"indicator,omitempty"`
	SubtasksDone  int    `json:"subtasks_done"`
	SubtasksTotal int    `json:"subtasks_total"`
}

func progressOutput(taskID string, s progress.Summary) ProgressOutput {
	return ProgressOutput{
		TaskID:        taskID,
		State:         s.State.String(),
		Label:         s.Label,
		Action:        string(s.Action),
		Indicator:     string(s.Indicator),
		SubtasksDone:  s.SubtasksDone,
		SubtasksTotal: s.SubtasksTotal,
	}
}

func (h *Handler) HandleGetTaskProgress(ctx context.Context, _ *mcp.CallToolRequest, in TaskInput) (*mcp.CallToolResult, ProgressOutput, error) {
	if strings.TrimSpace(in.TaskID) == "" {
		return nil, ProgressOutput{}, fmt.Errorf("task_id is required")
	}
	sum, err := h.Engine.Progress(ctx, in.TaskID)
	if err != nil {
		return nil, ProgressOutput{}, fmt.Errorf("get progress: %w", err)
	}
	return nil, progressOutput(in.TaskID, sum), nil
}

type QuickLinksInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Only list tasks of this project"`
}

type QuickLinkOutput struct {
	TaskID   string         `json:"task_id"`
	Title    string         `json:"title"`
	Progress ProgressOutput `json:"progress"`
}

type QuickLinksOutput struct {
	Links []QuickLinkOutput `json:"links"`
}

func (h *Handler) HandleListQuickLinks(ctx context.Context, _ *mcp.CallToolRequest, in QuickLinksInput) (*mcp.CallToolResult, QuickLinksOutput, error) {
	links, err := h.Engine.QuickLinks(ctx, in.ProjectID)
	if err != nil {
		return nil, QuickLinksOutput{}, fmt.Errorf("list quick links: %w", err)
	}
	out := QuickLinksOutput{Links: make([]QuickLinkOutput, 0, len(links))}
	for _, l := range links {
		out.Links = append(out.Links, QuickLinkOutput{
			TaskID:   l.Task.ID,
			Title:    l.Task.Title,
			Progress: progressOutput(l.Task.ID, l.Progress),
		})
	}
	return nil, out, nil
}

type TaskOutput struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Status              string `json:"status"`
	Substatus           string `json:"substatus,omitempty"`
	StructuringComplete bool   `json:"structuring_complete"`
	Changed             bool   `json:"changed,omitempty"`
}

func taskOutput(t domain.Task) TaskOutput {
	out := TaskOutput{
		ID:                  t.ID,
		Title:               t.Title,
		Status:              string(t.Status),
		StructuringComplete: t.AIMetadata.StructuringComplete,
	}
	if t.Substatus != nil {
		out.Substatus = string(*t.Substatus)
	}
	return out
}

func (h *Handler) HandleMarkStructuringComplete(ctx context.Context, _ *mcp.CallToolRequest, in TaskInput) (*mcp.CallToolResult, TaskOutput, error) {
	h.Logger.Info("mark_structuring_complete", "task_id", in.TaskID)
	t, changed, err := h.Engine.MarkStructuringComplete(ctx, in.TaskID, h.actor())
	if err != nil {
		return nil, TaskOutput{}, fmt.Errorf("mark structuring complete: %w", err)
	}
	out := taskOutput(t)
	out.Changed = changed
	return nil, out, nil
}

type SubstatusInput struct {
	TaskID    string `json:"task_id" jsonschema:"ID of the task"`
	Substatus string `json:"substatus,omitempty" jsonschema:"structuring, executing, awaiting_user or awaiting_review; empty clears"`
}

func (h *Handler) HandleSetSubstatus(ctx context.Context, _ *mcp.CallToolRequest, in SubstatusInput) (*mcp.CallToolResult, TaskOutput, error) {
	h.Logger.Info("set_substatus", "task_id", in.TaskID, "substatus", in.Substatus)
	var sub *domain.Substatus
	if in.Substatus != "" {
		s := domain.Substatus(in.Substatus)
		sub = &s
	}
	t, err := h.Engine.SetSubstatus(ctx, in.TaskID, sub, h.actor())
	if err != nil {
		return nil, TaskOutput{}, fmt.Errorf("set substatus: %w", err)
	}
	return nil, taskOutput(t), nil
}

type AddSubtaskInput struct {
	TaskID             string   `json:"task_id" jsonschema:"ID of the parent task"`
	Title              string   `json:"title" jsonschema:"Short title of the subtask"`
	Description        string   `json:"description,omitempty" jsonschema:"What the subtask involves"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" jsonschema:"Conditions for the subtask to be done"`
	TechnicalNotes     string   `json:"technical_notes,omitempty"`
	PromptContext      string   `json:"prompt_context,omitempty" jsonschema:"Extra context handed to the agent that runs the subtask"`
}

type SubtaskOutput struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Order  int    `json:"order"`
}

func subtaskOutput(s domain.Subtask) SubtaskOutput {
	return SubtaskOutput{ID: s.ID, TaskID: s.TaskID, Title: s.Title, Status: string(s.Status), Order: s.Order}
}

func (h *Handler) HandleAddSubtask(ctx context.Context, _ *mcp.CallToolRequest, in AddSubtaskInput) (*mcp.CallToolResult, SubtaskOutput, error) {
	h.Logger.Info("add_subtask", "task_id", in.TaskID)
	s, err := h.Engine.AddSubtask(ctx, engine.SubtaskCreateOptions{
		TaskID:             in.TaskID,
		Title:              in.Title,
		Description:        in.Description,
		AcceptanceCriteria: in.AcceptanceCriteria,
		TechnicalNotes:     in.TechnicalNotes,
		PromptContext:      in.PromptContext,
		Actor:              h.actor(),
	})
	if err != nil {
		return nil, SubtaskOutput{}, fmt.Errorf("add subtask: %w", err)
	}
	return nil, subtaskOutput(s), nil
}

type SubtaskStatusInput struct {
	TaskID    string `json:"task_id" jsonschema:"ID of the parent task"`
	SubtaskID string `json:"subtask_id" jsonschema:"ID of the subtask"`
	Status    string `json:"status" jsonschema:"pending, in_progress or done"`
}

func (h *Handler) HandleSetSubtaskStatus(ctx context.Context, _ *mcp.CallToolRequest, in SubtaskStatusInput) (*mcp.CallToolResult, SubtaskOutput, error) {
	h.Logger.Info("set_subtask_status", "task_id", in.TaskID, "subtask_id", in.SubtaskID, "status", in.Status)
	s, err := h.Engine.UpdateSubtaskStatus(ctx, in.TaskID, in.SubtaskID, domain.SubtaskStatus(in.Status), h.actor())
	if err != nil {
		return nil, SubtaskOutput{}, fmt.Errorf("set subtask status: %w", err)
	}
	return nil, subtaskOutput(s), nil
}

type StartExecutionInput struct {
	TaskID    string `json:"task_id" jsonschema:"ID of the task"`
	SubtaskID string `json:"subtask_id,omitempty" jsonschema:"Subtask being executed; empty for the whole task"`
}

type ExecutionOutput struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	SubtaskID   string `json:"subtask_id,omitempty"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	HeartbeatAt string `json:"heartbeat_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func executionOutput(x domain.TaskExecution) ExecutionOutput {
	out := ExecutionOutput{
		ID:          x.ID,
		TaskID:      x.TaskID,
		Status:      string(x.Status),
		StartedAt:   x.StartedAt,
		HeartbeatAt: x.HeartbeatAt,
		Error:       x.Error,
	}
	if x.SubtaskID != nil {
		out.SubtaskID = *x.SubtaskID
	}
	if x.FinishedAt != nil {
		out.FinishedAt = *x.FinishedAt
	}
	return out
}

func (h *Handler) HandleStartExecution(ctx context.Context, _ *mcp.CallToolRequest, in StartExecutionInput) (*mcp.CallToolResult, ExecutionOutput, error) {
	h.Logger.Info("start_execution", "task_id", in.TaskID, "subtask_id", in.SubtaskID)
	x, err := h.Engine.StartExecution(ctx, engine.ExecutionStartOptions{
		TaskID:    in.TaskID,
		SubtaskID: in.SubtaskID,
		Actor:     h.actor(),
	})
	if err != nil {
		return nil, ExecutionOutput{}, fmt.Errorf("start execution: %w", err)
	}
	return nil, executionOutput(x), nil
}

type ExecutionInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"ID returned by start_execution"`
}

func (h *Handler) HandleHeartbeatExecution(ctx context.Context, _ *mcp.CallToolRequest, in ExecutionInput) (*mcp.CallToolResult, ExecutionOutput, error) {
	x, err := h.Engine.Heartbeat(ctx, in.ExecutionID)
	if err != nil {
		return nil, ExecutionOutput{}, fmt.Errorf("heartbeat: %w", err)
	}
	return nil, executionOutput(x), nil
}

type FinishExecutionInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"ID returned by start_execution"`
	Status      string `json:"status" jsonschema:"completed or failed"`
	Error       string `json:"error,omitempty" jsonschema:"Failure reason"`
}

func (h *Handler) HandleFinishExecution(ctx context.Context, _ *mcp.CallToolRequest, in FinishExecutionInput) (*mcp.CallToolResult, ExecutionOutput, error) {
	h.Logger.Info("finish_execution", "execution_id", in.ExecutionID, "status", in.Status)
	x, err := h.Engine.FinishExecution(ctx, in.ExecutionID, domain.ExecutionStatus(in.Status), in.Error, h.actor())
	if err != nil {
		return nil, ExecutionOutput{}, fmt.Errorf("finish execution: %w", err)
	}
	return nil, executionOutput(x), nil
}

type PrepareTerminalInput struct {
	TaskID    string `json:"task_id" jsonschema:"ID of the task"`
	SubtaskID string `json:"subtask_id,omitempty" jsonschema:"Subtask about to run; empty for the whole task"`
}

type PrepareTerminalOutput struct {
	SessionName  string `json:"session_name"`
	ResetContext bool   `json:"reset_context"`
	Created      bool   `json:"created"`
}

func (h *Handler) HandlePrepareTerminal(ctx context.Context, _ *mcp.CallToolRequest, in PrepareTerminalInput) (*mcp.CallToolResult, PrepareTerminalOutput, error) {
	h.Logger.Info("prepare_terminal", "task_id", in.TaskID, "subtask_id", in.SubtaskID)
	prep, err := h.Engine.PrepareTerminal(ctx, in.TaskID, in.SubtaskID, h.actor())
	if err != nil {
		return nil, PrepareTerminalOutput{}, fmt.Errorf("prepare terminal: %w", err)
	}
	return nil, PrepareTerminalOutput{
		SessionName:  prep.Terminal.SessionName,
		ResetContext: prep.ResetContext,
		Created:      prep.Created,
	}, nil
}
