package server

import (
	"encoding/json"

	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/progress"
)

// Request payloads

type CreateProjectRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name" minLength:"1"`
	Path *string `json:"path,omitempty"`
}

type CreateTaskRequest struct {
	ID                 *string  `json:"id,omitempty"`
	ProjectID          *string  `json:"project_id,omitempty"`
	Title              string   `json:"title" minLength:"1"`
	Priority           *int     `json:"priority,omitempty"`
	Category           *string  `json:"category,omitempty"`
	Complexity         *string  `json:"complexity,omitempty" enum:"simple,medium,complex"`
	Description        *string  `json:"description,omitempty"`
	BusinessRules      []string `json:"business_rules,omitempty"`
	TechnicalNotes     *string  `json:"technical_notes,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ScheduledDate      *string  `json:"scheduled_date,omitempty"`
	DueDate            *string  `json:"due_date,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,active,in_progress,done"`
}

type SetSubstatusRequest struct {
	// Substatus null or absent clears it.
	Substatus *string `json:"substatus,omitempty" nullable:"true" enum:"structuring,executing,awaiting_user,awaiting_review"`
}

type CreateSubtaskRequest struct {
	ID                 *string  `json:"id,omitempty"`
	Title              string   `json:"title" minLength:"1"`
	Description        *string  `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	TechnicalNotes     *string  `json:"technical_notes,omitempty"`
	PromptContext      *string  `json:"prompt_context,omitempty"`
}

type SetSubtaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,done"`
}

type ReorderSubtasksRequest struct {
	IDs []string `json:"ids"`
}

type StartExecutionRequest struct {
	SubtaskID *string `json:"subtask_id,omitempty"`
}

type FinishExecutionRequest struct {
	Status string  `json:"status" enum:"completed,failed"`
	Error  *string `json:"error,omitempty"`
}

type CleanupExecutionsRequest struct {
	// OlderThanSeconds falls back to executions.stale_after when zero.
	OlderThanSeconds int `json:"older_than_seconds,omitempty" minimum:"0"`
}

type BindTerminalRequest struct {
	SessionName string `json:"session_name"`
}

type PrepareTerminalRequest struct {
	SubtaskID *string `json:"subtask_id,omitempty"`
}

type ImportLegacyRequest struct {
	ProjectID *string `json:"project_id,omitempty"`
	// DeleteSource overrides legacy.delete_after_import.
	DeleteSource *bool `json:"delete_source,omitempty"`
}

// Response payloads

type ProgressResponse struct {
	TaskID        string `json:"task_id"`
	State         string `json:"state" enum:"idle,ready-to-start,in-execution,ai-working,needs-review,ready-to-review,ready-to-commit,started,done"`
	Label         string `json:"label"`
	Action        string `json:"action" enum:"execute_all,execute_first_subtask,review,focus_terminal,commit,none"`
	Indicator     string `json:"indicator,omitempty"`
	SubtasksDone  int    `json:"subtasks_done"`
	SubtasksTotal int    `json:"subtasks_total"`
}

type QuickLinkResponse struct {
	Task     domain.Task      `json:"task"`
	Progress ProgressResponse `json:"progress"`
}

type TerminalPrepResponse struct {
	Terminal     domain.TaskTerminal `json:"terminal"`
	ResetContext bool                `json:"reset_context"`
	Created      bool                `json:"created"`
}

type LogResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Event      string         `json:"event"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Operation  string         `json:"operation" enum:"create,update,delete"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload"`
}

type StatusResponse struct {
	ProjectID         string         `json:"project_id,omitempty"`
	TaskCounts        map[string]int `json:"task_counts"`
	RunningExecutions int            `json:"running_executions"`
}

func progressResponse(taskID string, s progress.Summary) ProgressResponse {
	return ProgressResponse{
		TaskID:        taskID,
		State:         s.State.String(),
		Label:         s.Label,
		Action:        string(s.Action),
		Indicator:     string(s.Indicator),
		SubtasksDone:  s.SubtasksDone,
		SubtasksTotal: s.SubtasksTotal,
	}
}

func quickLinkResponses(links []engine.QuickLink) []QuickLinkResponse {
	out := make([]QuickLinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, QuickLinkResponse{Task: l.Task, Progress: progressResponse(l.Task.ID, l.Progress)})
	}
	return out
}

func logResponse(e domain.LogEntry) LogResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = map[string]any{"raw": e.Payload}
		}
	}
	return LogResponse{
		ID:         e.ID,
		TS:         e.TS,
		Event:      e.Event,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Operation:  e.Operation,
		Actor:      e.Actor,
		Payload:    payload,
	}
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
