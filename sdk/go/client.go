package workopilotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ActorHeader names the caller recorded on writes.
const ActorHeader = "X-Workopilot-Actor"

// Client is a minimal WorkoPilot HTTP API client.
type Client struct {
	BaseURL string
	// Actor is sent on every request; the server defaults to "ai".
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actor string) *Client {
	return &Client{
		BaseURL: baseURL,
		Actor:   actor,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  *string `json:"project_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Substatus  *string `json:"substatus,omitempty"`
	ModifiedAt string  `json:"modified_at"`
	ModifiedBy string  `json:"modified_by"`
	AIMetadata struct {
		StructuringComplete bool `json:"structuring_complete"`
	} `json:"ai_metadata"`
}

// Subtask represents a step of a task.
type Subtask struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Order  int    `json:"order"`
}

// Progress is the derived progress state of a task.
type Progress struct {
	TaskID        string `json:"task_id"`
	State         string `json:"state"`
	Label         string `json:"label"`
	Action        string `json:"action"`
	Indicator     string `json:"indicator,omitempty"`
	SubtasksDone  int    `json:"subtasks_done"`
	SubtasksTotal int    `json:"subtasks_total"`
}

// QuickLink is an open task with a suggested next action.
type QuickLink struct {
	Task     Task     `json:"task"`
	Progress Progress `json:"progress"`
}

// Execution is one run of a task or subtask.
type Execution struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	SubtaskID   *string `json:"subtask_id,omitempty"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	HeartbeatAt string  `json:"heartbeat_at"`
	FinishedAt  *string `json:"finished_at,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// TerminalPrep reports the session to run in and whether to reset context.
type TerminalPrep struct {
	Terminal struct {
		TaskID        string  `json:"task_id"`
		SessionName   string  `json:"session_name"`
		LastSubtaskID *string `json:"last_subtask_id,omitempty"`
	} `json:"terminal"`
	ResetContext bool `json:"reset_context"`
	Created      bool `json:"created"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Event      string         `json:"event"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Operation  string         `json:"operation"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload"`
}

// ImportReport is the outcome of a legacy import.
type ImportReport struct {
	Success bool `json:"success"`
	Results []struct {
		File             string `json:"file"`
		TaskID           string `json:"task_id,omitempty"`
		Success          bool   `json:"success"`
		SubtasksMigrated int    `json:"subtasks_migrated"`
		Deleted          bool   `json:"deleted"`
		Error            string `json:"error,omitempty"`
	} `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsExecutionRunning reports whether err is the conflict returned when a task
// already has a running execution.
func IsExecutionRunning(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "execution_running"
}

// CreateTask creates a task, optionally within a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	if projectID != "" {
		body["project_id"] = projectID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// AddSubtask appends a subtask to a task.
func (c *Client) AddSubtask(ctx context.Context, taskID, title string) (Subtask, error) {
	var resp Subtask
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "subtasks"), map[string]any{"title": title}, &resp)
	return resp, err
}

// SetSubtaskStatus sets a subtask to pending, in_progress or done.
func (c *Client) SetSubtaskStatus(ctx context.Context, taskID, subtaskID, status string) (Subtask, error) {
	var resp Subtask
	endpoint := c.taskPath(taskID, "subtasks/"+url.PathEscape(subtaskID)+"/status")
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// SetSubstatus sets the substatus of a task; an empty value clears it.
func (c *Client) SetSubstatus(ctx context.Context, taskID, substatus string) (Task, error) {
	body := map[string]any{}
	if substatus != "" {
		body["substatus"] = substatus
	}
	var resp Task
	err := c.do(ctx, http.MethodPut, c.taskPath(taskID, "substatus"), body, &resp)
	return resp, err
}

// MarkStructuringComplete flags the task as broken down. changed is false
// when it already was.
func (c *Client) MarkStructuringComplete(ctx context.Context, taskID string) (task Task, changed bool, err error) {
	var resp struct {
		Task    Task `json:"task"`
		Changed bool `json:"changed"`
	}
	err = c.do(ctx, http.MethodPost, c.taskPath(taskID, "structuring-complete"), nil, &resp)
	return resp.Task, resp.Changed, err
}

// Progress returns the derived progress state of a task.
func (c *Client) Progress(ctx context.Context, taskID string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "progress"), nil, &resp)
	return resp, err
}

// QuickLinks lists open tasks with a suggested action.
func (c *Client) QuickLinks(ctx context.Context, projectID string) ([]QuickLink, error) {
	endpoint := "quick-links"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	var resp []QuickLink
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartExecution starts an execution of a task, or of one subtask when
// subtaskID is set.
func (c *Client) StartExecution(ctx context.Context, taskID, subtaskID string) (Execution, error) {
	var body any
	if subtaskID != "" {
		body = map[string]any{"subtask_id": subtaskID}
	}
	var resp Execution
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "executions"), body, &resp)
	return resp, err
}

// Heartbeat refreshes a running execution.
func (c *Client) Heartbeat(ctx context.Context, executionID string) (Execution, error) {
	var resp Execution
	err := c.do(ctx, http.MethodPost, "executions/"+url.PathEscape(executionID)+"/heartbeat", nil, &resp)
	return resp, err
}

// FinishExecution finishes a running execution as completed or failed.
func (c *Client) FinishExecution(ctx context.Context, executionID, status, errMsg string) (Execution, error) {
	body := map[string]any{"status": status}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var resp Execution
	err := c.do(ctx, http.MethodPost, "executions/"+url.PathEscape(executionID)+"/finish", body, &resp)
	return resp, err
}

// PrepareTerminal readies the task's session before running subtaskID.
func (c *Client) PrepareTerminal(ctx context.Context, taskID, subtaskID string) (TerminalPrep, error) {
	var body any
	if subtaskID != "" {
		body = map[string]any{"subtask_id": subtaskID}
	}
	var resp TerminalPrep
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "terminal/prepare"), body, &resp)
	return resp, err
}

// ImportLegacy imports legacy task documents of one project, or of all
// projects when projectID is empty.
func (c *Client) ImportLegacy(ctx context.Context, projectID string, deleteSource bool) (ImportReport, error) {
	body := map[string]any{"delete_source": deleteSource}
	if projectID != "" {
		body["project_id"] = projectID
	}
	var resp ImportReport
	err := c.do(ctx, http.MethodPost, "legacy/import", body, &resp)
	return resp, err
}

// Events returns recent audit entries, newest first, optionally of one event type.
func (c *Client) Events(ctx context.Context, event string, limit int) ([]Event, error) {
	q := url.Values{}
	if event != "" {
		q.Set("event", event)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "logs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Actor != "" {
		req.Header.Set(ActorHeader, c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) taskPath(taskID, p string) string {
	return fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
