package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workopilot/internal/config"
	"workopilot/internal/db"
	"workopilot/internal/engine"
	"workopilot/internal/migrate"
	"workopilot/internal/repo"
)

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return eng
}

func newTestHandler(t *testing.T) *Handler {
	return &Handler{Engine: newTestEngine(t), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestHandlerExecutionLifecycle(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	task, err := h.Engine.CreateTask(ctx, engine.TaskCreateOptions{Title: "Wire sidecar", Actor: "user"})
	require.NoError(t, err)

	_, sub, err := h.HandleAddSubtask(ctx, nil, AddSubtaskInput{TaskID: task.ID, Title: "first"})
	require.NoError(t, err)
	assert.Equal(t, "pending", sub.Status)

	_, marked, err := h.HandleMarkStructuringComplete(ctx, nil, TaskInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.True(t, marked.Changed)
	assert.True(t, marked.StructuringComplete)

	_, prog, err := h.HandleGetTaskProgress(ctx, nil, TaskInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, "ready-to-start", prog.State)
	assert.Equal(t, "execute_all", prog.Action)

	_, links, err := h.HandleListQuickLinks(ctx, nil, QuickLinksInput{})
	require.NoError(t, err)
	require.Len(t, links.Links, 1)
	assert.Equal(t, task.ID, links.Links[0].TaskID)

	_, prep, err := h.HandlePrepareTerminal(ctx, nil, PrepareTerminalInput{TaskID: task.ID, SubtaskID: sub.ID})
	require.NoError(t, err)
	assert.True(t, prep.Created)
	assert.Equal(t, engine.DefaultSessionName(task.ID), prep.SessionName)

	_, exec, err := h.HandleStartExecution(ctx, nil, StartExecutionInput{TaskID: task.ID, SubtaskID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, "running", exec.Status)
	assert.Equal(t, sub.ID, exec.SubtaskID)

	_, _, err = h.HandleStartExecution(ctx, nil, StartExecutionInput{TaskID: task.ID})
	require.ErrorIs(t, err, engine.ErrExecutionRunning)

	_, prog, err = h.HandleGetTaskProgress(ctx, nil, TaskInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, "in-execution", prog.State)
	assert.Equal(t, "spinner", prog.Indicator)

	_, _, err = h.HandleHeartbeatExecution(ctx, nil, ExecutionInput{ExecutionID: exec.ID})
	require.NoError(t, err)

	_, _, err = h.HandleFinishExecution(ctx, nil, FinishExecutionInput{ExecutionID: exec.ID, Status: "stale"})
	require.ErrorIs(t, err, engine.ErrValidation)
	_, done, err := h.HandleFinishExecution(ctx, nil, FinishExecutionInput{ExecutionID: exec.ID, Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "completed", done.Status)
	assert.NotEmpty(t, done.FinishedAt)

	_, _, err = h.HandleSetSubtaskStatus(ctx, nil, SubtaskStatusInput{TaskID: task.ID, SubtaskID: sub.ID, Status: "done"})
	require.NoError(t, err)
	_, prog, err = h.HandleGetTaskProgress(ctx, nil, TaskInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, "ready-to-commit", prog.State)

	logs, err := h.Engine.Repo.LatestLogs(ctx, repo.LogFilters{EntityID: exec.ID, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	for _, l := range logs {
		assert.Equal(t, DefaultActor, l.Actor)
	}
}

func TestHandlerSubstatus(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	task, err := h.Engine.CreateTask(ctx, engine.TaskCreateOptions{Title: "Review"})
	require.NoError(t, err)

	_, out, err := h.HandleSetSubstatus(ctx, nil, SubstatusInput{TaskID: task.ID, Substatus: "awaiting_review"})
	require.NoError(t, err)
	assert.Equal(t, "awaiting_review", out.Substatus)

	_, prog, err := h.HandleGetTaskProgress(ctx, nil, TaskInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, "ready-to-review", prog.State)

	_, out, err = h.HandleSetSubstatus(ctx, nil, SubstatusInput{TaskID: task.ID})
	require.NoError(t, err)
	assert.Empty(t, out.Substatus)

	_, _, err = h.HandleSetSubstatus(ctx, nil, SubstatusInput{TaskID: task.ID, Substatus: "sleeping"})
	require.ErrorIs(t, err, engine.ErrValidation)

	_, _, err = h.HandleGetTaskProgress(ctx, nil, TaskInput{})
	require.Error(t, err)
	_, _, err = h.HandleGetTaskProgress(ctx, nil, TaskInput{TaskID: "missing"})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestServerOverInMemoryTransport(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task, err := eng.CreateTask(ctx, engine.TaskCreateOptions{Title: "Remote"})
	require.NoError(t, err)

	s := NewServer(eng, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"get_task_progress", "list_quick_links", "start_execution", "heartbeat_execution", "finish_execution", "set_substatus", "prepare_terminal"} {
		assert.True(t, names[want], want)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_task_progress",
		Arguments: map[string]any{"task_id": task.ID},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	structured, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "idle", structured["state"])

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_task_progress",
		Arguments: map[string]any{"task_id": "missing"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
