package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workopilot/internal/config"
	"workopilot/internal/db"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/events"
	"workopilot/internal/migrate"
	"workopilot/internal/progress"
	"workopilot/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	clock   *time.Time
}

// advance moves the fixed clock forward.
func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return clock }
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Demo", Path: "/work/demo", Actor: "cli"})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Project: p, clock: &clock}
}

func (env testEnv) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: env.Project.ID, Title: title, Actor: "user"})
	require.NoError(t, err)
	return task
}

func (env testEnv) eventCount(t *testing.T, event string) int {
	t.Helper()
	logs, err := env.Engine.Repo.LatestLogs(env.Ctx, repo.LogFilters{Event: event, Limit: 1000})
	require.NoError(t, err)
	return len(logs)
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:     env.Project.ID,
		Title:         "  Write docs ",
		Complexity:    "simple",
		BusinessRules: []string{"keep it short"},
		Actor:         "ai",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Write docs", task.Title)
	assert.Equal(t, domain.TaskPending, task.Status)
	require.NotNil(t, task.ProjectID)
	assert.Equal(t, env.Project.ID, *task.ProjectID)
	require.NotNil(t, task.Complexity)
	assert.Equal(t, domain.ComplexitySimple, *task.Complexity)
	assert.Equal(t, []string{"keep it short"}, task.Context.BusinessRules)
	assert.Equal(t, domain.ModifiedByAI, task.ModifiedBy)
	assert.Equal(t, "2024-01-01T00:00:00Z", task.Timestamps.CreatedAt)
	assert.Equal(t, 1, env.eventCount(t, events.TaskCreated))

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: " "})
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Complexity: "huge"})
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", ProjectID: "nope"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTaskStatusTimestamps(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Do work")

	env.advance(time.Hour)
	task, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskInProgress, "user")
	require.NoError(t, err)
	require.NotNil(t, task.Timestamps.StartedAt)
	assert.Equal(t, "2024-01-01T01:00:00Z", *task.Timestamps.StartedAt)

	env.advance(time.Hour)
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskDone, "user")
	require.NoError(t, err)
	require.NotNil(t, task.Timestamps.CompletedAt)
	assert.Equal(t, "2024-01-01T02:00:00Z", *task.Timestamps.CompletedAt)

	task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskActive, "user")
	require.NoError(t, err)
	assert.Nil(t, task.Timestamps.CompletedAt, "reopen clears completed_at")
	assert.Equal(t, "2024-01-01T01:00:00Z", *task.Timestamps.StartedAt, "started_at is kept")

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskActive, stored.Status)
	assert.Equal(t, 3, env.eventCount(t, events.TaskStatusChanged))

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "review", "user")
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, "missing", domain.TaskDone, "user")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSubstatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Structure me")
	sub := domain.SubstatusAwaitingUser
	task, err := env.Engine.SetSubstatus(env.Ctx, task.ID, &sub, "ai")
	require.NoError(t, err)
	require.NotNil(t, task.Substatus)
	assert.Equal(t, sub, *task.Substatus)

	task, err = env.Engine.SetSubstatus(env.Ctx, task.ID, nil, "ai")
	require.NoError(t, err)
	assert.Nil(t, task.Substatus)

	bad := domain.Substatus("sleeping")
	_, err = env.Engine.SetSubstatus(env.Ctx, task.ID, &bad, "ai")
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskDone, "user")
	require.NoError(t, err)
	_, err = env.Engine.SetSubstatus(env.Ctx, task.ID, &sub, "ai")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestMarkStructuringCompleteNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Plan")
	structuring := domain.SubstatusStructuring
	_, err := env.Engine.SetSubstatus(env.Ctx, task.ID, &structuring, "ai")
	require.NoError(t, err)

	task, changed, err := env.Engine.MarkStructuringComplete(env.Ctx, task.ID, "ai")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, task.AIMetadata.StructuringComplete)
	assert.True(t, task.Initialized)
	assert.Nil(t, task.Substatus, "structuring substatus cleared")

	_, changed, err = env.Engine.MarkStructuringComplete(env.Ctx, task.ID, "ai")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, env.eventCount(t, events.TaskStructuringComplete))
}

func TestSubtasksOrderAndStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Parent")
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		s, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: title, Actor: "ai"})
		require.NoError(t, err)
		assert.Equal(t, len(ids), s.Order)
		assert.Equal(t, domain.SubtaskPending, s.Status)
		ids = append(ids, s.ID)
	}

	s, err := env.Engine.UpdateSubtaskStatus(env.Ctx, task.ID, ids[0], domain.SubtaskDone, "ai")
	require.NoError(t, err)
	require.NotNil(t, s.CompletedAt)
	s, err = env.Engine.UpdateSubtaskStatus(env.Ctx, task.ID, ids[0], domain.SubtaskInProgress, "ai")
	require.NoError(t, err)
	assert.Nil(t, s.CompletedAt)

	other := env.createTask(t, "Other")
	_, err = env.Engine.UpdateSubtaskStatus(env.Ctx, other.ID, ids[0], domain.SubtaskDone, "ai")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	reordered, err := env.Engine.ReorderSubtasks(env.Ctx, task.ID, []string{ids[2], ids[0], ids[1]}, "user")
	require.NoError(t, err)
	require.Len(t, reordered, 3)
	for i, s := range reordered {
		assert.Equal(t, i, s.Order)
	}
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, []string{reordered[0].ID, reordered[1].ID, reordered[2].ID})

	// next append goes after the dense range
	d, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "d"})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Order)
}

func TestReorderRejectsForeignAndPartialLists(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Parent")
	other := env.createTask(t, "Other")
	a, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "a"})
	require.NoError(t, err)
	b, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "b"})
	require.NoError(t, err)
	foreign, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: other.ID, Title: "x"})
	require.NoError(t, err)

	_, err = env.Engine.ReorderSubtasks(env.Ctx, task.ID, []string{b.ID, foreign.ID}, "user")
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.ReorderSubtasks(env.Ctx, task.ID, []string{b.ID}, "user")
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.ReorderSubtasks(env.Ctx, task.ID, []string{a.ID, a.ID}, "user")
	assert.ErrorIs(t, err, engine.ErrValidation)

	full, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, full.Subtasks[0].ID, "failed reorder leaves order untouched")
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Doomed")
	s, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "a"})
	require.NoError(t, err)
	_, err = env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID})
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteTask(env.Ctx, task.ID, "user"))
	_, err = env.Engine.Repo.GetSubtask(env.Ctx, s.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	execs, err := env.Engine.ListExecutions(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.ErrorIs(t, env.Engine.DeleteTask(env.Ctx, task.ID, "user"), repo.ErrNotFound)
}

func TestExecutionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Run")
	s, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "step"})
	require.NoError(t, err)

	x, err := env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID, SubtaskID: s.ID, Actor: "ai"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, x.Status)

	_, err = env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID})
	assert.ErrorIs(t, err, engine.ErrExecutionRunning)

	running, err := env.Engine.RunningExecution(env.Ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, x.ID, running.ID)

	env.advance(30 * time.Second)
	x, err = env.Engine.Heartbeat(env.Ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:30Z", x.HeartbeatAt)

	_, err = env.Engine.FinishExecution(env.Ctx, x.ID, domain.ExecutionStale, "", "ai")
	assert.ErrorIs(t, err, engine.ErrValidation)
	x, err = env.Engine.FinishExecution(env.Ctx, x.ID, domain.ExecutionFailed, "boom", "ai")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, x.Status)
	assert.Equal(t, "boom", x.Error)

	_, err = env.Engine.FinishExecution(env.Ctx, x.ID, domain.ExecutionCompleted, "", "ai")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.Heartbeat(env.Ctx, x.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.Heartbeat(env.Ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	running, err = env.Engine.RunningExecution(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, running)

	_, err = env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID, SubtaskID: "nope"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskDone, "user")
	require.NoError(t, err)
	_, err = env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID})
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestCleanupStaleExecutions(t *testing.T) {
	env := newTestEnv(t)
	old := env.createTask(t, "old")
	fresh := env.createTask(t, "fresh")

	oldExec, err := env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: old.ID})
	require.NoError(t, err)
	env.advance(10 * time.Minute)
	freshExec, err := env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: fresh.ID})
	require.NoError(t, err)
	env.advance(time.Minute)

	swept, err := env.Engine.CleanupStaleExecutions(env.Ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, oldExec.ID, swept[0].ID)
	assert.Equal(t, domain.ExecutionStale, swept[0].Status)

	stored, err := env.Engine.Repo.GetExecution(env.Ctx, oldExec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStale, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	stored, err = env.Engine.Repo.GetExecution(env.Ctx, freshExec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, stored.Status)
	assert.Equal(t, 1, env.eventCount(t, events.ExecutionStale))

	// config threshold applies when none is given
	env.advance(10 * time.Minute)
	swept, err = env.Engine.CleanupStaleExecutions(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, freshExec.ID, swept[0].ID)

	// a stale task can run again
	_, err = env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: old.ID})
	require.NoError(t, err)
}

func TestPrepareTerminal(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Terminal")
	a, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "a"})
	require.NoError(t, err)
	b, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "b"})
	require.NoError(t, err)

	prep, err := env.Engine.PrepareTerminal(env.Ctx, task.ID, a.ID, "ai")
	require.NoError(t, err)
	assert.True(t, prep.Created)
	assert.False(t, prep.ResetContext)
	assert.Equal(t, engine.DefaultSessionName(task.ID), prep.Terminal.SessionName)

	prep, err = env.Engine.PrepareTerminal(env.Ctx, task.ID, a.ID, "ai")
	require.NoError(t, err)
	assert.False(t, prep.ResetContext, "same subtask keeps context")

	prep, err = env.Engine.PrepareTerminal(env.Ctx, task.ID, b.ID, "ai")
	require.NoError(t, err)
	assert.True(t, prep.ResetContext)
	require.NotNil(t, prep.Terminal.LastSubtaskID)
	assert.Equal(t, b.ID, *prep.Terminal.LastSubtaskID)

	// rebinding to another session forgets the last subtask
	term, err := env.Engine.BindTerminal(env.Ctx, task.ID, "tmux-main", "user")
	require.NoError(t, err)
	assert.Nil(t, term.LastSubtaskID)
	prep, err = env.Engine.PrepareTerminal(env.Ctx, task.ID, a.ID, "ai")
	require.NoError(t, err)
	assert.False(t, prep.ResetContext)
	assert.Equal(t, "tmux-main", prep.Terminal.SessionName)

	_, err = env.Engine.PrepareTerminal(env.Ctx, task.ID, "foreign", "ai")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDefaultSessionName(t *testing.T) {
	assert.Equal(t, "wp-abc", engine.DefaultSessionName("abc"))
	assert.Equal(t, "wp-12345678", engine.DefaultSessionName("123456789abc"))
	assert.Equal(t, "wp-a-b", engine.DefaultSessionName("a:b"))
}

func TestProgressLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "T1")

	sum, err := env.Engine.Progress(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.Idle, sum.State)

	_, _, err = env.Engine.MarkStructuringComplete(env.Ctx, task.ID, "ai")
	require.NoError(t, err)
	s, err := env.Engine.AddSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Title: "only"})
	require.NoError(t, err)
	sum, err = env.Engine.Progress(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.ReadyToStart, sum.State)
	assert.Equal(t, progress.ActionExecuteAll, sum.Action)

	x, err := env.Engine.StartExecution(env.Ctx, engine.ExecutionStartOptions{TaskID: task.ID, SubtaskID: s.ID})
	require.NoError(t, err)
	sum, err = env.Engine.Progress(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.InExecution, sum.State)
	_, err = env.Engine.FinishExecution(env.Ctx, x.ID, domain.ExecutionCompleted, "", "ai")
	require.NoError(t, err)

	_, err = env.Engine.UpdateSubtaskStatus(env.Ctx, task.ID, s.ID, domain.SubtaskDone, "ai")
	require.NoError(t, err)
	sum, err = env.Engine.Progress(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.ReadyToCommit, sum.State)
	assert.Equal(t, 1, sum.SubtasksDone)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskDone, "user")
	require.NoError(t, err)
	sum, err = env.Engine.Progress(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.Done, sum.State)

	_, err = env.Engine.Progress(env.Ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestQuickLinks(t *testing.T) {
	env := newTestEnv(t)
	idle := env.createTask(t, "idle")
	review := env.createTask(t, "review")
	done := env.createTask(t, "done")
	awaiting := domain.SubstatusAwaitingReview
	_, err := env.Engine.SetSubstatus(env.Ctx, review.ID, &awaiting, "ai")
	require.NoError(t, err)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, done.ID, domain.TaskDone, "user")
	require.NoError(t, err)

	links, err := env.Engine.QuickLinks(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, review.ID, links[0].Task.ID)
	assert.Equal(t, progress.ReadyToReview, links[0].Progress.State)
	assert.NotEqual(t, idle.ID, links[0].Task.ID)
}
