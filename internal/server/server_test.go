package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workopilot/internal/app"
	"workopilot/internal/config"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/events"
	"workopilot/internal/reconcile"
	"workopilot/internal/repo"
)

type testServer struct {
	URL    string
	App    *app.App
	Fs     afero.Fs
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	fs := afero.NewMemMapFs()
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    config.Default(),
		Fs:        fs,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	handler, err := New(Config{App: a, BasePath: "/v0"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		Fs:     fs,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestOpenAPIConcurrentRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	type result struct {
		status int
		body   []byte
		err    error
	}
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				results[i].err = err
				return
			}
			defer resp.Body.Close()
			results[i].status = resp.StatusCode
			results[i].body, results[i].err = io.ReadAll(resp.Body)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, http.StatusOK, r.status)
		assert.Equal(t, results[0].body, r.body)
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(results[0].body, &doc))
	assert.Contains(t, doc, "paths")
}

func TestTaskProgressFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "p1", "name": "Demo"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": "p1",
		"title":      "Ship feature",
	}, map[string]string{ActorHeader: "user"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	task := decode[domain.Task](t, data)
	assert.Equal(t, domain.ModifiedByUser, task.ModifiedBy)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	prog := decode[ProgressResponse](t, data)
	assert.Equal(t, "idle", prog.State)
	assert.Equal(t, "none", prog.Action)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/structuring-complete", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/subtasks", map[string]any{"title": "first"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	sub := decode[domain.Subtask](t, data)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ready-to-start", decode[ProgressResponse](t, data).State)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/quick-links?project_id=p1", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	links := decode[[]QuickLinkResponse](t, data)
	require.Len(t, links, 1)
	assert.Equal(t, "execute_all", links[0].Progress.Action)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/executions", map[string]any{"subtask_id": sub.ID}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	exec := decode[domain.TaskExecution](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/executions", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "execution_running", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	prog = decode[ProgressResponse](t, data)
	assert.Equal(t, "in-execution", prog.State)
	assert.Equal(t, "spinner", prog.Indicator)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/executions/"+exec.ID+"/heartbeat", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/executions/"+exec.ID+"/finish", map[string]any{"status": "completed"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.ExecutionCompleted, decode[domain.TaskExecution](t, data).Status)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/subtasks/"+sub.ID+"/status", map[string]any{"status": "done"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ready-to-commit", decode[ProgressResponse](t, data).State)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{"status": "done"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	full := decode[domain.TaskFull](t, data)
	assert.Equal(t, domain.TaskDone, full.Status)
	require.Len(t, full.Subtasks, 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/logs?event=task.structuring_complete", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	logs := decode[[]LogResponse](t, data)
	require.Len(t, logs, 1)
	assert.Equal(t, "ai", logs[0].Actor)
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "not_found", env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "x", "complexity": "huge"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	task, err := srv.App.Engine.CreateTask(context.Background(), engine.TaskCreateOptions{Title: "a"})
	require.NoError(t, err)
	other, err := srv.App.Engine.CreateTask(context.Background(), engine.TaskCreateOptions{Title: "b"})
	require.NoError(t, err)
	foreign, err := srv.App.Engine.AddSubtask(context.Background(), engine.SubtaskCreateOptions{TaskID: other.ID, Title: "x"})
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/subtasks/order", map[string]any{"ids": []string{foreign.ID}}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "validation_failed", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "dup", "name": "one"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "dup", "name": "two"}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
}

func TestLegacyEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	p, err := srv.App.Engine.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "demo", Path: "/src/demo"})
	require.NoError(t, err)
	_, err = srv.App.Engine.CreateTask(ctx, engine.TaskCreateOptions{ID: "t1", ProjectID: p.ID, Title: "legacy"})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(srv.Fs, "/src/demo/.workopilot/tasks/t1.json",
		[]byte(`{"id":"t1","status":"active","subtasks":[{"id":"s1","title":"one","status":"done","order":0}]}`), 0o644))
	require.NoError(t, afero.WriteFile(srv.Fs, "/src/demo/.workopilot/tasks/ghost.json", []byte(`{"id":"ghost"}`), 0o644))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/legacy/scan", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	scan := decode[[]reconcile.ProjectFiles](t, data)
	require.Len(t, scan, 1)
	assert.Equal(t, 2, scan[0].Count)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/legacy/import", map[string]any{"project_id": "p1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	report := decode[reconcile.Report](t, data)
	assert.False(t, report.Success)
	require.Len(t, report.Results, 2)
	assert.Contains(t, report.Results[0].Error, "orphan JSON")
	assert.True(t, report.Results[1].Success)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/legacy/scan?project_id=nope", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestWebhookDispatcherFiltersAndAdvances(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	var received []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			received = append(received, evt)
			mu.Unlock()
		}
		assert.Equal(t, "s3cret", r.Header.Get("X-Workopilot-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	// history before the dispatcher starts is not replayed
	old, err := srv.App.Engine.CreateTask(ctx, engine.TaskCreateOptions{Title: "old"})
	require.NoError(t, err)
	_, _, err = srv.App.Engine.MarkStructuringComplete(ctx, old.ID, "ai")
	require.NoError(t, err)

	d := newWebhookDispatcher(repo.Repo{DB: srv.App.DB}, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.TaskStructuringComplete},
		Secret: "s3cret",
	}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, d.init(ctx))

	task, err := srv.App.Engine.CreateTask(ctx, engine.TaskCreateOptions{Title: "new"})
	require.NoError(t, err)
	_, _, err = srv.App.Engine.MarkStructuringComplete(ctx, task.ID, "ai")
	require.NoError(t, err)
	_, _, err = srv.App.Engine.MarkStructuringComplete(ctx, task.ID, "ai")
	require.NoError(t, err)

	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, events.TaskStructuringComplete, received[0].Event)
	assert.Equal(t, task.ID, received[0].EntityID)
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	assert.True(t, all.match("anything"))
	blank := newEventFilter([]string{" "})
	assert.True(t, blank.match("anything"))
	some := newEventFilter([]string{"execution.stale"})
	assert.True(t, some.match("execution.stale"))
	assert.False(t, some.match("task.created"))
}
