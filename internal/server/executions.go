package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"workopilot/internal/app"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/reconcile"
)

type executionBody struct {
	Body domain.TaskExecution `json:"body"`
}

type executionPath struct {
	ExecutionID string `path:"execution_id"`
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-execution",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/executions",
		Summary:       "Start an execution for a task or one of its subtasks",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string                `path:"task_id"`
		Body   StartExecutionRequest `json:"body" required:"false"`
	}) (*executionBody, error) {
		x, err := e.StartExecution(ctx, engine.ExecutionStartOptions{
			TaskID:    input.TaskID,
			SubtaskID: stringOrEmpty(input.Body.SubtaskID),
			Actor:     actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &executionBody{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/executions",
		Summary:     "List executions of a task, newest first",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.TaskExecution `json:"body"`
	}, error) {
		items, err := e.ListExecutions(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.TaskExecution{}
		}
		return &struct {
			Body []domain.TaskExecution `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "heartbeat-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/heartbeat",
		Summary:     "Refresh a running execution",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *executionPath) (*executionBody, error) {
		x, err := e.Heartbeat(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &executionBody{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finish-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/finish",
		Summary:     "Finish a running execution",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ExecutionID string                 `path:"execution_id"`
		Body        FinishExecutionRequest `json:"body"`
	}) (*executionBody, error) {
		x, err := e.FinishExecution(ctx, input.ExecutionID, domain.ExecutionStatus(input.Body.Status),
			stringOrEmpty(input.Body.Error), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &executionBody{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup-executions",
		Method:      http.MethodPost,
		Path:        "/executions/cleanup",
		Summary:     "Mark executions without a recent heartbeat as stale",
	}, func(ctx context.Context, input *struct {
		Body CleanupExecutionsRequest `json:"body" required:"false"`
	}) (*struct {
		Body []domain.TaskExecution `json:"body"`
	}, error) {
		swept, err := e.CleanupStaleExecutions(ctx, time.Duration(input.Body.OlderThanSeconds)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		if swept == nil {
			swept = []domain.TaskExecution{}
		}
		return &struct {
			Body []domain.TaskExecution `json:"body"`
		}{Body: swept}, nil
	})
}

func registerTerminals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bind-terminal",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/terminal",
		Summary:     "Bind a task to a terminal session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   BindTerminalRequest `json:"body"`
	}) (*struct {
		Body domain.TaskTerminal `json:"body"`
	}, error) {
		term, err := e.BindTerminal(ctx, input.TaskID, input.Body.SessionName, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskTerminal `json:"body"`
		}{Body: term}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prepare-terminal",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/terminal/prepare",
		Summary:     "Record the subtask about to run and report whether the session needs a context reset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                 `path:"task_id"`
		Body   PrepareTerminalRequest `json:"body" required:"false"`
	}) (*struct {
		Body TerminalPrepResponse `json:"body"`
	}, error) {
		prep, err := e.PrepareTerminal(ctx, input.TaskID, stringOrEmpty(input.Body.SubtaskID), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TerminalPrepResponse `json:"body"`
		}{Body: TerminalPrepResponse{Terminal: prep.Terminal, ResetContext: prep.ResetContext, Created: prep.Created}}, nil
	})
}

func registerLegacy(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "scan-legacy",
		Method:      http.MethodGet,
		Path:        "/legacy/scan",
		Summary:     "Count legacy task documents per project without importing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []reconcile.ProjectFiles `json:"body"`
	}, error) {
		scan, err := a.ScanLegacy(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if scan == nil {
			scan = []reconcile.ProjectFiles{}
		}
		return &struct {
			Body []reconcile.ProjectFiles `json:"body"`
		}{Body: scan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-legacy",
		Method:      http.MethodPost,
		Path:        "/legacy/import",
		Summary:     "Import legacy task documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ImportLegacyRequest `json:"body" required:"false"`
	}) (*struct {
		Body reconcile.Report `json:"body"`
	}, error) {
		report, err := a.ImportLegacy(ctx, stringOrEmpty(input.Body.ProjectID), input.Body.DeleteSource)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body reconcile.Report `json:"body"`
		}{Body: report}, nil
	})
}
