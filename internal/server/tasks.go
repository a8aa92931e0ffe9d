package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

type taskFullBody struct {
	Body domain.TaskFull `json:"body"`
}

type subtaskBody struct {
	Body domain.Subtask `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		opts := engine.TaskCreateOptions{
			ID:                 stringOrEmpty(input.Body.ID),
			ProjectID:          stringOrEmpty(input.Body.ProjectID),
			Title:              input.Body.Title,
			Category:           stringOrEmpty(input.Body.Category),
			Complexity:         stringOrEmpty(input.Body.Complexity),
			Description:        stringOrEmpty(input.Body.Description),
			BusinessRules:      input.Body.BusinessRules,
			TechnicalNotes:     stringOrEmpty(input.Body.TechnicalNotes),
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			ScheduledDate:      stringOrEmpty(input.Body.ScheduledDate),
			DueDate:            stringOrEmpty(input.Body.DueDate),
			Actor:              actorFromContext(ctx),
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `query:"project_id"`
		Status      string `query:"status" enum:"pending,active,in_progress,done"`
		ExcludeDone bool   `query:"exclude_done"`
		Limit       int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			ProjectID:   input.ProjectID,
			Status:      input.Status,
			ExcludeDone: input.ExcludeDone,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task with subtasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskFullBody, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.Subtasks == nil {
			t.Subtasks = []domain.Subtask{}
		}
		return &taskFullBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task and its subtasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.TaskID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Set task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, domain.TaskStatus(input.Body.Status), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-substatus",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/substatus",
		Summary:     "Set or clear task substatus",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   SetSubstatusRequest `json:"body"`
	}) (*taskBody, error) {
		var sub *domain.Substatus
		if input.Body.Substatus != nil {
			s := domain.Substatus(*input.Body.Substatus)
			sub = &s
		}
		t, err := e.SetSubstatus(ctx, input.TaskID, sub, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "structuring-complete",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/structuring-complete",
		Summary:     "Mark task structuring complete",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body struct {
			Task    domain.Task `json:"task"`
			Changed bool        `json:"changed"`
		} `json:"body"`
	}, error) {
		t, changed, err := e.MarkStructuringComplete(ctx, input.TaskID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Task    domain.Task `json:"task"`
				Changed bool        `json:"changed"`
			} `json:"body"`
		}{}
		out.Body.Task = t
		out.Body.Changed = changed
		return out, nil
	})
}

func registerSubtasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/subtasks",
		Summary:       "Append subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   CreateSubtaskRequest `json:"body"`
	}) (*subtaskBody, error) {
		s, err := e.AddSubtask(ctx, engine.SubtaskCreateOptions{
			ID:                 stringOrEmpty(input.Body.ID),
			TaskID:             input.TaskID,
			Title:              input.Body.Title,
			Description:        stringOrEmpty(input.Body.Description),
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			TechnicalNotes:     stringOrEmpty(input.Body.TechnicalNotes),
			PromptContext:      stringOrEmpty(input.Body.PromptContext),
			Actor:              actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &subtaskBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/status",
		Summary:     "Set subtask status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID    string                  `path:"task_id"`
		SubtaskID string                  `path:"subtask_id"`
		Body      SetSubtaskStatusRequest `json:"body"`
	}) (*subtaskBody, error) {
		s, err := e.UpdateSubtaskStatus(ctx, input.TaskID, input.SubtaskID, domain.SubtaskStatus(input.Body.Status), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &subtaskBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-subtasks",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/subtasks/order",
		Summary:     "Reorder all subtasks of a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string                 `path:"task_id"`
		Body   ReorderSubtasksRequest `json:"body"`
	}) (*struct {
		Body []domain.Subtask `json:"body"`
	}, error) {
		items, err := e.ReorderSubtasks(ctx, input.TaskID, input.Body.IDs, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Subtask{}
		}
		return &struct {
			Body []domain.Subtask `json:"body"`
		}{Body: items}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-progress",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/progress",
		Summary:     "Derived progress state of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		sum, err := e.Progress(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: progressResponse(input.TaskID, sum)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quick-links",
		Method:      http.MethodGet,
		Path:        "/quick-links",
		Summary:     "Open tasks with a suggested action",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []QuickLinkResponse `json:"body"`
	}, error) {
		links, err := e.QuickLinks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QuickLinkResponse `json:"body"`
		}{Body: quickLinkResponses(links)}, nil
	})
}
