package engine

import (
	"context"

	"workopilot/internal/domain"
	"workopilot/internal/progress"
	"workopilot/internal/repo"
)

// Progress classifies a task together with its running execution.
func (e Engine) Progress(ctx context.Context, taskID string) (progress.Summary, error) {
	full, err := e.Repo.GetTaskFull(ctx, taskID)
	if err != nil {
		return progress.Summary{}, err
	}
	exec, err := e.RunningExecution(ctx, taskID)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Summarize(&full, exec), nil
}

// QuickLink is an open task whose progress state suggests an action.
type QuickLink struct {
	Task     domain.Task      `json:"task"`
	Progress progress.Summary `json:"progress"`
}

// QuickLinks lists the open tasks of a project (all projects when projectID
// is empty) that have a suggested action, in task list order.
func (e Engine) QuickLinks(ctx context.Context, projectID string) ([]QuickLink, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, ExcludeDone: true})
	if err != nil {
		return nil, err
	}
	var links []QuickLink
	for _, t := range tasks {
		sum, err := e.Progress(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if progress.IsQuickLink(sum.State) {
			links = append(links, QuickLink{Task: t, Progress: sum})
		}
	}
	return links, nil
}
