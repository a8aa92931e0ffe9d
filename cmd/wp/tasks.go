package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workopilot/internal/app"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/migrate"
	"workopilot/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		Long:  "Create a project. --path is the source checkout that may hold legacy task documents under .workopilot/tasks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = actor()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Path, "path", "", "project source path")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default project in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.GetProject(ctx, id); err != nil {
					return err
				}
				if err := setEnvValue(a.Workspace, "WORKOPILOT_PROJECT", id); err != nil {
					return err
				}
				fmt.Printf("Default project set to %s\n", id)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts and running executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID = projectFlag(projectID)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.Repo.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				running, err := a.Engine.Repo.CountRunningExecutions(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(ctx, a.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id":         projectID,
						"task_counts":        counts,
						"running_executions": running,
						"schema_version":     schema,
					})
				}
				if projectID != "" {
					fmt.Printf("Project: %s\n", projectID)
				}
				fmt.Println("Tasks:")
				for _, s := range []domain.TaskStatus{domain.TaskPending, domain.TaskActive, domain.TaskInProgress, domain.TaskDone} {
					fmt.Printf("  %s: %d\n", s, counts[string(s)])
				}
				fmt.Printf("Running executions: %d\n", running)
				fmt.Printf("Schema version: %d\n", schema)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow pending -> active/in_progress -> done. The agent sets a substatus while it structures, executes or waits for review.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskSubstatusCmd())
	task.AddCommand(taskStructuredCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = actor()
			opts.ProjectID = projectFlag(opts.ProjectID)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "simple, medium or complex")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority")
	cmd.Flags().StringArrayVar(&opts.BusinessRules, "rule", nil, "business rule (repeatable)")
	cmd.Flags().StringArrayVar(&opts.AcceptanceCriteria, "accept", nil, "acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&opts.TechnicalNotes, "notes", "", "technical notes")
	cmd.Flags().StringVar(&opts.ScheduledDate, "scheduled", "", "scheduled date")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ProjectID = projectFlag(f.ProjectID)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.ExcludeDone, "open", false, "hide done tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its subtasks and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, id)
				if err != nil {
					return err
				}
				sum, err := a.Engine.Progress(ctx, id)
				if err != nil {
					return err
				}
				return printTaskFull(t, sum)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <pending|active|in_progress|done>",
		Short: "Set task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, status := args[0], domain.TaskStatus(args[1])
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTaskStatus(ctx, id, status, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskSubstatusCmd() *cobra.Command {
	var clearSub bool
	cmd := &cobra.Command{
		Use:   "substatus <id> [structuring|executing|awaiting_user|awaiting_review]",
		Short: "Set or clear task substatus",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var sub *domain.Substatus
			if len(args) == 2 {
				if clearSub {
					return fmt.Errorf("give a substatus or --clear, not both")
				}
				s := domain.Substatus(args[1])
				sub = &s
			} else if !clearSub {
				return fmt.Errorf("substatus required; use --clear to remove it")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetSubstatus(ctx, id, sub, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&clearSub, "clear", false, "clear the substatus")
	return cmd
}

func taskStructuredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "structured <id>",
		Short: "Mark a task as broken down into subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, changed, err := a.Engine.MarkStructuringComplete(ctx, id, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": t, "changed": changed})
				}
				if !changed {
					fmt.Printf("%s was already structured\n", id)
					return nil
				}
				fmt.Printf("%s marked as structured\n", id)
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task with its subtasks and executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteTask(ctx, id, actor())
			})
		},
	}
}

func subtaskCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	sub.AddCommand(subtaskAddCmd())
	sub.AddCommand(subtaskStatusCmd())
	sub.AddCommand(subtaskReorderCmd())
	return sub
}

func subtaskAddCmd() *cobra.Command {
	var opts engine.SubtaskCreateOptions
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Append a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			opts.Actor = actor()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.AddSubtask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "subtask id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&opts.AcceptanceCriteria, "accept", nil, "acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&opts.TechnicalNotes, "notes", "", "technical notes")
	cmd.Flags().StringVar(&opts.PromptContext, "prompt-context", "", "extra context for the agent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func subtaskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <subtask-id> <pending|in_progress|done>",
		Short: "Set subtask status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpdateSubtaskStatus(ctx, args[0], args[1], domain.SubtaskStatus(args[2]), actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func subtaskReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <task-id> <subtask-id>...",
		Short: "Reorder all subtasks of a task",
		Long:  "List every subtask id of the task in the new order, separated by spaces or commas.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			for _, arg := range args[1:] {
				for _, id := range strings.Split(arg, ",") {
					if id = strings.TrimSpace(id); id != "" {
						ids = append(ids, id)
					}
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ReorderSubtasks(ctx, args[0], ids, actor())
				if err != nil {
					return err
				}
				return printSubtasks(items)
			})
		},
	}
}
