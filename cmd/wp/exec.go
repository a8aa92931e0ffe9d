package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workopilot/internal/app"
	"workopilot/internal/config"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/mcp"
	"workopilot/internal/repo"
	"workopilot/internal/server"
)

func execCmd() *cobra.Command {
	ex := &cobra.Command{
		Use:   "exec",
		Short: "Track agent executions",
		Long:  "An execution is one agent run of a task or subtask. Only one may run per task; send heartbeats while it runs or it is swept as stale.",
	}
	ex.AddCommand(execStartCmd())
	ex.AddCommand(execHeartbeatCmd())
	ex.AddCommand(execFinishCmd())
	ex.AddCommand(execListCmd())
	ex.AddCommand(execCleanupCmd())
	return ex
}

func execStartCmd() *cobra.Command {
	var opts engine.ExecutionStartOptions
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			opts.Actor = actor()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				x, err := a.Engine.StartExecution(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SubtaskID, "subtask", "", "subtask being executed")
	return cmd
}

func execHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <execution-id>",
		Short: "Refresh a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				x, err := a.Engine.Heartbeat(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
}

func execFinishCmd() *cobra.Command {
	var status, errMsg string
	cmd := &cobra.Command{
		Use:   "finish <execution-id>",
		Short: "Finish a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				x, err := a.Engine.FinishExecution(ctx, args[0], domain.ExecutionStatus(status), errMsg, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.ExecutionCompleted), "completed or failed")
	cmd.Flags().StringVar(&errMsg, "error", "", "failure reason")
	return cmd
}

func execListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List executions of a task, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListExecutions(ctx, args[0])
				if err != nil {
					return err
				}
				return printExecutions(items)
			})
		},
	}
}

func execCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Mark running executions without a recent heartbeat as stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.CleanupStaleExecutions(ctx, olderThan)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") && len(items) == 0 {
					fmt.Println("no stale executions")
					return nil
				}
				return printExecutions(items)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "heartbeat age threshold (defaults to executions.stale_after)")
	return cmd
}

func terminalCmd() *cobra.Command {
	term := &cobra.Command{Use: "terminal", Short: "Manage task terminal sessions"}
	term.AddCommand(terminalBindCmd())
	term.AddCommand(terminalShowCmd())
	term.AddCommand(terminalPrepareCmd())
	return term
}

func terminalBindCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "bind <task-id>",
		Short: "Bind a task to a terminal session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.BindTerminal(ctx, args[0], session, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session name (defaults to wp-<task>)")
	return cmd
}

func terminalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the terminal bound to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTerminal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func terminalPrepareCmd() *cobra.Command {
	var subtaskID string
	cmd := &cobra.Command{
		Use:   "prepare <task-id>",
		Short: "Ready the task terminal before running a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				prep, err := a.Engine.PrepareTerminal(ctx, args[0], subtaskID, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prep)
				}
				fmt.Printf("session: %s\n", prep.Terminal.SessionName)
				if prep.ResetContext {
					fmt.Println("reset agent context before running")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subtaskID, "subtask", "", "subtask about to run")
	return cmd
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Show the derived progress state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Engine.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				return printProgress(args[0], sum)
			})
		},
	}
}

func quickLinksCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "quick-links",
		Short: "List open tasks with a suggested next action",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID = projectFlag(projectID)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				links, err := a.Engine.QuickLinks(ctx, projectID)
				if err != nil {
					return err
				}
				return printQuickLinks(links)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func migrateJSONCmd() *cobra.Command {
	var projectID string
	var dryRun, deleteSource bool
	cmd := &cobra.Command{
		Use:   "migrate-json",
		Short: "Import legacy task documents into the database",
		Long: `Scan each project's .workopilot/tasks directory and merge every document into the database.
Documents whose task does not exist are reported as orphans and left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID = projectFlag(projectID)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if dryRun {
					scan, err := a.ScanLegacy(ctx, projectID)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(scan)
					}
					tw := newTable()
					tw.AppendHeader(table.Row{"Project", "Directory", "Documents"})
					total := 0
					for _, p := range scan {
						tw.AppendRow(table.Row{p.ProjectName, p.Dir, p.Count})
						total += p.Count
					}
					tw.AppendFooter(table.Row{"", "total", total})
					tw.Render()
					return nil
				}
				var del *bool
				if cmd.Flags().Changed("delete") {
					del = &deleteSource
				}
				report, err := a.ImportLegacy(ctx, projectID, del)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"File", "Task", "Subtasks", "Deleted", "Error"})
				for _, r := range report.Results {
					tw.AppendRow(table.Row{r.File, r.TaskID, r.SubtasksMigrated, r.Deleted, r.Error})
				}
				tw.Render()
				if failed := report.Failed(); len(failed) > 0 {
					return fmt.Errorf("%d of %d documents failed", len(failed), len(report.Results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "only this project")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count documents without importing")
	cmd.Flags().BoolVar(&deleteSource, "delete", false, "delete each document after it is imported (defaults to legacy.delete_after_import)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every write is recorded with its event name and actor.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.LogFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Logs(ctx, f)
				if err != nil {
					return err
				}
				return printLogs(items)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.Event, "event", "", "event filter, e.g. execution.stale")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.Actor, "by", "", "actor filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default workopilot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				fmt.Printf("Serving WorkoPilot API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				return server.Serve(ctx, server.Config{App: a, BasePath: basePath, Logger: a.Logger}, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return mcp.NewServer(a.Engine, a.Logger).Run(ctx)
			})
		},
	}
}
