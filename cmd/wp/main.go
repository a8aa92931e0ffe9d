package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workopilot/internal/app"
	"workopilot/internal/config"
	"workopilot/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "wp",
	Short: "WorkoPilot CLI",
	Long: `WorkoPilot tracks tasks that an AI agent breaks down and executes.
Core concepts:
- Task: a unit of work with a status (pending, active, in_progress, done) and an optional substatus set by the agent.
- Subtask: an ordered step of a task; pending -> in_progress -> done.
- Execution: one agent run of a task or subtask. A task has at most one running execution; heartbeats keep it alive.
- Progress state: derived from the above, e.g. ready-to-start, in-execution, ready-to-commit. 'wp progress' and 'wp quick-links' show it.
- Terminal: the session a task runs in; switching subtasks in the same session resets the agent context.
- Legacy import: 'wp migrate-json' merges old per-task JSON documents into the database.
- Event log: every change is audited, view with 'wp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return loadDotEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKOPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "cli", "actor recorded on writes (user, ai, cli)")
	rootCmd.PersistentFlags().String("project", "", "default project id")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(terminalCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(quickLinksCmd())
	rootCmd.AddCommand(migrateJSONCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

// --- helpers ---

func envPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// loadDotEnv exports the workspace .env without overriding the environment.
func loadDotEnv(workspace string) error {
	err := godotenv.Load(envPath(workspace))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envPath(workspace), err)
	}
	return nil
}

// setEnvValue writes key=value into the workspace .env, keeping other keys.
func setEnvValue(workspace, key, value string) error {
	path := envPath(workspace)
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func newLogger(level string) *slog.Logger {
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	var lvl slog.Level
	if viper.GetBool("verbose") {
		lvl = slog.LevelDebug
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	a, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actor() string {
	return viper.GetString("actor")
}

// projectFlag returns the explicit value, else the default project.
func projectFlag(explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	return strings.TrimSpace(viper.GetString("project"))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
