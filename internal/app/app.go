// Package app wires the database, engine and reconciler behind one
// explicitly opened and closed context.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"workopilot/internal/config"
	"workopilot/internal/db"
	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/migrate"
	"workopilot/internal/reconcile"
	"workopilot/internal/repo"
)

type Options struct {
	Workspace string
	// Config overrides workopilot.yml when set.
	Config *config.Config
	Logger *slog.Logger
	// Fs holds legacy task documents; the OS filesystem when nil.
	Fs  afero.Fs
	Now func() time.Time
}

type App struct {
	Workspace  string
	Config     *config.Config
	DB         *sql.DB
	Engine     engine.Engine
	Reconciler reconcile.Reconciler
	Logger     *slog.Logger
}

// Open loads config, opens and migrates the database and builds the engine
// and reconciler on top of it. Callers must Close the App.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn, cfg)
	eng.Logger = logger
	eng.Now = now
	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Reconciler: reconcile.Reconciler{
			Store:  repo.Repo{DB: conn, Now: now},
			Fs:     fs,
			Logger: logger.With("component", "reconcile"),
			Now:    now,
		},
		Logger: logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	a.DB = nil
	return err
}

// ScanLegacy is the dry run of ImportLegacy: it counts legacy documents per
// project, or for one project when projectID is set.
func (a *App) ScanLegacy(ctx context.Context, projectID string) ([]reconcile.ProjectFiles, error) {
	projects, err := a.legacyProjects(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return a.Reconciler.Scan(ctx, projects)
}

// ImportLegacy reconciles every legacy document found for the selected
// projects. deleteSource nil falls back to legacy.delete_after_import.
func (a *App) ImportLegacy(ctx context.Context, projectID string, deleteSource *bool) (reconcile.Report, error) {
	scan, err := a.ScanLegacy(ctx, projectID)
	if err != nil {
		return reconcile.Report{}, err
	}
	del := a.Config.Legacy.DeleteAfterImport
	if deleteSource != nil {
		del = *deleteSource
	}
	return a.Reconciler.Reconcile(ctx, reconcile.Collect(scan), del), nil
}

func (a *App) legacyProjects(ctx context.Context, projectID string) ([]domain.Project, error) {
	if projectID == "" {
		return a.Engine.ListProjects(ctx)
	}
	p, err := a.Engine.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", projectID, err)
		}
		return nil, err
	}
	return []domain.Project{p}, nil
}
