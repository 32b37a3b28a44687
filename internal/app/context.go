// Package app wires a workspace together: database, migrations, stored config
// and the engine, for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"frequency/internal/config"
	"frequency/internal/db"
	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/engine/auth"
	"frequency/internal/migrate"
	"frequency/internal/repo"
)

// WorkspaceKey is the workspace_configs row holding the active config.
const WorkspaceKey = "default"

// DefaultUser is the local identity used when none is given.
const DefaultUser = "local-user"

type Options struct {
	Workspace string
	Driver    string
	DSN       string
	// User is the external id writes are attributed to.
	User   string
	Logger *slog.Logger
}

type Context struct {
	Conn    *sql.DB
	Dialect db.Dialect
	Repo    repo.Repo
	Engine  engine.Engine
	Config  *config.Config
	User    domain.User
}

// Open opens and migrates the workspace database, ensures the acting user and
// resolves the config, seeding it and the category list on first use.
func Open(ctx context.Context, opts Options) (*Context, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Context, error) {
		conn.Close()
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}
	r := repo.New(conn, dialect)
	externalID := strings.TrimSpace(opts.User)
	if externalID == "" {
		externalID = DefaultUser
	}
	user, err := auth.Service{Users: r}.EnsureUser(ctx, externalID, "")
	if err != nil {
		return fail(fmt.Errorf("ensure user: %w", err))
	}
	cfg, err := ResolveConfig(ctx, r, opts.Workspace, user.ID)
	if err != nil {
		return fail(err)
	}
	e := engine.New(r, cfg, log)
	if n, err := SeedCategories(ctx, e, cfg, user.ID); err != nil {
		return fail(fmt.Errorf("seed categories: %w", err))
	} else if n > 0 {
		log.Info("seeded categories", "count", n)
	}
	return &Context{Conn: conn, Dialect: dialect, Repo: r, Engine: e, Config: cfg, User: user}, nil
}

func (c *Context) Close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// ResolveConfig returns the stored workspace config. When none is stored yet it
// seeds one from frequency.yml in the workspace, or from defaults.
func ResolveConfig(ctx context.Context, r repo.Repo, workspace, actorID string) (*config.Config, error) {
	cfg, err := r.GetWorkspaceConfig(ctx, WorkspaceKey)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default(workspaceName(workspace))
	}
	if err := r.UpsertWorkspaceConfig(ctx, WorkspaceKey, seed, actorID); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return seed, nil
}

// SeedCategories creates the configured categories when the workspace has none.
func SeedCategories(ctx context.Context, e engine.Engine, cfg *config.Config, actorID string) (int, error) {
	if cfg == nil || len(cfg.Categories) == 0 {
		return 0, nil
	}
	existing, err := e.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	n := 0
	for _, name := range cfg.Categories {
		if _, err := e.CreateCategory(ctx, name, actorID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func workspaceName(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "frequency"
	}
	return filepath.Base(abs)
}
