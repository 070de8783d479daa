package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"maincontrol/internal/config"
	"maincontrol/internal/db"
	"maincontrol/internal/engine"
	"maincontrol/internal/logging"
	"maincontrol/internal/migrate"
)

// Context is an opened workspace: database, config, logger and engine.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Logger    *slog.Logger
	Engine    engine.Engine
}

// Options tweak how a workspace is opened.
type Options struct {
	// LogLevel overrides the configured logging level when set.
	LogLevel string
}

// Open prepares the workspace directory, migrates the database and loads the
// optional config file. Missing config falls back to defaults.
func Open(ctx context.Context, workspace string, opts Options) (*Context, error) {
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.NewWithWriter(os.Stderr, level)

	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("workspace opened", "workspace", workspace, "db", db.Path(workspace), "timezone", cfg.Calendar.Timezone)
	return &Context{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Logger:    logger,
		Engine:    engine.New(conn, cfg, logger),
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
