// Package app wires configuration, the directory client, the checkpoint store
// and the run journal for one command invocation.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"acctsweep/internal/checkpoint"
	"acctsweep/internal/config"
	"acctsweep/internal/db"
	"acctsweep/internal/directory"
	"acctsweep/internal/engine"
	"acctsweep/internal/journal"
	"acctsweep/internal/migrate"
	"acctsweep/internal/notify"
	"acctsweep/internal/repo"
)

// Options locate the workspace of a command.
type Options struct {
	Workdir    string
	ConfigPath string
	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config
	Logger *zap.Logger
}

// Workspace holds the resources shared by the commands.
type Workspace struct {
	Workdir string
	Config  *config.Config
	Store   checkpoint.Store
	DB      *sql.DB
	Logger  *zap.Logger
}

// Open loads the config and opens the journal unless it is disabled.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	workdir := opts.Workdir
	if workdir == "" {
		workdir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		path := opts.ConfigPath
		if path == "" {
			path = config.Path(workdir)
		}
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	ws := &Workspace{
		Workdir: workdir,
		Config:  cfg,
		Store:   checkpoint.New(CheckpointDir(workdir, cfg)),
		Logger:  logger,
	}
	if cfg.Journal.Disabled {
		return ws, nil
	}
	conn, err := db.Open(db.Config{Workspace: workdir})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	ws.DB = conn
	return ws, nil
}

// CheckpointDir resolves checkpoints.dir against the working directory.
func CheckpointDir(workdir string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Checkpoints.Dir) {
		return cfg.Checkpoints.Dir
	}
	return filepath.Join(workdir, cfg.Checkpoints.Dir)
}

// Directory builds the HTTP directory client from the config.
func (w *Workspace) Directory() (*directory.HTTPClient, error) {
	d := w.Config.Directory
	client, err := directory.NewHTTP(directory.HTTPConfig{
		BaseURL:           d.BaseURL,
		Token:             d.Token,
		Timeout:           d.Timeout,
		RequestsPerSecond: d.RequestsPerSecond,
		Burst:             d.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("directory client: %w", err)
	}
	return client, nil
}

// Repo returns the journal repository; ok is false when the journal is disabled.
func (w *Workspace) Repo() (repo.Repo, bool) {
	if w.DB == nil {
		return repo.Repo{}, false
	}
	return repo.Repo{DB: w.DB}, true
}

// Engine assembles an engine over client.
func (w *Workspace) Engine(client directory.Client) engine.Engine {
	e := engine.New(client, w.Store, w.Logger)
	e.Concurrency = w.Config.Directory.Concurrency
	if w.DB != nil {
		e.Journal = journal.New(w.DB)
	}
	return e
}

// Notifier returns the webhook dispatcher; ok is false when nothing is
// configured or the journal is disabled.
func (w *Workspace) Notifier() (notify.Dispatcher, bool) {
	r, ok := w.Repo()
	if !ok || len(w.Config.Webhooks) == 0 {
		return notify.Dispatcher{}, false
	}
	return notify.New(r, w.Config.Webhooks, w.Logger), true
}

func (w *Workspace) Close() error {
	if w.DB != nil {
		return w.DB.Close()
	}
	return nil
}

// NewLogger returns a production logger, or a debug development logger when
// verbose is set.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
