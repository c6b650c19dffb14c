package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sprintreport/internal/config"
	"sprintreport/internal/db"
	"sprintreport/internal/domain"
	"sprintreport/internal/engine"
	"sprintreport/internal/jira"
	"sprintreport/internal/migrate"
	"sprintreport/internal/repo"
)

// ErrExportDisabled is returned when an export is requested without export.sqlite_path.
var ErrExportDisabled = errors.New("export.sqlite_path is not configured")

// Runner resolves saved searches and runs the report pipeline for them.
// It is shared by the CLI, the HTTP API and the scheduler.
type Runner struct {
	Config *config.Config
	Engine engine.Engine
	// Repo is nil unless an export database is open.
	Repo *repo.Repo
	Log  zerolog.Logger
}

// GenerateError wraps a pipeline failure for a search, typically a tracker
// transport error.
type GenerateError struct {
	Search string
	Err    error
}

func (e *GenerateError) Error() string { return fmt.Sprintf("generate %s: %v", e.Search, e.Err) }
func (e *GenerateError) Unwrap() error { return e.Err }

type RunOptions struct {
	Export bool
}

// NewRunner wires a Jira client into the engine using cfg.
func NewRunner(cfg *config.Config, log zerolog.Logger) *Runner {
	client := jira.NewClient(cfg.Jira, log)
	return NewRunnerWithTracker(cfg, client, client.BrowseURL, log)
}

// NewRunnerWithTracker wires an arbitrary tracker, used by tests.
func NewRunnerWithTracker(cfg *config.Config, tracker engine.Tracker, browseURL func(string) string, log zerolog.Logger) *Runner {
	return &Runner{
		Config: cfg,
		Engine: engine.New(tracker, engine.OptionsFromConfig(cfg, browseURL), log),
		Log:    log,
	}
}

// Run generates the report for the named search. The search name is checked
// before the tracker is contacted.
func (r *Runner) Run(ctx context.Context, searchName string, opts RunOptions) (domain.Report, error) {
	search, err := r.Config.FindSearch(searchName)
	if err != nil {
		return domain.Report{}, err
	}
	if opts.Export && r.Repo == nil {
		return domain.Report{}, ErrExportDisabled
	}
	report, err := r.Engine.Generate(ctx, search)
	if err != nil {
		return domain.Report{}, &GenerateError{Search: search.Name, Err: err}
	}
	if opts.Export {
		if err := r.Repo.SaveReport(ctx, report); err != nil {
			return report, fmt.Errorf("export report %s: %w", report.ID, err)
		}
		r.Log.Info().Str("search", search.Name).Str("report", report.ID).Msg("report exported")
	}
	return report, nil
}

// OpenExport opens and migrates the export database. The returned close
// function releases it.
func (r *Runner) OpenExport(ctx context.Context) (func() error, error) {
	conn, err := OpenExport(ctx, r.Config.Export)
	if err != nil {
		return nil, err
	}
	r.Repo = &repo.Repo{DB: conn}
	r.Log.Debug().Str("path", db.Path(db.Config{Path: r.Config.Export.SQLitePath})).Msg("export database ready")
	return conn.Close, nil
}

// OpenExport opens the export database named by cfg and applies migrations.
func OpenExport(ctx context.Context, cfg config.ExportConfig) (*sql.DB, error) {
	if cfg.SQLitePath == "" {
		return nil, ErrExportDisabled
	}
	conn, err := db.Open(db.Config{Path: cfg.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("open export db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate export db: %w", err)
	}
	return conn, nil
}
