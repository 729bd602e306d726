package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"litedb/internal/adapter/httpapi"
	"litedb/internal/adapter/scheduler"
	"litedb/internal/config"
	"litedb/internal/platform/logger"
	"litedb/internal/platform/metrics"
	"litedb/internal/platform/sqlite"
)

const (
	shutdownGrace      = 5 * time.Second
	maintenanceTimeout = 10 * time.Minute
	keepBackups        = 7
	dumpInterval       = 10 * time.Second
)

// App wires application components.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	observer *metrics.Observer
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// Option customizes App construction.
type Option func(*logger.Options)

// WithConsole redirects console log output, e.g. to stderr for CLI commands
// that print results to stdout.
func WithConsole(w io.Writer) Option {
	return func(o *logger.Options) { o.Console = w }
}

// NewWithConfig creates an App for an already loaded configuration.
func NewWithConfig(cfg config.Config, opts ...Option) (*App, error) {
	logOpts := logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "litedb",
	}
	for _, opt := range opts {
		opt(&logOpts)
	}
	log := logger.New(logOpts)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewObserver(reg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, registry: reg, observer: observer}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Registry returns the metrics registry the database observer reports to.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// OpenDB opens the configured database and applies migrations when a source is set.
func (a *App) OpenDB(ctx context.Context) (*sqlite.DB, error) {
	opts, err := a.cfg.DBOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = a.log
	opts.Observer = a.observer
	opts.LogStatements = a.cfg.Env == "dev"

	db, err := sqlite.Open(ctx, a.cfg.DB.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.DB.Path, err)
	}
	if a.cfg.DB.Migrations != "" && !db.InMemory() && !db.ReadOnly() {
		if err := db.Migrate(ctx, a.cfg.DB.Migrations); err != nil {
			_, _ = db.Close()
			return nil, err
		}
		version, dirty, err := db.MigrationVersion(ctx, a.cfg.DB.Migrations)
		if err == nil {
			a.log.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		}
	}
	return db, nil
}

// Run serves the admin API and runs maintenance jobs until ctx is canceled.
func (a *App) Run(ctx context.Context) (err error) {
	a.log.Info("starting")

	db, err := a.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, cerr := db.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		a.log.Info("database closed")
	}()

	sched := scheduler.New(ctx, scheduler.Config{
		Logger: a.log,
		JobHooks: scheduler.JobHooks{
			OnJobFinish: func(name string, d time.Duration, err error) {
				if err != nil {
					a.log.Error("maintenance job failed", slog.String("job", name), slog.Duration("duration", d), slog.String("error", err.Error()))
					return
				}
				a.log.Info("maintenance job finished", slog.String("job", name), slog.Duration("duration", d))
			},
		},
	})
	if !db.ReadOnly() {
		if _, err := scheduler.RegisterMaintenance(sched, db, scheduler.MaintenanceConfig{
			VacuumSchedule: a.cfg.Maintenance.VacuumCron,
			BackupSchedule: a.cfg.Maintenance.BackupCron,
			BackupDir:      a.cfg.Maintenance.BackupDir,
			KeepBackups:    keepBackups,
			Timeout:        maintenanceTimeout,
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if serr := sched.StopContext(stopCtx); serr != nil {
			a.log.Warn("scheduler did not stop in time", slog.String("error", serr.Error()))
		}
	}()

	handler := httpapi.New(httpapi.Config{
		DB:           db,
		Logger:       a.log,
		Gatherer:     a.registry,
		DumpInterval: dumpInterval,
	})
	return httpapi.Serve(ctx, a.cfg.HTTP.Addr, handler, shutdownGrace, a.log)
}

// Close releases the logger resources.
func (a *App) Close() error {
	return logger.Close(a.log)
}
