// Package cli implements the litedb command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"litedb/internal/app"
	"litedb/internal/config"
	"litedb/internal/platform/sqlite"
)

var version = "dev"

type rootOptions struct {
	configFile string
	dbPath     string
	jsonOutput bool
}

// NewRootCmd builds the command tree. Each call returns independent commands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "litedb",
		Short: "Embedded SQLite database service and tools",
		Long: `litedb - a concurrency-safe layer over an embedded SQLite database

Run 'litedb serve' to start the admin API with scheduled maintenance,
or use the subcommands to inspect, dump and back up a database file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "TOML config file (overrides "+config.FileEnv+")")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Database path (overrides config)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	root.Version = version
	root.SetVersionTemplate("litedb {{.Version}}\n")

	root.AddCommand(
		newServeCmd(opts),
		newTablesCmd(opts),
		newInspectCmd(opts),
		newMatchCmd(opts),
		newDumpCmd(opts),
		newBackupCmd(opts),
		newExecCmd(opts),
		newVacuumCmd(opts),
		newMigrateCmd(opts),
		newRemoteCmd(opts),
	)
	return root
}

// Execute runs the command line with the given context.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadApp loads configuration honoring global flags. Commands other than
// serve log to stderr only so stdout carries their results.
func loadApp(cmd *cobra.Command, opts *rootOptions, fileLog bool, tweaks ...func(*config.Config)) (*app.App, error) {
	if opts.configFile != "" {
		if err := os.Setenv(config.FileEnv, opts.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DB.Path = opts.dbPath
	}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	if !fileLog {
		cfg.Log.File = ""
		return app.NewWithConfig(cfg, app.WithConsole(cmd.ErrOrStderr()))
	}
	return app.NewWithConfig(cfg)
}

// readOnly opens the database without creating or migrating it.
func readOnly(c *config.Config) {
	c.DB.AccessMode = string(sqlite.AccessModeReadOnly)
}

// existingOnly opens an existing database for writing without migrating it.
func existingOnly(c *config.Config) {
	c.DB.AccessMode = string(sqlite.AccessModeReadWrite)
	c.DB.Migrations = ""
}

// withDB opens the database for a single command and closes it afterwards.
func withDB(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, db *sqlite.DB) error, tweaks ...func(*config.Config)) (err error) {
	a, err := loadApp(cmd, opts, false, tweaks...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	db, err := a.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, db)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
