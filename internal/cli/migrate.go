package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"litedb/internal/config"
	"litedb/internal/platform/sqlite"
)

var errNoMigrations = errors.New("no migration source: set --source or db.migrations")

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage schema migrations",
		Long: `Apply or inspect golang-migrate migrations of the database.

Examples:
  litedb migrate up --source file://migrations
  litedb migrate to 3
  litedb migrate version`,
	}
	cmd.PersistentFlags().StringVar(&source, "source", "", "Migration source URL (overrides db.migrations)")

	// run opens the database without the automatic migration on open.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, db *sqlite.DB, source string) error) error {
		src := source
		return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
			if src == "" {
				return errNoMigrations
			}
			return fn(ctx, db, src)
		}, func(c *config.Config) {
			if src == "" {
				src = c.DB.Migrations
			}
			c.DB.Migrations = ""
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(ctx context.Context, db *sqlite.DB, src string) error {
					if err := db.Migrate(ctx, src); err != nil {
						return err
					}
					return printVersion(ctx, cmd, db, src)
				})
			},
		},
		&cobra.Command{
			Use:   "to <version>",
			Short: "Migrate up or down to the given version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return run(cmd, func(ctx context.Context, db *sqlite.DB, src string) error {
					if err := db.MigrateTo(ctx, src, uint(version)); err != nil {
						return err
					}
					return printVersion(ctx, cmd, db, src)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(ctx context.Context, db *sqlite.DB, src string) error {
					return db.ResetMigrations(ctx, src)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(ctx context.Context, db *sqlite.DB, src string) error {
					return printVersion(ctx, cmd, db, src)
				})
			},
		},
	)
	return cmd
}

func printVersion(ctx context.Context, cmd *cobra.Command, db *sqlite.DB, source string) error {
	version, dirty, err := db.MigrationVersion(ctx, source)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
	return nil
}
