package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"litedb/internal/platform/sqlite"
)

// ErrSchemaMismatch is returned by the match command when schemas differ.
var ErrSchemaMismatch = errors.New("schemas do not match")

func newTablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List user tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				tables, err := db.ListTables(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), tables)
				}
				for _, t := range tables {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			}, readOnly)
		},
	}
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <table>",
		Short: "Show columns, keys and indexes of a table",
		Example: `  litedb inspect planet
  litedb inspect planet --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				columns, err := db.Inspect(ctx, args[0])
				if errors.Is(err, sqlite.ErrTableNotFound) {
					if s, ok, _ := db.SuggestTable(ctx, args[0]); ok {
						return fmt.Errorf("%w (did you mean %q?)", err, s)
					}
				}
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), columns)
				}
				printColumns(cmd, columns)
				return nil
			}, readOnly)
		},
	}
}

func printColumns(cmd *cobra.Command, columns []sqlite.ColumnInfo) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CID\tNAME\tTYPE\tNOT NULL\tDEFAULT\tPK\tREFERENCES\tINDEX")
	for _, c := range columns {
		def := "-"
		if c.Default != nil {
			def = fmt.Sprint(c.Default)
		}
		ref := "-"
		if c.ForeignKey != nil {
			ref = c.ForeignKey.Table + "(" + c.ForeignKey.Column + ")"
		}
		idx := "-"
		if c.Index != nil {
			idx = c.Index.Origin
			if c.Index.Unique {
				idx += ",unique"
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%d\t%s\t%s\n",
			c.CID, c.Name, c.Type, c.NotNull, def, c.PrimaryKey, ref, idx)
	}
	w.Flush()
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match <other-db>",
		Short: "Check that every table of the database exists with the same columns in another",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				other, err := sqlite.NewReadOnlyDB(ctx, args[0])
				if err != nil {
					return err
				}
				defer other.Close()

				ok, err := db.Match(ctx, other)
				if err != nil {
					return err
				}
				if !ok {
					if err := reportMismatch(ctx, cmd, db, other); err != nil {
						return err
					}
					return ErrSchemaMismatch
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schemas match")
				return nil
			}, readOnly)
		},
	}
}

// reportMismatch prints the tables whose structure differs. Both schemas are
// read concurrently; each handle serializes its own engine calls.
func reportMismatch(ctx context.Context, cmd *cobra.Command, db, other *sqlite.DB) error {
	var mine, theirs map[string][]sqlite.ColumnInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mine, err = schemaOf(gctx, db)
		return err
	})
	g.Go(func() (err error) {
		theirs, err = schemaOf(gctx, other)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for name, columns := range mine {
		got, ok := theirs[name]
		switch {
		case !ok:
			fmt.Fprintf(out, "missing table: %s\n", name)
		case !sameColumns(columns, got):
			fmt.Fprintf(out, "different columns: %s\n", name)
		}
	}
	return nil
}

func schemaOf(ctx context.Context, db *sqlite.DB) (map[string][]sqlite.ColumnInfo, error) {
	tables, err := db.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	schema := make(map[string][]sqlite.ColumnInfo, len(tables))
	for _, t := range tables {
		columns, err := db.Inspect(ctx, t)
		if err != nil {
			return nil, err
		}
		schema[t] = columns
	}
	return schema, nil
}

func sameColumns(a, b []sqlite.ColumnInfo) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func newDumpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [file]",
		Short: "Write an SQL text dump to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				if len(args) == 1 {
					return db.DumpFile(ctx, args[0])
				}
				return db.DumpTo(ctx, cmd.OutOrStdout())
			}, readOnly)
		},
	}
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dst>",
		Short: "Write a consistent copy of the database to dst",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				if err := db.Backup(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
				return nil
			}, existingOnly)
		},
	}
}

func newExecCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "exec <script.sql>",
		Short: "Execute an SQL script, '-' reads stdin",
		Example: `  litedb exec seed.sql
  litedb exec --mode NONE dump.sql`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lockMode, err := sqlite.ParseTxLockMode(mode)
			if err != nil {
				return err
			}
			script, err := readScript(cmd, args[0])
			if err != nil {
				return err
			}
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				before, err := db.TotalChanges(ctx)
				if err != nil {
					return err
				}
				cur, err := db.ExecuteScript(ctx, script, lockMode)
				if err != nil {
					return err
				}
				if err := cur.Close(); err != nil {
					return err
				}
				after, err := db.TotalChanges(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows changed\n", after-before)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(sqlite.TxLockDeferred), "Transaction mode: DEFERRED, IMMEDIATE, EXCLUSIVE or NONE")
	return cmd
}

func readScript(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newVacuumCmd(opts *rootOptions) *cobra.Command {
	var into string
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file and refresh planner statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *sqlite.DB) error {
				if into != "" {
					return db.VacuumInto(ctx, into)
				}
				if err := db.Vacuum(ctx); err != nil {
					return err
				}
				return db.Optimize(ctx)
			}, existingOnly)
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "Write a vacuumed copy to this file instead")
	return cmd
}
