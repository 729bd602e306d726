package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"litedb/internal/adapter/remote"
	"litedb/internal/platform/httpclient"
	"litedb/internal/platform/logger"
	"litedb/pkg/retry"
)

func newRemoteCmd(opts *rootOptions) *cobra.Command {
	var (
		server string
		client *remote.Client
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running litedb server",
		Long: `Query the admin API of a running 'litedb serve'.

Examples:
  litedb remote health --quick
  litedb remote --server http://db-host:8080 inspect planet`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.New(logger.Options{Env: "prod", ConsoleLevel: "warn", Console: cmd.ErrOrStderr(), App: "litedb"})
			cfg := retry.DefaultConfig()
			cfg.MaxAttempts = 3
			cfg.InitialDelay = 200 * time.Millisecond
			cfg.MaxDelay = 2 * time.Second

			var err error
			client, err = remote.New(server, httpclient.New(
				httpclient.WithLogger(log),
				httpclient.WithRetry(cfg),
				httpclient.WithHeaders(map[string]string{"User-Agent": "litedb/" + version}),
			))
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "Server URL")

	var quick bool
	health := &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := client.Health(cmd.Context(), quick)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", h.Status, h.Path)
			for _, p := range h.Problems {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
			}
			return nil
		},
	}
	health.Flags().BoolVar(&quick, "quick", false, "Also run an integrity check")

	cmd.AddCommand(
		health,
		&cobra.Command{
			Use:   "tables",
			Short: "List tables of the served database",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				tables, err := client.Tables(cmd.Context())
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
			},
		},
		&cobra.Command{
			Use:   "inspect <table>",
			Short: "Show columns of a table of the served database",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				columns, err := client.Inspect(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), columns)
				}
				printColumns(cmd, columns)
				return nil
			},
		},
		&cobra.Command{
			Use:   "dump",
			Short: "Write the SQL dump of the served database to stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return client.Dump(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)
	return cmd
}
