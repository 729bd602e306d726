package cli

import (
	"github.com/spf13/cobra"

	"litedb/internal/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and scheduled maintenance",
		Long: `Open the configured database, start the maintenance scheduler and
serve the admin API until interrupted.

Examples:
  litedb serve
  litedb serve --db data/app.db --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts, true, func(c *config.Config) {
				if addr != "" {
					c.HTTP.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
