package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/app"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			slog.Info("Database schema up to date", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
