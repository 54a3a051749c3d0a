package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/app"
	"github.com/lehigh-university-libraries/shelfscan/internal/pipeline"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail stale scans and delete expired sessions once",
		Long: `Runs a single maintenance pass, for deployments that schedule cleanup
externally instead of relying on the sweeper inside serve.`,
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

			orch := pipeline.New(store, nil, nil, nil, nil, nil, pipeline.Options{
				SessionTTL: cfg.Pipeline.SessionTTL,
				StaleAfter: cfg.Pipeline.StaleAfter,
			})
			res, err := orch.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale sessions, deleted %d expired sessions\n", res.Failed, res.Deleted)
			return nil
		},
	}
}
