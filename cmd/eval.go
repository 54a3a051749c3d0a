package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/evalcmd"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Spine detection evaluation tools",
		Long: `Evaluation tools for measuring how accurately the vision model reads
book spines, against shelf photos labeled with the books they contain.`,
	}

	cmd.AddCommand(evalcmd.NewRunCmd(opts.load))
	cmd.AddCommand(evalcmd.NewReportCmd())

	return cmd
}
