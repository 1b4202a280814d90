package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ntfsbox/pkg/app/container"
)

var checkCmd = &cobra.Command{
	Use:   "check [container-path]",
	Short: "Verify a sandbox container",
	Long: `Locate the marker, compare it with the volume's boot sector and rebuild
the cluster allocation from the MFT to compare it with $Bitmap. Nothing is
written.

Examples:
  ntfsbox check box.img
  ntfsbox check box.img -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, containerPath string) error {
	ctx, svc, err := newAppContext(cmd)
	if err != nil {
		return err
	}

	response, err := container.HandleCheck(ctx, svc, &container.CheckRequest{ContainerPath: containerPath})
	if err != nil {
		return err
	}
	if ctx.Quiet {
		return nil
	}
	return container.FormatOutput(cmd.OutOrStdout(), response, ctx.OutputFormat)
}
