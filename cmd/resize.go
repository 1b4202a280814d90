package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ntfsbox/pkg/app/container"
)

var (
	resizeSize  string
	resizeForce bool
)

var resizeCmd = &cobra.Command{
	Use:   "resize [container-path]",
	Short: "Grow or shrink the volume inside a sandbox container",
	Long: `Resize the volume and its container. Growing extends the backing file
first; shrinking moves data below the new end, then truncates the file.
The volume is marked dirty until the resize has been synced.

Examples:
  # Grow to 2 GiB
  ntfsbox resize box.img --size 2GiB

  # Shrink a volume that was left dirty by an interrupted resize
  ntfsbox resize box.img --size 512 --force`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(resizeCmd)

	resizeCmd.Flags().StringVarP(&resizeSize, "size", "s", "", "new volume size (plain numbers are MiB; 512k, 10MB, 2GiB)")
	resizeCmd.Flags().BoolVarP(&resizeForce, "force", "f", false, "resize even when the volume is marked dirty")
	_ = resizeCmd.MarkFlagRequired("size")
}

func runResize(cmd *cobra.Command, containerPath string) error {
	ctx, svc, err := newAppContext(cmd)
	if err != nil {
		return err
	}

	request := &container.ResizeRequest{
		ContainerPath: containerPath,
		Size:          resizeSize,
		Force:         resizeForce,
	}
	response, err := container.HandleResize(ctx, svc, request)
	if err != nil {
		return err
	}
	if ctx.Quiet {
		return nil
	}
	return container.FormatOutput(cmd.OutOrStdout(), response, ctx.OutputFormat)
}
