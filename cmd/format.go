package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ntfsbox/pkg/app/container"
)

var (
	formatSize           string
	formatLabel          string
	formatClusterSize    string
	formatSectorSize     string
	formatRecordSize     string
	formatIndexBlockSize string
)

var formatCmd = &cobra.Command{
	Use:   "format [container-path]",
	Short: "Create a sandbox container holding an empty NTFS volume",
	Long: `Create or replace a sandbox container. The backing file is sized to the
volume plus the marker tail, the volume is formatted and the marker is
written behind it.

Examples:
  # 64 MiB volume with default geometry
  ntfsbox format box.img --size 64

  # 1 GiB volume with 64 KiB clusters and a label
  ntfsbox format box.img --size 1GiB --cluster-size 64k --label data`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormat(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)

	formatCmd.Flags().StringVarP(&formatSize, "size", "s", "", "volume size (plain numbers are MiB; 512k, 10MB, 2GiB)")
	formatCmd.Flags().StringVarP(&formatLabel, "label", "L", "", "volume label")
	formatCmd.Flags().StringVar(&formatClusterSize, "cluster-size", "", "cluster size (default from config)")
	formatCmd.Flags().StringVar(&formatSectorSize, "sector-size", "", "sector size (default from config)")
	formatCmd.Flags().StringVar(&formatRecordSize, "record-size", "", "MFT record size (default from config)")
	formatCmd.Flags().StringVar(&formatIndexBlockSize, "index-block-size", "", "index block size (default from config)")
	_ = formatCmd.MarkFlagRequired("size")
}

func runFormat(cmd *cobra.Command, containerPath string) error {
	ctx, svc, err := newAppContext(cmd)
	if err != nil {
		return err
	}

	request := &container.FormatRequest{
		ContainerPath:  containerPath,
		Size:           formatSize,
		Label:          formatLabel,
		ClusterSize:    formatClusterSize,
		SectorSize:     formatSectorSize,
		RecordSize:     formatRecordSize,
		IndexBlockSize: formatIndexBlockSize,
	}

	response, err := container.HandleFormat(ctx, svc, request)
	if err != nil {
		return err
	}
	if ctx.Quiet {
		return nil
	}
	return container.FormatOutput(cmd.OutOrStdout(), response, ctx.OutputFormat)
}
