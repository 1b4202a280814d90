package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ntfsbox/internal/config"
	"github.com/deploymenttheory/go-ntfsbox/pkg/app"
	"github.com/deploymenttheory/go-ntfsbox/pkg/services"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
	configFile   string
)

var rootCmd = &cobra.Command{
	Use:   "ntfsbox",
	Short: "Build and maintain NTFS sandbox containers",
	Long: `ntfsbox creates NTFS volumes inside sandbox container files and keeps
them healthy. A container is a plain file holding the volume followed by a
small marker block that identifies it.

Commands:
  format      Create a container with an empty NTFS volume
  check       Verify the marker and the cluster accounting
  resize      Grow or shrink the volume and its container`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// An interrupt cancels the running command; a resize only honours it
// before its first write.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(app.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ntfsbox-config.yaml in ., ./config, $HOME/.ntfsbox, /etc/ntfsbox)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// newAppContext builds the application context and the container service
// from the global flags and the config file.
func newAppContext(cmd *cobra.Command) (*app.Context, services.ContainerService, error) {
	ctx := app.NewContext()
	if c := cmd.Context(); c != nil {
		ctx.Context = c
	}
	ctx.OutputFormat = GetOutputFormat()
	ctx.Verbose = GetVerbose()
	ctx.Quiet = GetQuiet()
	ctx.ConfigFile = configFile

	cfg, err := config.Load(ctx.ConfigFile)
	if err != nil {
		return nil, nil, app.NewError(app.ErrCodeInvalidInput, "loading config", err)
	}
	if !ctx.Verbose && cfg.LogLevel == "debug" {
		ctx.Verbose = true
	}
	ctx.SetupLogging(cmd.ErrOrStderr())

	svc, err := services.NewServiceFactory(cfg).ContainerService()
	if err != nil {
		return nil, nil, err
	}
	return ctx, svc, nil
}
