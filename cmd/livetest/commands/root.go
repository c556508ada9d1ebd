// Package commands implements CLI commands for livetest.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nginxlive/livetest/internal/logger"
)

var version string

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:   "livetest",
		Short: "Integration tests for nginx-live",
		Long: `livetest drives scenarios against a live nginx-live server.

Each scenario configures and starts the server, shapes channels through the
control API, pushes media over the ingest port and checks the error log and
the delivered playlists.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetVerbose(debug)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		versionCmd(),
		runCmd(),
		listCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute(v string) error {
	version = v
	return newRootCmd().Execute()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "livetest version %s\n", version)
		},
	}
}
