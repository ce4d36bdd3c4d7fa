// Package commands implements the ClawGate CLI commands using cobra.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the CLI root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawgate",
		Short: "ClawGate - chat gateway for the agent engine",
		Long: `ClawGate bridges chat platforms (Telegram, Discord, WhatsApp, local
console) to the agent engine: it routes messages into tasks, streams agent
output back as live drafts, and handles approvals from chat.

Examples:
  clawgate serve
  clawgate serve --channel telegram
  clawgate setup`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newVersionCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// newVersionCmd creates the `clawgate version` command.
func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the clawgate version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clawgate %s\n", version)
		},
	}
}
