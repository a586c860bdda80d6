package cli

import (
	"github.com/spf13/cobra"
)

// Version is the authctl version, injected at build time:
//
//	go build -ldflags "-X github.com/voiceagent/backend/internal/cli.Version=1.2.3"
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show authctl version",
	// Printing the version must not require a valid environment.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		printResult(cmd.OutOrStdout(), map[string]string{"version": Version}, "authctl %s", Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
