package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/glowlink/internal/logging"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "glowd: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "glowd",
		Short: "Run and inspect glowlink lighting nodes",
		Long: `glowd runs a glowlink node: a light controller that keeps its
active lighting mode in sync with every peer on the local broadcast medium.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			profile := logging.ProfileTool
			if cmd.Name() == "run" {
				profile = logging.ProfileDaemon
			}
			logging.Setup(profile)
			if logLevel != "" && !logging.ApplyLevel(logLevel) {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (trace|debug|info|warn|error)")

	root.AddCommand(
		runCmd(),
		idCmd(),
		decodeCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}
