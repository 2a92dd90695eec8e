package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trendcast/internal/config"
	"trendcast/internal/domain"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, "configuration error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "trendcast",
	Short:         "Daily trending-token broadcast to every messaging platform contact",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "trendcast version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, usersCmd, segmentsCmd, triggerCmd, versionCmd)
}
