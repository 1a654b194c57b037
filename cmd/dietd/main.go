package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "dietd",
	Short: "Local Smart Diet daemon and CLI",
	Long: `dietd runs a local daemon that caches personalized diet suggestions,
tracks meal consumption with retry-on-failure, and exposes the whole
surface over a local HTTP API and an MCP stdio server.

Start the daemon with 'dietd start', then use the other commands to talk
to it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(mealsCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
