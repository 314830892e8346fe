// Package cli defines Cobra command definitions for the focusroom CLI.
// This file contains the root command and version flag.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "focusroom",
	Short: "Shared virtual study room",
	Long: `Focusroom keeps a small group visible to each other while they work.
Join the room under a display name, start and stop focus sessions, and
see who else is studying right now. Presence lives in Redis; finished
sessions and feedback land in PostgreSQL for the dashboard.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(janitorCmd)
}
