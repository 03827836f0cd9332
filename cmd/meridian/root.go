package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "Meridian - budget ledger and quota enforcement for LLM usage",
	Long: `Meridian meters LLM API usage per principal and enforces spending caps
over daily, weekly, and monthly windows.

It provides:
  - Atomic charge accounting with no lost updates under concurrency
  - Budget windows with lazy reset on the next charge
  - Exactly-once charging for streamed responses
  - Pluggable ledger stores (memory, SQLite, Redis)
  - A per-event usage journal with scheduled retention pruning`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meridian.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
