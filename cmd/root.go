// Package cmd defines the tripwire command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tripwire",
	Short: "Threat intelligence matching engine",
	Long: `Tripwire ingests indicator-of-compromise feeds into a cache-backed
store and scans log records for occurrences of known-bad indicators,
emitting scored alerts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (optional)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
