// Package main implements the calmirror service CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"calmirror/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "calmirror",
	Short: "Mirror dated workspace tasks onto an external calendar",
	Long: `calmirror keeps a single external calendar as a derived view over the
dated tasks of a workspace database. The calendar is never treated as a
source of truth: every pass rewrites it from the task records.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the configuration file")
}
