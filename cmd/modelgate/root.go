package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modelgate",
	Short: "Language-aware dispatch gateway for chat completion models",
	Long: `Modelgate routes chat completions to backend models.

It detects the conversation language, picks the best model for it,
enforces per-user spend budgets and sliding-window rate limits,
caches responses, and fails over to fallback models when a backend
misbehaves.

Quick start:
  modelgate serve     # Start the gateway
  modelgate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "modelgate.yaml", "config file path")
}
