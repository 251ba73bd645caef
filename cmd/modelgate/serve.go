package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/modelgate/bootstrap"
	"github.com/artpar/modelgate/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch gateway",
	Long: `Start the modelgate server.

The server will:
  - Load configuration from modelgate.yaml (or --config)
  - Or load configuration from MODELGATE_* environment variables
  - Connect to the database and seed the model catalog
  - Start dispatching completion requests to backend models

Environment variables (for Docker deployments):
  MODELGATE_PROVIDER_API_KEY  - Provider API key (required)
  MODELGATE_PROVIDER_URL      - Provider base URL (default: OpenRouter)
  MODELGATE_DATABASE_DSN      - Database path (default: modelgate.db)
  MODELGATE_SERVER_PORT       - Server port (default: 8080)
  MODELGATE_BUDGET_DAILY      - Daily spend limit in USD
  MODELGATE_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  modelgate serve
  modelgate serve --config /etc/modelgate/config.yaml

  # Docker (env vars only):
  MODELGATE_PROVIDER_API_KEY=sk-... modelgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	// No configuration at all
	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set MODELGATE_PROVIDER_API_KEY environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  MODELGATE_PROVIDER_API_KEY=sk-... modelgate serve")
		return nil
	}

	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
		cfgFile = ""
	}

	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
