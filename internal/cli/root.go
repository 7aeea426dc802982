package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath  string
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "popsplit",
	Short: "Popsplit - a self-hosted A/B testing engine for popups and forms",
	Long: `Popsplit is a self-hosted A/B testing engine for popup and form variants.
Single Go binary, embedded SQLite, deterministic traffic allocation,
two-proportion z-test significance and automatic winner declaration.

Running without a subcommand starts the server (same as 'popsplit serve').`,
	RunE: runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("PS_DB_PATH", "./popsplit.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", getEnvOrDefault("PS_CONFIG", "./popsplit.yml"), "config file path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
