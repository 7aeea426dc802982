package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/server"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the popsplit HTTP server.

The server provides:
  - Variant assignment endpoint for visitor-facing pages
  - Beacon endpoint for view/interaction/conversion events
  - Token-protected admin JSON API (metrics, significance, lifecycle)
  - Health check endpoint

When auto winner declaration is enabled in the config, the server polls the
engine's evaluation on the configured interval.

Example:
  popsplit serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("PS_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") || cfg.Port == 0 {
		cfg.Port = port
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	tokenFile := filepath.Join(filepath.Dir(dbPath), ".popsplit-token")
	srv := server.New(s, cfg, tokenFile)

	fmt.Println()
	fmt.Printf("popsplit running on http://localhost:%d\n", cfg.Port)
	fmt.Printf("Admin API token: %s (also via 'popsplit token')\n", srv.Token())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start(context.Background())
}
