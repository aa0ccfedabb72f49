package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/config"
	"github.com/plinthdb/plinth/internal/metadata"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "plinth",
	Short: "Plinth — schema evolution control plane",
	Long: `Plinth manages collection schemas across isolated tenant databases.
Attribute, index, and collection changes are applied asynchronously by
background workers against each project's Postgres schema, with the
control-plane state tracked in MongoDB.

Common workflow:
  plinth serve    Start the HTTP API
  plinth worker   Start a schema job worker
  plinth status   Watch the job queue`,
}

func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.plinth/plinth.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; default from config)")
}

// effectiveLogLevel prefers the CLI flag over the config file.
func effectiveLogLevel(cfg *config.Config) string {
	if logLevel != "" {
		return logLevel
	}
	return cfg.Logging.Level
}

// connectMetadata opens the control-plane store with a bounded dial.
func connectMetadata(ctx context.Context, cfg *config.Config) (*metadata.Store, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := metadata.NewStore(dialCtx, cfg.Metadata.ConnectionString, cfg.Metadata.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to metadata store: %w", err)
	}
	return store, nil
}
