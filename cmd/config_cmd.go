package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the Plinth configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Metadata:\n")
		fmt.Printf("    Connection:     %s\n", maskSecret(cfg.Metadata.ConnectionString))
		fmt.Printf("    Database:       %s\n", cfg.Metadata.Database)
		fmt.Println()
		fmt.Printf("  Storage:\n")
		fmt.Printf("    DSN:            %s\n", maskSecret(cfg.Storage.DSN))
		fmt.Printf("    Max Conns:      %d\n", cfg.Storage.MaxConnections)
		fmt.Println()
		fmt.Printf("  Server:\n")
		fmt.Printf("    Address:        %s\n", cfg.Server.Address)
		fmt.Println()
		fmt.Printf("  Worker:\n")
		fmt.Printf("    Concurrency:    %d\n", cfg.Worker.Concurrency)
		fmt.Printf("    Max Attempts:   %d\n", cfg.Worker.MaxAttempts)
		fmt.Println()
		fmt.Printf("  Retention:\n")
		fmt.Printf("    Audit Days:     %d\n", cfg.Retention.AuditDays)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		var errors []string

		if cfg.Metadata.ConnectionString == "" {
			errors = append(errors, "metadata.connection_string is required")
		}
		if cfg.Metadata.Database == "" {
			errors = append(errors, "metadata.database is required")
		}
		if cfg.Storage.DSN == "" {
			errors = append(errors, "storage.dsn is required")
		}

		if len(errors) > 0 {
			fmt.Println("Validation errors:")
			for _, e := range errors {
				fmt.Printf("  - %s\n", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errors))
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
