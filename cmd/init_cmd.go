package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file interactively",
	Long:  `Walk through prompts to create a Plinth configuration file at ~/.plinth/plinth.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("Plinth Configuration Setup")
		fmt.Println("==========================")
		fmt.Println()

		fmt.Println("Control Plane (MongoDB)")
		fmt.Println("-----------------------")
		connStr := prompt(reader, "Connection string", "mongodb://localhost:27017")
		database := prompt(reader, "Database name", "plinth")
		fmt.Println()

		fmt.Println("Tenant Storage (Postgres)")
		fmt.Println("-------------------------")
		dsn := prompt(reader, "DSN", "postgres://localhost:5432/plinth")
		maxConnsStr := prompt(reader, "Max connections per tenant pool", "10")
		maxConns, err := strconv.Atoi(maxConnsStr)
		if err != nil {
			return fmt.Errorf("invalid connection count: %s", maxConnsStr)
		}
		fmt.Println()

		fmt.Println("Server")
		fmt.Println("------")
		addr := prompt(reader, "Listen address", ":8080")
		fmt.Println()

		cfg := &config.Config{
			Version: config.CurrentVersion,
			Metadata: config.MetadataConfig{
				ConnectionString: connStr,
				Database:         database,
			},
			Storage: config.StorageConfig{
				DSN:            dsn,
				MaxConnections: maxConns,
			},
			Server: config.ServerConfig{
				Address: addr,
			},
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  plinth serve    — Start the HTTP API")
		fmt.Println("  plinth worker   — Start a schema job worker")
		fmt.Println("  plinth status   — Watch the job queue")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
