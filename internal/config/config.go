package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.plinth/plinth.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server,omitempty"`
	Worker    WorkerConfig    `yaml:"worker,omitempty"`
	Retention RetentionConfig `yaml:"retention,omitempty"`
	Logging   LogConfig       `yaml:"logging,omitempty"`
}

// MetadataConfig defines the MongoDB control-plane connection.
type MetadataConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Database         string `yaml:"database"`
}

// StorageConfig defines the Postgres cluster tenant data lives in.
type StorageConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"max_connections,omitempty"` // per tenant pool, default 10, max 50
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Address string `yaml:"address,omitempty"` // default :8080
}

// WorkerConfig defines the schema job worker.
type WorkerConfig struct {
	Concurrency int    `yaml:"concurrency,omitempty"`  // default 4
	MaxAttempts int    `yaml:"max_attempts,omitempty"` // default 3
	LockPath    string `yaml:"lock_path,omitempty"`
}

// RetentionConfig defines how long audit history is kept.
type RetentionConfig struct {
	AuditDays int `yaml:"audit_days,omitempty"` // default 90
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.plinth/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Storage.MaxConnections == 0 {
		c.Storage.MaxConnections = 10
	}
	if c.Storage.MaxConnections > 50 {
		c.Storage.MaxConnections = 50
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Retention.AuditDays == 0 {
		c.Retention.AuditDays = 90
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.plinth/logs/")
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Storage.DSN, err = ResolveValue(c.Storage.DSN)
	if err != nil {
		return fmt.Errorf("storage dsn: %w", err)
	}
	c.Metadata.ConnectionString, err = ResolveValue(c.Metadata.ConnectionString)
	if err != nil {
		return fmt.Errorf("metadata connection string: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
