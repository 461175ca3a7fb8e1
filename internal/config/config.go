// Package config loads importer settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/registry"
)

// Store drivers
const (
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	GCP     GCPConfig     `yaml:"gcp"`
	Archive ArchiveConfig `yaml:"archive"`
	Import  ImportConfig  `yaml:"import"`
	Rules   RulesConfig   `yaml:"rules"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	AuthDisabled   bool          `yaml:"auth_disabled"`
	DevUserID      string        `yaml:"dev_user_id"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ArchiveConfig controls statement archival. An empty bucket disables it.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type ImportConfig struct {
	MaxFileSize        int64         `yaml:"max_file_size"`
	CommitMaxAttempts  int           `yaml:"commit_max_attempts"`
	CommitRetryBackoff time.Duration `yaml:"commit_retry_backoff"`
}

// RulesConfig points at a custom keyword table; empty uses the built-in one
type RulesConfig struct {
	File string `yaml:"file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when nothing is configured
func Default() Config {
	commitOpts := commit.DefaultOptions()
	return Config{
		Server: ServerConfig{
			Port:       "8080",
			DevUserID:  "local-dev",
			SessionTTL: time.Hour,
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "stmtimport.db",
		},
		Archive: ArchiveConfig{
			Prefix: "statements",
		},
		Import: ImportConfig{
			MaxFileSize:        registry.MaxFileSize,
			CommitMaxAttempts:  commitOpts.MaxAttempts,
			CommitRetryBackoff: commitOpts.Backoff,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.AuthDisabled = getEnvBool("STMTIMPORT_AUTH_DISABLED", c.Server.AuthDisabled)
	c.Server.DevUserID = getEnv("STMTIMPORT_DEV_USER_ID", c.Server.DevUserID)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	c.Store.Driver = getEnv("STMTIMPORT_STORE", c.Store.Driver)
	c.Store.SQLitePath = getEnv("STMTIMPORT_SQLITE_PATH", c.Store.SQLitePath)
	c.GCP.ProjectID = getEnv("GCP_PROJECT_ID", c.GCP.ProjectID)
	c.GCP.CredentialsFile = getEnv("STMTIMPORT_CREDENTIALS_FILE", c.GCP.CredentialsFile)
	c.Archive.Bucket = getEnv("GCS_BUCKET_NAME", c.Archive.Bucket)
	c.Import.MaxFileSize = int64(getEnvInt("STMTIMPORT_MAX_FILE_SIZE", int(c.Import.MaxFileSize)))
	c.Import.CommitMaxAttempts = getEnvInt("STMTIMPORT_COMMIT_MAX_ATTEMPTS", c.Import.CommitMaxAttempts)
	c.Rules.File = getEnv("STMTIMPORT_RULES_FILE", c.Rules.File)
	c.Log.Level = getEnv("STMTIMPORT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("STMTIMPORT_LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case DriverFirestore:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("gcp.project_id is required for the firestore driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q (must be sqlite, firestore or memory)", c.Store.Driver)
	}

	if c.Archive.Bucket != "" && c.GCP.ProjectID == "" {
		return fmt.Errorf("gcp.project_id is required when archive.bucket is set")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.SessionTTL < 0 {
		return fmt.Errorf("server.session_ttl cannot be negative")
	}
	if c.Import.MaxFileSize <= 0 || c.Import.MaxFileSize > registry.MaxFileSize {
		return fmt.Errorf("import.max_file_size must be between 1 and %d bytes, got %d", registry.MaxFileSize, c.Import.MaxFileSize)
	}
	if err := c.CommitOptions().Validate(); err != nil {
		return err
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'console' or 'json', got %q", c.Log.Format)
	}
	return nil
}

// CommitOptions returns the commit retry settings
func (c Config) CommitOptions() commit.Options {
	return commit.Options{
		MaxAttempts: c.Import.CommitMaxAttempts,
		Backoff:     c.Import.CommitRetryBackoff,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
