package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// StoreConfiguration controls the embedded SQLite store
type StoreConfiguration struct {
	BusyTimeoutMS   int `toml:"busy_timeout_ms"`
	ColumnCacheSize int `toml:"column_cache_size"` // Tables whose ordered columns are kept in memory
}

// ConnectionPoolConfiguration controls database connection lifetimes
type ConnectionPoolConfiguration struct {
	MaxIdleTimeSeconds int `toml:"max_idle_time_seconds"` // Max time connection can be idle
	MaxLifetimeSeconds int `toml:"max_lifetime_seconds"`  // Max lifetime of a connection, 0 = forever
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// AdminConfiguration for the inspection HTTP endpoints
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// HealthConfiguration controls the periodic table health collector
type HealthConfiguration struct {
	CollectIntervalSeconds int `toml:"collect_interval_seconds"`
}

// Configuration is the main configuration structure
type Configuration struct {
	DataDir        string `toml:"data_dir"`
	DatabaseFile   string `toml:"database_file"`
	AttachmentsDir string `toml:"attachments_dir"`

	Store          StoreConfiguration          `toml:"store"`
	ConnectionPool ConnectionPoolConfiguration `toml:"connection_pool"`
	Logging        LoggingConfiguration        `toml:"logging"`
	Prometheus     PrometheusConfiguration     `toml:"prometheus"`
	Admin          AdminConfiguration          `toml:"admin"`
	Health         HealthConfiguration         `toml:"health"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DataDir:        "./fieldsync-data",
	DatabaseFile:   "fieldsync.db",
	AttachmentsDir: "",

	Store: StoreConfiguration{
		BusyTimeoutMS:   5000,
		ColumnCacheSize: 128,
	},

	ConnectionPool: ConnectionPoolConfiguration{
		MaxIdleTimeSeconds: 0,
		MaxLifetimeSeconds: 0,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:   true,
		Namespace: "fieldsync",
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8090,
	},

	Health: HealthConfiguration{
		CollectIntervalSeconds: 30,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(GetAttachmentsPath(), 0755); err != nil {
		return fmt.Errorf("failed to create attachments directory: %w", err)
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if Config.DatabaseFile == "" {
		return fmt.Errorf("database file name is required")
	}

	if Config.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("store busy timeout must be >= 0")
	}

	if Config.Store.ColumnCacheSize < 1 {
		return fmt.Errorf("column cache size must be >= 1")
	}

	if Config.ConnectionPool.MaxIdleTimeSeconds < 0 {
		return fmt.Errorf("connection pool max idle time must be >= 0")
	}

	if Config.ConnectionPool.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("connection pool max lifetime must be >= 0")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled && Config.Prometheus.Namespace == "" {
		return fmt.Errorf("prometheus namespace is required when metrics are enabled")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Health.CollectIntervalSeconds < 1 {
		return fmt.Errorf("health collect interval must be >= 1 second")
	}

	return nil
}

// GetDatabasePath returns the path of the SQLite database file
func GetDatabasePath() string {
	return filepath.Join(Config.DataDir, Config.DatabaseFile)
}

// GetAttachmentsPath returns the root of the per-table attachment tree.
// Defaults to <data_dir>/attachments when not configured.
func GetAttachmentsPath() string {
	if Config.AttachmentsDir != "" {
		return Config.AttachmentsDir
	}
	return filepath.Join(Config.DataDir, "attachments")
}

// IsAdminAuthEnabled reports whether admin endpoints require the shared secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
