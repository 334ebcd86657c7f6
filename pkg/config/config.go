package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the mirror.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Remote archive endpoints
	Archive ArchiveConfig `yaml:"archive"`

	// Disk cache for bulk metadata documents
	Cache CacheConfig `yaml:"cache"`

	// Sync engine tunables
	Sync SyncConfig `yaml:"sync"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"dandisql"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"dandi_mirror"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"8"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ArchiveConfig holds the remote archive surfaces consumed by the sync engine.
type ArchiveConfig struct {
	// APIBaseURL is the paginated listing/detail API.
	APIBaseURL string `yaml:"api_base_url" env:"ARCHIVE_API_BASE_URL" env-default:"https://api.dandiarchive.org/api"`
	// BulkBaseURL is the bulk document store serving full metadata documents.
	BulkBaseURL string `yaml:"bulk_base_url" env:"ARCHIVE_BULK_BASE_URL" env-default:"https://api.dandiarchive.org/api"`
	// LindiBaseURL serves derived structural metadata for NWB assets.
	LindiBaseURL string `yaml:"lindi_base_url" env:"ARCHIVE_LINDI_BASE_URL" env-default:"https://lindi.neurosift.org/dandi"`
	// RequestTimeoutSeconds bounds every outbound HTTP request.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"ARCHIVE_REQUEST_TIMEOUT_SECONDS" env-default:"30"`
}

// CacheConfig holds the on-disk document cache settings.
type CacheConfig struct {
	Dir        string `yaml:"dir" env:"CACHE_DIR" env-default:".cache/documents"`
	TTLMinutes int    `yaml:"ttl_minutes" env:"CACHE_TTL_MINUTES" env-default:"360"`
}

// SyncConfig holds sync engine tunables.
type SyncConfig struct {
	// LindiWorkers sizes the enrichment worker pool.
	LindiWorkers int `yaml:"lindi_workers" env:"SYNC_LINDI_WORKERS" env-default:"4"`
	// MaxAssetsPerDandiset caps per-dandiset asset processing.
	MaxAssetsPerDandiset int `yaml:"max_assets_per_dandiset" env:"SYNC_MAX_ASSETS_PER_DANDISET" env-default:"2000"`
	// ErrorMessageLimit bounds the error text stored on a failed sync run.
	ErrorMessageLimit int `yaml:"error_message_limit" env:"SYNC_ERROR_MESSAGE_LIMIT" env-default:"1000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error: the sync job usually runs from cron
// with env-only configuration.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Archive.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("archive request timeout must be positive, got %d", c.Archive.RequestTimeoutSeconds)
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %d", c.Cache.TTLMinutes)
	}
	if c.Sync.LindiWorkers <= 0 {
		return fmt.Errorf("lindi worker count must be positive, got %d", c.Sync.LindiWorkers)
	}
	if c.Sync.MaxAssetsPerDandiset <= 0 {
		return fmt.Errorf("max assets per dandiset must be positive, got %d", c.Sync.MaxAssetsPerDandiset)
	}
	return nil
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *ArchiveConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TTL returns the cache TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
