package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "TRACKSYNC_DB_"

// parseBoolEnv reads a boolean environment variable; the second result
// reports whether a recognisable value was present.
func parseBoolEnv(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed, true
	}
	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

// Config holds the local store connection and pragma settings
type Config struct {
	Path                  string        `json:"path" yaml:"path"`
	MaxConnections        int           `json:"maxConnections" yaml:"maxConnections"`
	MaxIdleConns          int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime       time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	ConnMaxIdleTime       time.Duration `json:"connMaxIdleTime" yaml:"connMaxIdleTime"`
	ForceSingleConnection bool          `json:"forceSingleConnection" yaml:"forceSingleConnection"`

	// Migrations are embedded; AutoMigrate only controls whether Connect callers run them
	AutoMigrate bool `json:"autoMigrate" yaml:"autoMigrate"`

	JournalMode     string `json:"journalMode" yaml:"journalMode"`         // WAL, DELETE, MEMORY...
	SynchronousMode string `json:"synchronousMode" yaml:"synchronousMode"` // OFF, NORMAL, FULL, EXTRA
	CacheSize       int    `json:"cacheSize" yaml:"cacheSize"`             // KB
	BusyTimeout     int    `json:"busyTimeout" yaml:"busyTimeout"`         // ms
	ForeignKeys     bool   `json:"foreignKeys" yaml:"foreignKeys"`

	// Synced, stopped timers older than this are pruned (0 = keep forever)
	RetentionDays int `json:"retentionDays" yaml:"retentionDays"`

	Environment string `json:"environment" yaml:"environment"` // development, test, production
}

// DefaultConfig returns the production configuration
func DefaultConfig() *Config {
	return &Config{
		Path:            "tracksync.db",
		MaxConnections:  4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 24 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
		JournalMode:     "WAL",
		SynchronousMode: "NORMAL",
		CacheSize:       2000,
		BusyTimeout:     30000,
		ForeignKeys:     true,
		RetentionDays:   90,
		Environment:     "production",
	}
}

// DevelopmentConfig keeps a separate database file and never prunes
func DevelopmentConfig() *Config {
	config := DefaultConfig()
	config.Path = "tracksync_dev.db"
	config.Environment = "development"
	config.RetentionDays = 0
	return config
}

// TestConfig returns an in-memory, single connection configuration
func TestConfig() *Config {
	config := DefaultConfig()
	config.Path = ":memory:"
	config.Environment = "test"
	config.ForceSingleConnection = true
	config.JournalMode = "MEMORY"
	config.SynchronousMode = "OFF"
	config.CacheSize = 1000
	config.BusyTimeout = 1000
	config.RetentionDays = 0
	// the only connection must never be recycled or the database is gone
	config.ConnMaxLifetime = 0
	config.ConnMaxIdleTime = 0
	return config
}

// LoadFromEnvironment applies TRACKSYNC_DB_* overrides; malformed values are ignored
func (c *Config) LoadFromEnvironment() error {
	if path := os.Getenv(envPrefix + "PATH"); path != "" {
		c.Path = path
	}

	setInt := func(key string, dst *int, minValue int) {
		if raw := os.Getenv(envPrefix + key); raw != "" {
			if val, err := strconv.Atoi(raw); err == nil && val >= minValue {
				*dst = val
			}
		}
	}
	setInt("MAX_CONNECTIONS", &c.MaxConnections, 1)
	setInt("MAX_IDLE_CONNECTIONS", &c.MaxIdleConns, 0)
	setInt("CACHE_SIZE", &c.CacheSize, 1)
	setInt("BUSY_TIMEOUT", &c.BusyTimeout, 0)
	setInt("RETENTION_DAYS", &c.RetentionDays, 0)

	setDuration := func(key string, dst *time.Duration) {
		if raw := os.Getenv(envPrefix + key); raw != "" {
			if val, err := time.ParseDuration(raw); err == nil {
				*dst = val
			}
		}
	}
	setDuration("CONN_MAX_LIFETIME", &c.ConnMaxLifetime)
	setDuration("CONN_MAX_IDLE_TIME", &c.ConnMaxIdleTime)

	if v, ok := parseBoolEnv(envPrefix + "AUTO_MIGRATE"); ok {
		c.AutoMigrate = v
	}
	if v, ok := parseBoolEnv(envPrefix + "FOREIGN_KEYS"); ok {
		c.ForeignKeys = v
	}
	if v, ok := parseBoolEnv(envPrefix + "FORCE_SINGLE_CONNECTION"); ok {
		c.ForceSingleConnection = v
	}
	if mode := os.Getenv(envPrefix + "JOURNAL_MODE"); mode != "" {
		c.JournalMode = mode
	}
	if mode := os.Getenv(envPrefix + "SYNCHRONOUS_MODE"); mode != "" {
		c.SynchronousMode = mode
	}
	if env := os.Getenv("TRACKSYNC_ENVIRONMENT"); env != "" {
		c.Environment = env
	}

	return nil
}

var (
	validJournalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	validSyncModes    = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
	validEnvironments = []string{"development", "test", "production"}
)

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

// Validate checks the configuration and creates the database directory if needed
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if !c.IsInMemory() {
		if dir := filepath.Dir(c.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	if c.MaxConnections <= 0 {
		return fmt.Errorf("maxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("maxIdleConns cannot be negative, got %d", c.MaxIdleConns)
	}
	if c.MaxIdleConns > c.MaxConnections {
		return fmt.Errorf("maxIdleConns (%d) cannot be greater than maxConnections (%d)", c.MaxIdleConns, c.MaxConnections)
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return fmt.Errorf("connection lifetimes cannot be negative")
	}

	if !oneOf(c.JournalMode, validJournalModes) {
		return fmt.Errorf("invalid journalMode: %s", c.JournalMode)
	}
	if c.IsInMemory() && strings.EqualFold(c.JournalMode, "WAL") {
		return fmt.Errorf("journalMode cannot be WAL when using in-memory database")
	}
	if !oneOf(c.SynchronousMode, validSyncModes) {
		return fmt.Errorf("invalid synchronousMode: %s", c.SynchronousMode)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cacheSize must be positive, got %d", c.CacheSize)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busyTimeout cannot be negative, got %d", c.BusyTimeout)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retentionDays cannot be negative, got %d", c.RetentionDays)
	}
	if !oneOf(c.Environment, validEnvironments) {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	return nil
}

// GetConnectionString builds the go-sqlite3 DSN with pragmas as query parameters
func (c *Config) GetConnectionString() string {
	values := url.Values{}
	if c.ForeignKeys {
		values.Set("_foreign_keys", "on")
	} else {
		values.Set("_foreign_keys", "off")
	}
	values.Set("_journal_mode", c.JournalMode)
	values.Set("_synchronous", c.SynchronousMode)
	// negative so SQLite reads it as KiB
	values.Set("_cache_size", strconv.Itoa(-c.CacheSize))
	values.Set("_busy_timeout", strconv.Itoa(c.BusyTimeout))

	path := c.Path
	path = strings.ReplaceAll(path, "?", "%3F")
	path = strings.ReplaceAll(path, "&", "%26")

	return path + "?" + values.Encode()
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// IsInMemory reports whether the database lives only in memory
func (c *Config) IsInMemory() bool {
	return c.Path == ":memory:"
}

// Retention returns the pruning horizon, zero when pruning is disabled
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
