package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tracksync/internal/database"

	"gopkg.in/yaml.v3"
)

const envPrefix = "TRACKSYNC_"

// Sleep strategies
const (
	SleepFromSettings = ""
	SleepAlways       = "always"
	SleepControlled   = "controlled"
)

// Config is the daemon configuration
type Config struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"logLevel"`
	LogJSON     bool            `yaml:"logJSON"`
	DataDir     string          `yaml:"dataDir"`
	Database    database.Config `yaml:"database"`
	API         APIConfig       `yaml:"api"`
	Network     NetworkConfig   `yaml:"network"`
	Sync        SyncConfig      `yaml:"sync"`
	Recorder    RecorderConfig  `yaml:"recorder"`
	Sleep       SleepConfig     `yaml:"sleep"`
	Plugins     PluginsConfig   `yaml:"plugins"`
	Server      ServerConfig    `yaml:"server"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// Token is used when no user is cached locally
	Token string `yaml:"token"`
}

type NetworkConfig struct {
	ProbeURL     string        `yaml:"probeURL"`
	PollInterval time.Duration `yaml:"pollInterval"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	BatchSize        int           `yaml:"batchSize"`
	FailureThreshold int           `yaml:"failureThreshold"`
}

type RecorderConfig struct {
	TickPeriod     time.Duration `yaml:"tickPeriod"`
	IntervalPeriod time.Duration `yaml:"intervalPeriod"`
}

// SleepConfig overrides the stored app settings when set
type SleepConfig struct {
	Strategy        string        `yaml:"strategy"`
	InactivityLimit time.Duration `yaml:"inactivityLimit"`
	PollInterval    time.Duration `yaml:"pollInterval"`
}

type PluginsConfig struct {
	Dir             string        `yaml:"dir"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the production defaults
func Default() *Config {
	return &Config{
		Environment: "production",
		LogLevel:    "info",
		DataDir:     defaultDataDir(),
		Database:    *database.DefaultConfig(),
		API: APIConfig{
			BaseURL:        "http://localhost:3000/api",
			RequestTimeout: 30 * time.Second,
		},
		Network: NetworkConfig{
			PollInterval: 30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Sync: SyncConfig{
			Interval:         5 * time.Minute,
			BatchSize:        20,
			FailureThreshold: 5,
		},
		Recorder: RecorderConfig{
			TickPeriod:     time.Second,
			IntervalPeriod: 10 * time.Minute,
		},
		Sleep: SleepConfig{
			PollInterval: 10 * time.Second,
		},
		Plugins: PluginsConfig{
			DownloadTimeout: 2 * time.Minute,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7425",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tracksync")
	}
	return ".tracksync"
}

// Load reads path (optional), applies TRACKSYNC_* overrides and validates
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TRACKSYNC_* variables. Database settings use
// the TRACKSYNC_DB_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(envPrefix + "ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", envPrefix, err)
		}
		c.LogJSON = b
	}
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(envPrefix + "API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv(envPrefix + "PROBE_URL"); v != "" {
		c.Network.ProbeURL = v
	}
	if v := os.Getenv(envPrefix + "SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(envPrefix + "SLEEP_STRATEGY"); v != "" {
		c.Sleep.Strategy = v
	}
	if v := os.Getenv(envPrefix + "PLUGINS_DIR"); v != "" {
		c.Plugins.Dir = v
	}

	durations := map[string]*time.Duration{
		"API_TIMEOUT":      &c.API.RequestTimeout,
		"SYNC_INTERVAL":    &c.Sync.Interval,
		"NETWORK_INTERVAL": &c.Network.PollInterval,
		"TICK_PERIOD":      &c.Recorder.TickPeriod,
		"INTERVAL_PERIOD":  &c.Recorder.IntervalPeriod,
		"INACTIVITY_LIMIT": &c.Sleep.InactivityLimit,
	}
	for key, dst := range durations {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"SYNC_BATCH_SIZE":        &c.Sync.BatchSize,
		"SYNC_FAILURE_THRESHOLD": &c.Sync.FailureThreshold,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	return c.Database.LoadFromEnvironment()
}

// resolvePaths places relative store paths under DataDir
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		return
	}
	if !c.Database.IsInMemory() && !filepath.IsAbs(c.Database.Path) {
		c.Database.Path = filepath.Join(c.DataDir, c.Database.Path)
	}
	if c.Plugins.Dir == "" {
		c.Plugins.Dir = filepath.Join(c.DataDir, "plugins")
	} else if !filepath.IsAbs(c.Plugins.Dir) {
		c.Plugins.Dir = filepath.Join(c.DataDir, c.Plugins.Dir)
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment {
	case "development", "test", "production":
	default:
		add("invalid environment: %s", c.Environment)
	}
	if c.DataDir == "" {
		add("dataDir cannot be empty")
	}
	if err := c.Database.Validate(); err != nil {
		add("database: %w", err)
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("api.baseURL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.RequestTimeout <= 0 {
		add("api.requestTimeout must be positive")
	}
	if c.Network.ProbeURL != "" {
		if u, err := url.Parse(c.Network.ProbeURL); err != nil || u.Scheme == "" {
			add("network.probeURL must be an absolute URL, got %q", c.Network.ProbeURL)
		}
	}
	if c.Network.PollInterval <= 0 || c.Network.ProbeTimeout <= 0 {
		add("network intervals must be positive")
	}
	if c.Sync.Interval <= 0 {
		add("sync.interval must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		add("sync.batchSize must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.FailureThreshold <= 0 {
		add("sync.failureThreshold must be positive, got %d", c.Sync.FailureThreshold)
	}
	if c.Recorder.TickPeriod <= 0 {
		add("recorder.tickPeriod must be positive")
	}
	if c.Recorder.IntervalPeriod < c.Recorder.TickPeriod {
		add("recorder.intervalPeriod must not be shorter than tickPeriod")
	}
	switch strings.ToLower(c.Sleep.Strategy) {
	case SleepFromSettings, SleepAlways, SleepControlled:
	default:
		add("invalid sleep.strategy: %s", c.Sleep.Strategy)
	}
	if c.Sleep.InactivityLimit < 0 || c.Sleep.PollInterval <= 0 {
		add("sleep durations are invalid")
	}
	if c.Plugins.DownloadTimeout <= 0 {
		add("plugins.downloadTimeout must be positive")
	}
	if c.Server.Addr == "" {
		add("server.addr cannot be empty")
	}

	return errors.Join(errs...)
}

// ProbeURL is where connectivity is checked, the API base URL by default
func (c *Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	return c.API.BaseURL
}
