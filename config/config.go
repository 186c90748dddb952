package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Storage    StorageConfig    `yaml:"storage"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the receipt worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push delivery is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                 int     `yaml:"port"`
	RateLimitPerSec      float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst       int     `yaml:"rate_limit_burst"`
	PickupAttemptsPerMin int     `yaml:"pickup_attempts_per_min"`
	CacheTTLSeconds      int     `yaml:"cache_ttl_seconds"`
}

// HardwareConfig describes how to reach the locker controller service.
type HardwareConfig struct {
	BaseURL               string        `yaml:"base_url"`
	HTTPProxy             string        `yaml:"http_proxy"`
	RequestTimeoutSeconds int           `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration `yaml:"-"`
	PollIntervalMillis    int           `yaml:"poll_interval_ms"`
	PollInterval          time.Duration `yaml:"-"`
	PollTimeoutSeconds    int           `yaml:"poll_timeout_seconds"`
	PollTimeout           time.Duration `yaml:"-"`
	PollMaxAttempts       int           `yaml:"poll_max_attempts"`
}

// Storage drivers.
const (
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	Path                   string `yaml:"path"`
	Key                    string `yaml:"key"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AdminConfig holds the credentials used by the admin panel.
type AdminConfig struct {
	PasswordHash    string        `yaml:"password_hash"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
	TokenTTL        time.Duration `yaml:"-"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// tests and for running against a local controller.
func Default() *Config {
	cfg := &Config{}
	// Defaults never fail on an empty config.
	_ = cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.PickupAttemptsPerMin <= 0 {
		cfg.Server.PickupAttemptsPerMin = 6
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Hardware.BaseURL == "" {
		cfg.Hardware.BaseURL = "http://127.0.0.1:5000"
	}
	if cfg.Hardware.RequestTimeoutSeconds <= 0 {
		cfg.Hardware.RequestTimeoutSeconds = 10
	}
	cfg.Hardware.RequestTimeout = time.Duration(cfg.Hardware.RequestTimeoutSeconds) * time.Second
	if cfg.Hardware.PollIntervalMillis <= 0 {
		cfg.Hardware.PollIntervalMillis = 2000
	}
	cfg.Hardware.PollInterval = time.Duration(cfg.Hardware.PollIntervalMillis) * time.Millisecond
	if cfg.Hardware.PollTimeoutSeconds <= 0 {
		cfg.Hardware.PollTimeoutSeconds = 600
	}
	cfg.Hardware.PollTimeout = time.Duration(cfg.Hardware.PollTimeoutSeconds) * time.Second
	// poll_max_attempts of 0 means the timeout alone bounds the poll.
	if cfg.Hardware.PollMaxAttempts < 0 {
		cfg.Hardware.PollMaxAttempts = 0
	}

	switch cfg.Storage.Driver {
	case "":
		cfg.Storage.Driver = DriverBolt
	case DriverBolt, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Driver == DriverSQLite {
			cfg.Storage.Path = "./data/lockers.sqlite"
		} else {
			cfg.Storage.Path = "./data/lockers.db"
		}
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = "lockerState"
	}
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Admin.TokenTTLMinutes <= 0 {
		cfg.Admin.TokenTTLMinutes = 30
	}
	cfg.Admin.TokenTTL = time.Duration(cfg.Admin.TokenTTLMinutes) * time.Minute

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return nil
}
