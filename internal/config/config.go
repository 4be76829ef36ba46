package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Server  ServerConfig  `mapstructure:"server"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	GUID          string `mapstructure:"guid"`
	APIKey        string `mapstructure:"api_key"`
	Preview       bool   `mapstructure:"preview"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type SyncConfig struct {
	Languages []string `mapstructure:"languages"`
	Channels  []string `mapstructure:"channels"`
	PageSize  int      `mapstructure:"page_size"`
	Workers   int      `mapstructure:"workers"`
}

type StorageConfig struct {
	Driver    string   `mapstructure:"driver"`
	Directory string   `mapstructure:"directory"`
	Compress  bool     `mapstructure:"compress"`
	S3        S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type DaemonConfig struct {
	IntervalSec  int  `mapstructure:"interval_sec"`
	RunOnStartup bool `mapstructure:"run_on_startup"`
}

type ServerConfig struct {
	Port           string `mapstructure:"port"`
	BackgroundSync bool   `mapstructure:"background_sync"`
	HeartbeatSec   int    `mapstructure:"heartbeat_sec"`
}

const EnvPrefix = "CMSSYNC"

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://api.aglty.io")
	v.SetDefault("api.preview", false)
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 2)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("sync.page_size", DefaultPageSize)
	v.SetDefault("sync.workers", DefaultWorkers)
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.directory", "data")
	v.SetDefault("storage.compress", false)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("daemon.interval_sec", 300)
	v.SetDefault("daemon.run_on_startup", true)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.background_sync", false)
	v.SetDefault("server.heartbeat_sec", 15)

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.api_key", EnvPrefix+"_API_KEY")
	_ = v.BindEnv("api.guid", EnvPrefix+"_API_GUID")
	_ = v.BindEnv("sync.languages")
	_ = v.BindEnv("sync.channels")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	return v
}

func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.API.GUID == "" {
		return fmt.Errorf("api.guid is required (set %s_API_GUID env var)", EnvPrefix)
	}
	if c.API.APIKey == "" {
		return fmt.Errorf("api_key is required (set %s_API_KEY env var)", EnvPrefix)
	}
	if c.API.RatePerSecond < 1 {
		return fmt.Errorf("rate_per_second must be >= 1")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > MaxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Sync.Workers < 1 || c.Sync.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d", MaxWorkers)
	}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid storage.driver: %s (must be file, sqlite, s3 or memory)", c.Storage.Driver)
	}
	if c.Storage.Driver == DriverS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage.driver is s3")
	}
	if c.Daemon.IntervalSec < 1 {
		return fmt.Errorf("daemon.interval_sec must be >= 1")
	}
	return ValidateSyncConfig(c.Sync.Languages, c.Sync.Channels)
}
