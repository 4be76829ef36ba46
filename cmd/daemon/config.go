package main

import (
	"os"
	"strconv"

	"github.com/dgnsrekt/cms-sync/internal/config"
)

// DaemonConfig holds process-level settings that are not in the YAML config
type DaemonConfig struct {
	ConfigPath string // Path to sync config YAML
	Watch      bool   // Reload languages/channels when the config file changes
}

// LoadDaemonConfig loads configuration from environment variables
func LoadDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		ConfigPath: getEnvOrDefault(config.EnvPrefix+"_CONFIG", "/app/configs/default.yaml"),
		Watch:      getEnvBoolOrDefault(config.EnvPrefix+"_WATCH_CONFIG", true),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
