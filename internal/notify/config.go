package notify

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

var priorities = []string{"min", "low", "default", "high", "urgent"}

// Config holds ntfy notification settings, read from NTFY_* environment variables.
type Config struct {
	Enabled         bool
	Server          string
	Topic           string
	Priority        string
	FailurePriority string
	Tags            []string
	Token           string
	// Click is opened when the notification is tapped, e.g. the server's /health
	Click string
	// OnlyChanges suppresses success messages for runs where no language changed
	OnlyChanges bool
}

// LoadConfig reads the notification settings from the environment.
func LoadConfig() *Config {
	v := viper.New()
	v.SetEnvPrefix("NTFY")
	v.AutomaticEnv()

	v.SetDefault("enabled", false)
	v.SetDefault("server", "https://ntfy.sh")
	v.SetDefault("priority", "default")
	v.SetDefault("failure_priority", "high")
	v.SetDefault("tags", "arrows_counterclockwise")
	v.SetDefault("only_changes", true)

	return &Config{
		Enabled:         v.GetBool("enabled"),
		Server:          v.GetString("server"),
		Topic:           v.GetString("topic"),
		Priority:        v.GetString("priority"),
		FailurePriority: v.GetString("failure_priority"),
		Tags:            splitTags(v.GetString("tags")),
		Token:           v.GetString("token"),
		Click:           v.GetString("click"),
		OnlyChanges:     v.GetBool("only_changes"),
	}
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Validate checks the settings only when notifications are enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Topic == "" {
		return errors.New("NTFY_TOPIC is required when NTFY_ENABLED=true")
	}

	for name, p := range map[string]string{"NTFY_PRIORITY": c.Priority, "NTFY_FAILURE_PRIORITY": c.FailurePriority} {
		if p != "" && !slices.Contains(priorities, p) {
			return fmt.Errorf("invalid %s: %s (valid: %s)", name, p, strings.Join(priorities, ", "))
		}
	}
	return nil
}
