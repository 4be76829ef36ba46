package config

import (
	"fmt"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch loads the config file and calls onChange with a freshly validated
// config every time the file is written. Invalid edits are reported through
// onError and the previous config stays in effect.
func Watch(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("watching config requires an explicit config file")
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			onError(fmt.Errorf("reloading %s: %w", e.Name, err))
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// Reloadable reports whether a config change can be applied without a restart.
// Only the language and channel lists are picked up live.
func Reloadable(prev, next *Config) bool {
	p, n := *prev, *next
	p.Sync.Languages, p.Sync.Channels = nil, nil
	n.Sync.Languages, n.Sync.Channels = nil, nil
	return reflect.DeepEqual(p, n)
}
