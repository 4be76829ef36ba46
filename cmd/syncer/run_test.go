package main

import (
	"testing"

	"github.com/dgnsrekt/cms-sync/internal/config"
)

func TestOverrideTargets(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{
		Languages: []string{"en-us"},
		Channels:  []string{"website"},
	}}

	langs, chans := overrideTargets(cfg, nil, nil)
	if len(langs) != 1 || langs[0] != "en-us" || len(chans) != 1 || chans[0] != "website" {
		t.Errorf("expected config values, got %v %v", langs, chans)
	}

	langs, chans = overrideTargets(cfg, []string{"fr-ca", "de-de"}, nil)
	if len(langs) != 2 || langs[0] != "fr-ca" {
		t.Errorf("expected language override, got %v", langs)
	}
	if chans[0] != "website" {
		t.Errorf("expected configured channels, got %v", chans)
	}
}
