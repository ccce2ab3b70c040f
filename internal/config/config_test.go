// Package config tests for environment configuration loading.
package config

import (
	"testing"
	"time"
)

// TestLoadDefaults verifies the defaults with a clean environment.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != "8090" {
		t.Errorf("Port = %s, want 8090", cfg.Server.Port)
	}
	if cfg.Motion.SustainedWindow != 50*time.Second {
		t.Errorf("SustainedWindow = %v, want 50s", cfg.Motion.SustainedWindow)
	}
	if cfg.Motion.DipTolerance != 0 {
		t.Errorf("DipTolerance = %d, want 0", cfg.Motion.DipTolerance)
	}
	if cfg.Sync.PendingPublishInterval != 5*time.Second {
		t.Errorf("PendingPublishInterval = %v, want 5s", cfg.Sync.PendingPublishInterval)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
}

// TestLoadOverrides verifies env overrides are honored.
func TestLoadOverrides(t *testing.T) {
	t.Setenv("MOTION_SUSTAINED_WINDOW", "5s")
	t.Setenv("MOTION_DIP_TOLERANCE", "2")
	t.Setenv("SYNC_INTERVAL", "1m")
	t.Setenv("REMOTE_API_URL", "https://api.tradeline.test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Motion.SustainedWindow != 5*time.Second {
		t.Errorf("SustainedWindow = %v, want 5s", cfg.Motion.SustainedWindow)
	}
	if cfg.Motion.DipTolerance != 2 {
		t.Errorf("DipTolerance = %d, want 2", cfg.Motion.DipTolerance)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m", cfg.Sync.Interval)
	}
	if cfg.Remote.BaseURL != "https://api.tradeline.test" {
		t.Errorf("BaseURL = %s", cfg.Remote.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
}

// TestLoadRejectsBadDurations verifies malformed durations fail loudly.
func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("MOTION_SUSTAINED_WINDOW", "fifty seconds")

	if _, err := Load(); err == nil {
		t.Error("Load should reject an unparsable duration")
	}
}
