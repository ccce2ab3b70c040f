// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Data    DataConfig
	Remote  RemoteConfig
	Motion  MotionConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type DataConfig struct {
	// Dir holds the SQLite database and the blob store.
	Dir string
	// MaxAssetBytes caps a single photo/voice capture.
	MaxAssetBytes int64
}

type RemoteConfig struct {
	// BaseURL of the cloud API queued actions are replayed to.
	BaseURL string
	// Token is the opaque bearer token issued to this device.
	Token string
	// Timeout bounds a single submission request.
	Timeout time.Duration
}

type MotionConfig struct {
	// SustainedWindow is how long speed must stay above the threshold
	// before movement is declared. Field builds observed both 50s and 5s
	// in the wild, so it stays configurable rather than hardcoded.
	SustainedWindow time.Duration
	// DipTolerance is the number of consecutive below-threshold samples
	// tolerated before the sustained episode resets. 0 resets on the
	// first dip.
	DipTolerance int
}

type SyncConfig struct {
	// Interval between periodic sync passes while online.
	Interval time.Duration
	// PendingPublishInterval between pending-count refreshes pushed to
	// UI clients.
	PendingPublishInterval time.Duration
	// MaxRetries per queued action before it is parked as failed.
	MaxRetries int
}

type LoggingConfig struct {
	Level string
	File  string
}

// Load reads configuration from the environment, with a .env file as
// fallback for development.
func Load() (*Config, error) {
	godotenv.Load()

	sustained, err := time.ParseDuration(getEnv("MOTION_SUSTAINED_WINDOW", "50s"))
	if err != nil {
		return nil, fmt.Errorf("invalid MOTION_SUSTAINED_WINDOW: %w", err)
	}

	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	pendingInterval, err := time.ParseDuration(getEnv("PENDING_PUBLISH_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PENDING_PUBLISH_INTERVAL: %w", err)
	}

	remoteTimeout, err := time.ParseDuration(getEnv("REMOTE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMOTE_TIMEOUT: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			// Localhost only: the daemon serves the UI on this device.
			Host: getEnv("HOST", "127.0.0.1"),
			Port: getEnv("PORT", "8090"),
		},
		Data: DataConfig{
			Dir:           getEnv("DATA_DIR", "./data"),
			MaxAssetBytes: int64(getEnvAsInt("MAX_ASSET_BYTES", 25*1024*1024)),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("REMOTE_API_URL", ""),
			Token:   getEnv("REMOTE_API_TOKEN", ""),
			Timeout: remoteTimeout,
		},
		Motion: MotionConfig{
			SustainedWindow: sustained,
			DipTolerance:    getEnvAsInt("MOTION_DIP_TOLERANCE", 0),
		},
		Sync: SyncConfig{
			Interval:               syncInterval,
			PendingPublishInterval: pendingInterval,
			MaxRetries:             getEnvAsInt("SYNC_MAX_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
