// Package config loads runtime configuration from the environment,
// with a .env file picked up when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every tunable the client reads at startup.
type Config struct {
	// APIBaseURL is the REST backend root, e.g. "https://api.example.com".
	APIBaseURL string

	// SignalingURL is the websocket signaling endpoint.
	SignalingURL string

	// HeartbeatInterval is the signaling ping cadence.
	HeartbeatInterval time.Duration

	// MaxReconnects bounds signaling reconnect attempts per outage.
	MaxReconnects int

	// ReconnectBase is multiplied by the attempt number to produce
	// each reconnect delay.
	ReconnectBase time.Duration

	// VideoBitRate and AudioBitRate are encoder targets in bits/s.
	VideoBitRate int
	AudioBitRate int

	// KeyFrameInterval is the forced-keyframe cadence in frames.
	KeyFrameInterval int
}

// Load reads configuration from the environment. Missing variables
// fall back to defaults, so Load never fails.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.WithField("function", "Load").Debug("No .env file found, using environment")
	}

	cfg := &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
		SignalingURL:      getEnv("SIGNALING_URL", "ws://localhost:8080/ws"),
		HeartbeatInterval: time.Duration(getEnvInt("MEDIA_HEARTBEAT_SECONDS", 30)) * time.Second,
		MaxReconnects:     getEnvInt("SIGNALING_MAX_RECONNECTS", 5),
		ReconnectBase:     time.Duration(getEnvInt("SIGNALING_RECONNECT_BASE_SECONDS", 2)) * time.Second,
		VideoBitRate:      getEnvInt("VIDEO_BITRATE", 1_000_000),
		AudioBitRate:      getEnvInt("AUDIO_BITRATE", 64_000),
		KeyFrameInterval:  getEnvInt("KEYFRAME_INTERVAL", 60),
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Load",
		"api_base_url":  cfg.APIBaseURL,
		"signaling_url": cfg.SignalingURL,
	}).Info("Configuration loaded")

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "getEnvInt",
			"key":      key,
			"value":    value,
		}).Warn("Invalid integer in environment, using fallback")
		return fallback
	}
	return n
}
