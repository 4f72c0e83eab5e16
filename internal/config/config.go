package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds runtime configuration, loaded from the environment.
type Settings struct {
	LogLevel      string
	LogFile       string
	InboxDir      string
	DefaultVolume int
	PollInterval  time.Duration
	MaxUploadMB   int
	History       bool
}

// Load reads settings from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		LogLevel:      envStr("CADENCE_LOG_LEVEL", "info"),
		LogFile:       envStr("CADENCE_LOG_FILE", ""),
		InboxDir:      envStr("CADENCE_INBOX_DIR", ""),
		DefaultVolume: clampInt(envVolume("CADENCE_DEFAULT_VOLUME", 75), 0, 100),
		PollInterval:  time.Duration(envInt("CADENCE_POLL_INTERVAL_MS", 50)) * time.Millisecond,
		MaxUploadMB:   envInt("CADENCE_MAX_UPLOAD_MB", 50),
		History:       envBool("CADENCE_HISTORY", true),
	}
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// envVolume accepts 0, which envInt would treat as unset.
func envVolume(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
