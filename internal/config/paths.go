package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Paths struct {
	BaseDir  string
	DBPath   string
	LogPath  string
	InboxDir string
}

func ResolvePaths(appSlug string) (Paths, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve user config dir: %w", err)
	}

	return resolvePathsIn(filepath.Join(configDir, appSlug))
}

func resolvePathsIn(baseDir string) (Paths, error) {
	inboxDir := filepath.Join(baseDir, "inbox")
	dbPath := filepath.Join(baseDir, "history.db")
	logPath := filepath.Join(baseDir, "logs", "cadence.log")

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create inbox dir: %w", err)
	}

	return Paths{
		BaseDir:  baseDir,
		DBPath:   dbPath,
		LogPath:  logPath,
		InboxDir: inboxDir,
	}, nil
}
