package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"CADENCE_LOG_LEVEL", "CADENCE_LOG_FILE", "CADENCE_INBOX_DIR",
		"CADENCE_DEFAULT_VOLUME", "CADENCE_POLL_INTERVAL_MS",
		"CADENCE_MAX_UPLOAD_MB", "CADENCE_HISTORY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())

	cfg := Load()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DefaultVolume != 75 {
		t.Errorf("DefaultVolume = %d, want 75", cfg.DefaultVolume)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.PollInterval)
	}
	if cfg.MaxUploadMB != 50 {
		t.Errorf("MaxUploadMB = %d, want 50", cfg.MaxUploadMB)
	}
	if !cfg.History {
		t.Errorf("History = false, want true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CADENCE_LOG_LEVEL", "debug")
	t.Setenv("CADENCE_DEFAULT_VOLUME", "140")
	t.Setenv("CADENCE_POLL_INTERVAL_MS", "20")
	t.Setenv("CADENCE_HISTORY", "false")

	cfg := Load()

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DefaultVolume != 100 {
		t.Errorf("DefaultVolume = %d, want clamp to 100", cfg.DefaultVolume)
	}
	if cfg.PollInterval != 20*time.Millisecond {
		t.Errorf("PollInterval = %v, want 20ms", cfg.PollInterval)
	}
	if cfg.History {
		t.Errorf("History = true, want false")
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := "CADENCE_MAX_UPLOAD_MB=10\nCADENCE_LOG_LEVEL=warn\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("CADENCE_LOG_LEVEL", "error")
	os.Unsetenv("CADENCE_MAX_UPLOAD_MB")
	t.Cleanup(func() { os.Unsetenv("CADENCE_MAX_UPLOAD_MB") })

	cfg := Load()

	if cfg.MaxUploadMB != 10 {
		t.Errorf("MaxUploadMB = %d, want 10 from .env", cfg.MaxUploadMB)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want existing env to win", cfg.LogLevel)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CADENCE_POLL_INTERVAL_MS", "fast")
	cfg := Load()
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("invalid int should fall back: got %v", cfg.PollInterval)
	}
}

func TestResolvePathsCreatesInbox(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cadence")

	paths, err := resolvePathsIn(base)
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if info, err := os.Stat(paths.InboxDir); err != nil || !info.IsDir() {
		t.Fatalf("expected inbox dir %q to exist", paths.InboxDir)
	}
	if filepath.Dir(paths.DBPath) != base {
		t.Fatalf("expected db under %q, got %q", base, paths.DBPath)
	}
}

func TestZeroDefaultVolumeIsKept(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CADENCE_DEFAULT_VOLUME", "0")

	if cfg := Load(); cfg.DefaultVolume != 0 {
		t.Errorf("DefaultVolume = %d, want 0", cfg.DefaultVolume)
	}

	t.Setenv("CADENCE_DEFAULT_VOLUME", "-5")
	if cfg := Load(); cfg.DefaultVolume != 75 {
		t.Errorf("DefaultVolume = %d, want fallback for negative", cfg.DefaultVolume)
	}
}
