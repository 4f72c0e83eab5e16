package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestBootstrapAppliesMigrationsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	database, err := Bootstrap(ctx, path)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer database.Close()

	if err := RunMigrations(ctx, database); err != nil {
		t.Fatalf("rerun migrations: %v", err)
	}

	applied, err := AppliedMigrations(ctx, database)
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "migrations/001_listening_history.sql" {
		t.Fatalf("expected one recorded migration, got %v", applied)
	}

	if _, err := database.ExecContext(ctx, `
		INSERT INTO listening_sessions(track_name, track_artist, played_ms, duration_ms, outcome, bpm, ended_at)
		VALUES ('Song', 'Band', 1000, 2000, 'partial', 0, '2026-01-01T00:00:00Z')
	`); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	if _, err := database.ExecContext(ctx, `
		INSERT INTO listening_sessions(track_name, track_artist, outcome, ended_at)
		VALUES ('Song', 'Band', 'abandoned', '2026-01-01T00:00:00Z')
	`); err == nil {
		t.Fatalf("expected outcome constraint to reject unknown values")
	}
}
