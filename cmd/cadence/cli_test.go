package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cadence/internal/player"
	"cadence/internal/playlist"
)

func TestFormatClock(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:     "-:--",
		-3:    "-:--",
		9.9:   "0:09",
		61:    "1:01",
		600.5: "10:00",
	}
	for seconds, want := range cases {
		if got := formatClock(seconds); got != want {
			t.Fatalf("formatClock(%v) = %q, want %q", seconds, got, want)
		}
	}
}

func TestPrintPlaylistMarksCurrent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printPlaylist(&out, playlist.State{
		Tracks: []playlist.Track{
			{Name: "One", Artist: "A"},
			{Name: "Two", Artist: "B", Duration: 125},
		},
		CurrentIndex: 1,
		RepeatMode:   playlist.RepeatAll,
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", out.String())
	}
	if !strings.HasPrefix(lines[1], ">  2. B - Two (2:05)") {
		t.Fatalf("expected current marker on second track, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "repeat all") {
		t.Fatalf("expected repeat mode line, got %q", lines[2])
	}
}

func TestPrintStatusShowsFadeAndTempo(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printStatus(&out, player.State{
		Status:   player.StatusPlaying,
		Fading:   player.FadeOut,
		Track:    &player.Track{Name: "Song", Artist: "Band"},
		Elapsed:  62,
		Duration: 64,
		Volume:   75,
	}, 120)

	got := out.String()
	for _, want := range []string{"playing", "Band - Song", "1:02 / 1:04", "fading out", "120 bpm"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestValidateCommandReportsRejections(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "Band - Song.mp3")
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(audio, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write text: %v", err)
	}

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	err := validateCmd.RunE(validateCmd, []string{audio, text})
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected one rejection, got %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "ok      "+audio) {
		t.Fatalf("expected audio accepted, got %q", got)
	}
	if !strings.Contains(got, "reject  "+text) {
		t.Fatalf("expected text rejected, got %q", got)
	}
}
