package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cadence/internal/db"
	"cadence/internal/player"
)

func TestClassifyTrackEnd(t *testing.T) {
	cases := []struct {
		name       string
		playedMS   int
		durationMS int
		want       string
	}{
		{"short track complete", int(float64(4*60*1000) * 0.90), 4 * 60 * 1000, EventComplete},
		{"medium track complete", int(float64(12*60*1000) * 0.85), 12 * 60 * 1000, EventComplete},
		{"long track complete", int(float64(45*60*1000) * 0.80), 45 * 60 * 1000, EventComplete},
		{"tail window complete", 30*60*1000 - 50*1000, 30 * 60 * 1000, EventComplete},
		{"early exit skip", 35 * 1000, 6 * 60 * 1000, EventSkip},
		{"under played threshold", 12 * 1000, 3 * 60 * 1000, EventSkip},
		{"middle partial", 3 * 60 * 1000, 8 * 60 * 1000, EventPartial},
		{"unknown duration", 90 * 1000, 0, EventPartial},
		{"nothing played", 0, 3 * 60 * 1000, ""},
	}

	for _, tc := range cases {
		if got := classifyTrackEnd(tc.playedMS, tc.playedMS, tc.durationMS); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

type stepClock struct {
	current time.Time
}

func (c *stepClock) now() time.Time {
	return c.current
}

func (c *stepClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newStatsServiceForTest(t *testing.T) (*Service, *stepClock) {
	t.Helper()

	database, err := db.Bootstrap(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("bootstrap db: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	clock := &stepClock{current: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	service := NewService(database)
	service.now = clock.now
	return service, clock
}

func playFor(service *Service, clock *stepClock, track player.Track, seconds int) {
	for elapsed := 0; elapsed <= seconds; elapsed += 10 {
		service.HandlePlayerState(player.State{
			Status:   player.StatusPlaying,
			Track:    &track,
			Elapsed:  float64(elapsed),
			Duration: track.Duration,
		})
		if elapsed < seconds {
			clock.advance(10 * time.Second)
		}
	}
}

func TestListeningHistoryOverview(t *testing.T) {
	service, clock := newStatsServiceForTest(t)
	service.SetBPMSource(func() int { return 128 })

	anthem := player.Track{ID: "1", Name: "Anthem", Artist: "Band", Duration: 240}
	interlude := player.Track{ID: "2", Name: "Interlude", Artist: "Band", Duration: 180}
	closer := player.Track{ID: "3", Name: "Closer", Artist: "Solo", Duration: 200}

	playFor(service, clock, anthem, 240)
	service.HandlePlayerState(player.State{Status: player.StatusPaused, Track: &anthem, Duration: 240})
	service.HandleTrackEnded(anthem)

	playFor(service, clock, interlude, 20)
	playFor(service, clock, closer, 0)

	overview, err := service.GetOverview(context.Background(), 5)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}

	if overview.Sessions != 2 || overview.CompleteCount != 1 || overview.SkipCount != 1 {
		t.Fatalf("expected one complete and one skip, got %+v", overview)
	}
	if overview.TracksPlayed != 2 {
		t.Fatalf("expected two distinct tracks, got %d", overview.TracksPlayed)
	}
	if overview.TotalPlayedMS != 260*1000 {
		t.Fatalf("expected 260s played, got %dms", overview.TotalPlayedMS)
	}
	if overview.AverageBPM != 128 {
		t.Fatalf("expected average bpm 128, got %d", overview.AverageBPM)
	}
	if len(overview.TopTracks) != 2 || overview.TopTracks[0].Name != "Anthem" || overview.TopTracks[0].LastBPM != 128 {
		t.Fatalf("expected Anthem on top, got %+v", overview.TopTracks)
	}
	if len(overview.TopArtists) != 1 || overview.TopArtists[0].Name != "Band" || overview.TopArtists[0].TrackCount != 2 {
		t.Fatalf("expected Band as the only artist with playtime, got %+v", overview.TopArtists)
	}

	service.Flush()
	overview, err = service.GetOverview(context.Background(), 5)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Sessions != 2 {
		t.Fatalf("expected flush of an unplayed track to record nothing, got %d sessions", overview.Sessions)
	}
}

func TestPausedTimeIsNotCounted(t *testing.T) {
	service, clock := newStatsServiceForTest(t)

	track := player.Track{ID: "1", Name: "Song", Artist: "Band", Duration: 300}

	playFor(service, clock, track, 40)
	service.HandlePlayerState(player.State{Status: player.StatusPaused, Track: &track, Elapsed: 40, Duration: 300})
	clock.advance(10 * time.Minute)
	service.HandlePlayerState(player.State{Status: player.StatusPaused, Track: &track, Elapsed: 40, Duration: 300})
	service.Flush()

	overview, err := service.GetOverview(context.Background(), 0)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.TotalPlayedMS != 40*1000 || overview.SkipCount != 1 {
		t.Fatalf("expected 40s skip, got %+v", overview)
	}
}

func TestOverviewWithoutDatabase(t *testing.T) {
	service := NewService(nil)
	service.HandlePlayerState(player.State{Status: player.StatusPlaying})

	overview, err := service.GetOverview(context.Background(), 3)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Sessions != 0 || overview.TopTracks == nil {
		t.Fatalf("expected empty overview, got %+v", overview)
	}
}
