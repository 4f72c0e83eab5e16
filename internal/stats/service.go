package stats

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"cadence/internal/logging"
	"cadence/internal/player"
)

const EventComplete = "complete"

const EventSkip = "skip"

const EventPartial = "partial"

const maxDeltaMS = 30000

const defaultTopLimit = 5

const maxTopLimit = 25

const playedThresholdMS = 30000

const skipThresholdMS = 45000

const shortTrackBoundaryMS = 5 * 60 * 1000

const mediumTrackBoundaryMS = 20 * 60 * 1000

const shortTrackCompletePercent = 90

const mediumTrackCompletePercent = 85

const longTrackCompletePercent = 80

const antiSeekCapMS = 180000

const antiSeekPercent = 25

const completeTailPercent = 3

const completeTailMinMS = 8000

const completeTailMaxMS = 90000

type Overview struct {
	TotalPlayedMS int          `json:"totalPlayedMs"`
	Sessions      int          `json:"sessions"`
	TracksPlayed  int          `json:"tracksPlayed"`
	CompleteCount int          `json:"completeCount"`
	SkipCount     int          `json:"skipCount"`
	PartialCount  int          `json:"partialCount"`
	AverageBPM    int          `json:"averageBpm"`
	TopTracks     []TrackStat  `json:"topTracks"`
	TopArtists    []ArtistStat `json:"topArtists"`
}

type TrackStat struct {
	Name          string `json:"name"`
	Artist        string `json:"artist"`
	PlayedMS      int    `json:"playedMs"`
	Plays         int    `json:"plays"`
	CompleteCount int    `json:"completeCount"`
	SkipCount     int    `json:"skipCount"`
	PartialCount  int    `json:"partialCount"`
	LastBPM       int    `json:"lastBpm"`
}

type ArtistStat struct {
	Name       string `json:"name"`
	PlayedMS   int    `json:"playedMs"`
	TrackCount int    `json:"trackCount"`
}

// Session is one finished listen of a track.
type Session struct {
	TrackName   string
	TrackArtist string
	PlayedMS    int
	DurationMS  int
	Outcome     string
	BPM         int
	EndedAt     time.Time
}

type activeSession struct {
	trackID    string
	name       string
	artist     string
	durationMS int
	positionMS int
	playedMS   int
	playing    bool
}

// Service turns the stream of player states into listening-history rows.
// A session is finalized when the loaded track changes, the track ends
// naturally, or the service is flushed.
type Service struct {
	db  *sql.DB
	now func() time.Time

	mu             sync.Mutex
	active         *activeSession
	lastObservedAt time.Time
	bpm            func() int
}

func NewService(database *sql.DB) *Service {
	return &Service{db: database, now: time.Now}
}

// SetBPMSource supplies the tempo estimate stored with each session.
func (s *Service) SetBPMSource(source func() int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bpm = source
}

func (s *Service) HandlePlayerState(state player.State) {
	if s.db == nil {
		return
	}

	now := s.now()
	trackID := ""
	if state.Track != nil {
		trackID = state.Track.ID
	}

	s.mu.Lock()
	s.accumulateLocked(now)

	var finished *Session
	if s.active != nil && s.active.trackID != trackID {
		finished = s.finishLocked(now)
	}

	if state.Track != nil {
		if s.active == nil {
			s.active = &activeSession{
				trackID: trackID,
				name:    state.Track.Name,
				artist:  state.Track.Artist,
			}
		}
		s.active.durationMS = secondsToMS(state.Duration)
		s.active.positionMS = secondsToMS(state.Elapsed)
		s.active.playing = state.Status == player.StatusPlaying
	}
	s.lastObservedAt = now
	s.mu.Unlock()

	s.persist(finished)
}

// HandleTrackEnded finalizes the session of a track that played to its end.
func (s *Service) HandleTrackEnded(track player.Track) {
	if s.db == nil {
		return
	}

	now := s.now()

	s.mu.Lock()
	s.accumulateLocked(now)

	var finished *Session
	if s.active != nil && s.active.trackID == track.ID {
		if s.active.durationMS > 0 {
			s.active.positionMS = s.active.durationMS
		}
		finished = s.finishLocked(now)
	}
	s.lastObservedAt = now
	s.mu.Unlock()

	s.persist(finished)
}

// Flush finalizes the active session, if any.
func (s *Service) Flush() {
	if s.db == nil {
		return
	}

	now := s.now()

	s.mu.Lock()
	s.accumulateLocked(now)
	var finished *Session
	if s.active != nil {
		finished = s.finishLocked(now)
	}
	s.lastObservedAt = now
	s.mu.Unlock()

	s.persist(finished)
}

func (s *Service) accumulateLocked(now time.Time) {
	if s.active == nil || !s.active.playing {
		return
	}

	s.active.playedMS += elapsedMS(s.lastObservedAt, now)
}

func (s *Service) finishLocked(now time.Time) *Session {
	active := s.active
	s.active = nil

	outcome := classifyTrackEnd(active.playedMS, active.positionMS, active.durationMS)
	if outcome == "" {
		return nil
	}

	bpm := 0
	if s.bpm != nil {
		bpm = s.bpm()
	}

	played := active.playedMS
	if played == 0 {
		played = active.positionMS
	}

	return &Session{
		TrackName:   active.name,
		TrackArtist: active.artist,
		PlayedMS:    played,
		DurationMS:  active.durationMS,
		Outcome:     outcome,
		BPM:         bpm,
		EndedAt:     now.UTC(),
	}
}

func (s *Service) persist(session *Session) {
	if session == nil {
		return
	}

	if err := s.Record(context.Background(), *session); err != nil {
		logging.Error("stats: record listening session failed",
			logging.String("track", session.TrackName),
			logging.ErrorField(err),
		)
	}
}

func (s *Service) Record(ctx context.Context, session Session) error {
	if s.db == nil {
		return nil
	}

	endedAt := session.EndedAt
	if endedAt.IsZero() {
		endedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listening_sessions(track_name, track_artist, played_ms, duration_ms, outcome, bpm, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		session.TrackName,
		session.TrackArtist,
		session.PlayedMS,
		session.DurationMS,
		session.Outcome,
		session.BPM,
		endedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Service) GetOverview(ctx context.Context, limit int) (Overview, error) {
	overview := Overview{TopTracks: []TrackStat{}, TopArtists: []ArtistStat{}}
	if s.db == nil {
		return overview, nil
	}

	normalizedLimit := normalizeTopLimit(limit)

	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(played_ms), 0),
			COUNT(1),
			COUNT(DISTINCT track_artist || char(31) || track_name),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(CAST(ROUND(AVG(NULLIF(bpm, 0))) AS INTEGER), 0)
		FROM listening_sessions
	`, EventComplete, EventSkip, EventPartial).Scan(
		&overview.TotalPlayedMS,
		&overview.Sessions,
		&overview.TracksPlayed,
		&overview.CompleteCount,
		&overview.SkipCount,
		&overview.PartialCount,
		&overview.AverageBPM,
	); err != nil {
		return Overview{}, err
	}

	tracks, err := s.readTopTracks(ctx, normalizedLimit)
	if err != nil {
		return Overview{}, err
	}
	overview.TopTracks = tracks

	artists, err := s.readTopArtists(ctx, normalizedLimit)
	if err != nil {
		return Overview{}, err
	}
	overview.TopArtists = artists

	return overview, nil
}

func (s *Service) readTopTracks(ctx context.Context, limit int) ([]TrackStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			track_name,
			track_artist,
			COALESCE(SUM(played_ms), 0) AS played_ms,
			COUNT(1) AS plays,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS complete_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS skip_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS partial_count,
			COALESCE((
				SELECT latest.bpm
				FROM listening_sessions latest
				WHERE latest.track_name = grouped.track_name
					AND latest.track_artist = grouped.track_artist
					AND latest.bpm > 0
				ORDER BY latest.ended_at DESC, latest.id DESC
				LIMIT 1
			), 0) AS last_bpm
		FROM listening_sessions grouped
		GROUP BY track_artist, track_name
		ORDER BY played_ms DESC, complete_count DESC, partial_count DESC, skip_count ASC, LOWER(track_name)
		LIMIT ?
	`, EventComplete, EventSkip, EventPartial, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tracks := make([]TrackStat, 0, limit)
	for rows.Next() {
		var item TrackStat
		if scanErr := rows.Scan(
			&item.Name,
			&item.Artist,
			&item.PlayedMS,
			&item.Plays,
			&item.CompleteCount,
			&item.SkipCount,
			&item.PartialCount,
			&item.LastBPM,
		); scanErr != nil {
			return nil, scanErr
		}
		tracks = append(tracks, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return tracks, nil
}

func (s *Service) readTopArtists(ctx context.Context, limit int) ([]ArtistStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			track_artist,
			COALESCE(SUM(played_ms), 0) AS played_ms,
			COUNT(DISTINCT track_name) AS track_count
		FROM listening_sessions
		GROUP BY track_artist
		HAVING COALESCE(SUM(played_ms), 0) > 0
		ORDER BY played_ms DESC, LOWER(track_artist)
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artists := make([]ArtistStat, 0, limit)
	for rows.Next() {
		var item ArtistStat
		if scanErr := rows.Scan(&item.Name, &item.PlayedMS, &item.TrackCount); scanErr != nil {
			return nil, scanErr
		}
		artists = append(artists, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return artists, nil
}

func classifyTrackEnd(effectivePlayedMS int, positionMS int, durationMS int) string {
	if effectivePlayedMS < 0 {
		effectivePlayedMS = 0
	}
	if positionMS < 0 {
		positionMS = 0
	}

	if effectivePlayedMS == 0 {
		if positionMS == 0 {
			return ""
		}
		effectivePlayedMS = positionMS
	}

	if effectivePlayedMS < playedThresholdMS {
		return EventSkip
	}

	if durationMS <= 0 {
		if effectivePlayedMS < skipThresholdMS {
			return EventSkip
		}
		return EventPartial
	}

	completeFloor := minimumListenForComplete(durationMS)
	completePercent := completePercentByDuration(durationMS)
	remainingAllowance := remainingWindowMS(durationMS)

	remaining := durationMS - effectivePlayedMS
	if remaining < 0 {
		remaining = 0
	}

	completeByPercent := (effectivePlayedMS * 100) >= (durationMS * completePercent)
	completeByTail := remaining <= remainingAllowance

	if effectivePlayedMS >= completeFloor && (completeByPercent || completeByTail) {
		return EventComplete
	}

	skipThreshold := min(skipThresholdMS, percentOf(durationMS, 20))
	if effectivePlayedMS < skipThreshold {
		return EventSkip
	}

	return EventPartial
}

func minimumListenForComplete(durationMS int) int {
	return min(antiSeekCapMS, percentOf(durationMS, antiSeekPercent))
}

func completePercentByDuration(durationMS int) int {
	switch {
	case durationMS <= shortTrackBoundaryMS:
		return shortTrackCompletePercent
	case durationMS <= mediumTrackBoundaryMS:
		return mediumTrackCompletePercent
	default:
		return longTrackCompletePercent
	}
}

func remainingWindowMS(durationMS int) int {
	return clampInt(percentOf(durationMS, completeTailPercent), completeTailMinMS, completeTailMaxMS)
}

func percentOf(value int, percent int) int {
	if value <= 0 || percent <= 0 {
		return 0
	}

	return (value * percent) / 100
}

func clampInt(value int, minimum int, maximum int) int {
	if value < minimum {
		return minimum
	}
	if value > maximum {
		return maximum
	}

	return value
}

func elapsedMS(start time.Time, end time.Time) int {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0
	}

	deltaMS := int(end.Sub(start) / time.Millisecond)
	if deltaMS <= 0 {
		return 0
	}
	if deltaMS > maxDeltaMS {
		return maxDeltaMS
	}

	return deltaMS
}

func secondsToMS(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds * 1000)
}

func normalizeTopLimit(value int) int {
	if value <= 0 {
		return defaultTopLimit
	}
	if value > maxTopLimit {
		return maxTopLimit
	}

	return value
}
