// Package session connects the playlist to the playback engine: selection
// changes load tracks, natural ends advance after a short settle delay, and a
// poll loop turns the engine's sample buffer into beat frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cadence/internal/beat"
	"cadence/internal/logging"
	"cadence/internal/player"
	"cadence/internal/playlist"
)

const EventFrame = "session:frame"

var ErrUnknownTrack = errors.New("track is not in the playlist")

// Engine is the slice of the playback engine the session drives.
type Engine interface {
	Load(ctx context.Context, track player.Track, autoPlay bool) error
	Pause(ctx context.Context) error
	GetState() player.State
	SampleBuffer() []uint8
	SetEmitter(emitter player.Emitter)
	SetOnEnded(callback func(player.Track))
	SetOnDuration(callback func(player.Track, float64))
}

// Sequencer is the slice of the playlist the session drives.
type Sequencer interface {
	GetState() playlist.State
	CurrentTrack() *playlist.Track
	SelectByID(id string) bool
	AdvanceNext() (*playlist.Track, bool)
	AdvancePrevious() (*playlist.Track, bool)
	SetDuration(id string, seconds float64)
	SetOnChange(listener playlist.ChangeListener)
}

// History receives engine transitions for listening statistics.
type History interface {
	HandlePlayerState(state player.State)
	HandleTrackEnded(track player.Track)
	Flush()
}

type Emitter func(eventName string, payload any)

type Frame struct {
	Bins []uint8   `json:"bins"`
	Beat bool      `json:"beat"`
	BPM  int       `json:"bpm"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Player   player.State   `json:"player"`
	Playlist playlist.State `json:"playlist"`
	BPM      int            `json:"bpm"`
}

// loadRequest is an explicit load waiting for the selection change it causes.
type loadRequest struct {
	id       string
	autoPlay bool
	err      error
}

type Options struct {
	PollInterval       time.Duration
	AdvanceDelay       time.Duration
	NavigationCooldown time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:       50 * time.Millisecond,
		AdvanceDelay:       time.Second,
		NavigationCooldown: 300 * time.Millisecond,
	}
}

type Service struct {
	engine    Engine
	sequencer Sequencer
	estimator *beat.Estimator
	frames    *Broadcaster
	cooldown  *Cooldown
	opts      Options

	// loadMu keeps engine loads in selection order.
	loadMu   sync.Mutex
	loadedID string

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	pollDone      chan struct{}
	emit          Emitter
	forward       player.Emitter
	history       History
	advanceTimer  *time.Timer
	advanceGen    uint64
	autoAdvancing bool
	pending       *loadRequest
}

func NewService(engine Engine, sequencer Sequencer, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.AdvanceDelay < 0 {
		opts.AdvanceDelay = defaults.AdvanceDelay
	}
	if opts.NavigationCooldown < 0 {
		opts.NavigationCooldown = defaults.NavigationCooldown
	}

	s := &Service{
		engine:    engine,
		sequencer: sequencer,
		estimator: beat.NewEstimator(),
		frames:    NewBroadcaster(),
		cooldown:  NewCooldown(opts.NavigationCooldown),
		opts:      opts,
		ctx:       context.Background(),
	}

	engine.SetEmitter(s.onPlayerEvent)
	engine.SetOnEnded(s.onTrackEnded)
	engine.SetOnDuration(func(track player.Track, seconds float64) {
		sequencer.SetDuration(track.ID, seconds)
	})
	sequencer.SetOnChange(s.onPlaylistChange)

	return s
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

// SetPlayerEmitter receives every engine state change after the history hook.
func (s *Service) SetPlayerEmitter(emitter player.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = emitter
}

func (s *Service) SetHistory(history History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = history
}

func (s *Service) Frames() *Broadcaster {
	return s.frames
}

func (s *Service) BPM() int {
	return s.estimator.EstimateBPM()
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Player:   s.engine.GetState(),
		Playlist: s.sequencer.GetState(),
		BPM:      s.estimator.EstimateBPM(),
	}
}

// Start begins sample polling and loads the current selection, if any.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.ctx = runCtx
	s.cancel = cancel
	s.pollDone = done
	s.mu.Unlock()

	go s.runPoller(runCtx, done)

	return s.syncSelection(runCtx, false)
}

func (s *Service) Close() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.pollDone
	s.cancel = nil
	s.pollDone = nil
	s.stopAdvanceLocked()
	history := s.history
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if history != nil {
		history.Flush()
	}
}

// Next and Previous are refused while the navigation cooldown is active.
func (s *Service) Next() bool {
	if !s.cooldown.Try() {
		return false
	}

	s.cancelAdvance()
	_, ok := s.sequencer.AdvanceNext()
	return ok
}

func (s *Service) Previous() bool {
	if !s.cooldown.Try() {
		return false
	}

	s.cancelAdvance()
	_, ok := s.sequencer.AdvancePrevious()
	return ok
}

func (s *Service) Select(id string) bool {
	s.cancelAdvance()
	return s.sequencer.SelectByID(id)
}

// Load selects id and loads it, reloading when the engine already holds it.
// autoPlay starts playback once the track is ready.
func (s *Service) Load(id string, autoPlay bool) error {
	s.cancelAdvance()

	request := &loadRequest{id: id, autoPlay: autoPlay}
	s.mu.Lock()
	s.pending = request
	s.mu.Unlock()

	selected := s.sequencer.SelectByID(id)

	s.mu.Lock()
	if s.pending == request {
		s.pending = nil
	}
	err := request.err
	s.mu.Unlock()

	if !selected {
		return fmt.Errorf("load %s: %w", id, ErrUnknownTrack)
	}
	return err
}

func (s *Service) onPlaylistChange(playlist.State) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.syncSelection(ctx, false); err != nil {
		logging.Warn("session: load selection failed", logging.ErrorField(err))
	}
}

// syncSelection loads the sequencer's current track when it differs from the
// one the engine holds. restart forces a reload of the same track.
func (s *Service) syncSelection(ctx context.Context, restart bool) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	track := s.sequencer.CurrentTrack()
	if track == nil {
		if s.loadedID == "" {
			return nil
		}
		s.loadedID = ""
		s.cancelAdvance()
		return s.engine.Pause(ctx)
	}

	s.mu.Lock()
	request := s.pending
	if request != nil && request.id == track.ID {
		s.pending = nil
	} else {
		request = nil
	}
	autoPlay := s.autoAdvancing
	s.mu.Unlock()

	if track.ID == s.loadedID && !restart && request == nil {
		return nil
	}
	if request != nil {
		autoPlay = request.autoPlay
	} else if !autoPlay {
		autoPlay = s.engine.GetState().Playing
	}

	s.loadedID = track.ID
	err := s.engine.Load(ctx, toPlayerTrack(*track), autoPlay)
	s.estimator.Reset()

	if request != nil {
		s.mu.Lock()
		request.err = err
		s.mu.Unlock()
	}
	return err
}

func (s *Service) onPlayerEvent(eventName string, payload any) {
	s.mu.Lock()
	history := s.history
	forward := s.forward
	s.mu.Unlock()

	if state, ok := payload.(player.State); ok && history != nil {
		history.HandlePlayerState(state)
	}
	if forward != nil {
		forward(eventName, payload)
	}
}

func (s *Service) onTrackEnded(track player.Track) {
	s.mu.Lock()
	history := s.history
	s.stopAdvanceLocked()
	gen := s.advanceGen
	s.advanceTimer = time.AfterFunc(s.opts.AdvanceDelay, func() {
		s.autoAdvance(gen)
	})
	s.mu.Unlock()

	if history != nil {
		history.HandleTrackEnded(track)
	}
}

func (s *Service) autoAdvance(gen uint64) {
	s.mu.Lock()
	if gen != s.advanceGen {
		s.mu.Unlock()
		return
	}
	s.advanceTimer = nil
	s.autoAdvancing = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.autoAdvancing = false
		s.mu.Unlock()
	}()

	previous := s.sequencer.CurrentTrack()
	next, ok := s.sequencer.AdvanceNext()
	if !ok {
		logging.Debug("session: end of playlist")
		return
	}

	// Repeat-one leaves the selection unchanged, so no change event loads it.
	if previous != nil && next.ID == previous.ID {
		if err := s.syncSelection(ctx, true); err != nil {
			logging.Warn("session: restart track failed", logging.ErrorField(err))
		}
	}
}

func (s *Service) cancelAdvance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAdvanceLocked()
}

func (s *Service) stopAdvanceLocked() {
	s.advanceGen++
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

func (s *Service) runPoller(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) sample() {
	if !s.engine.GetState().Playing {
		return
	}

	bins := s.engine.SampleBuffer()
	if len(bins) == 0 {
		return
	}

	frame := Frame{
		Bins: bins,
		Beat: s.estimator.Observe(bins),
		BPM:  s.estimator.EstimateBPM(),
		At:   time.Now().UTC(),
	}

	if dropped := s.frames.Publish(frame); dropped > 0 {
		logging.Debug("session: frame dropped", logging.Int("listeners", dropped))
	}

	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()
	if emitter != nil {
		emitter(EventFrame, frame)
	}
}

func toPlayerTrack(track playlist.Track) player.Track {
	return player.Track{
		ID:       track.ID,
		Name:     track.Name,
		Artist:   track.Artist,
		URL:      track.URL,
		Duration: track.Duration,
	}
}
