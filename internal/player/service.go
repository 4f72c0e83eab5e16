package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"cadence/internal/logging"

	"golang.org/x/sync/semaphore"
)

const EventStateChanged = "player:state"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

type FadeDirection string

const (
	FadeNone FadeDirection = "none"
	FadeIn   FadeDirection = "in"
	FadeOut  FadeDirection = "out"
)

var ErrPlayRejected = errors.New("play request rejected")

type Track struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

type Emitter func(eventName string, payload any)

type State struct {
	Status       Status        `json:"status"`
	Fading       FadeDirection `json:"fading"`
	Playing      bool          `json:"playing"`
	Loading      bool          `json:"loading"`
	Track        *Track        `json:"track,omitempty"`
	Elapsed      float64       `json:"elapsed"`
	Duration     float64       `json:"duration"`
	Volume       int           `json:"volume"`
	OutputVolume float64       `json:"outputVolume"`
	Diagnostic   string        `json:"diagnostic,omitempty"`
	UpdatedAt    string        `json:"updatedAt"`
}

type Options struct {
	// DefaultVolume is the initial target, 0 to 100. 0 starts muted; a negative
	// value selects the default.
	DefaultVolume int
	FadeInSteps     int
	FadeInInterval  time.Duration
	FadeOutSteps    int
	FadeOutInterval time.Duration
	// FadeOutLead is the remaining time at which the automatic fade-out starts.
	FadeOutLead time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultVolume:   75,
		FadeInSteps:     20,
		FadeInInterval:  50 * time.Millisecond,
		FadeOutSteps:    30,
		FadeOutInterval: 100 * time.Millisecond,
		FadeOutLead:     3 * time.Second,
	}
}

func (o Options) normalized() Options {
	defaults := DefaultOptions()
	if o.DefaultVolume < 0 {
		o.DefaultVolume = defaults.DefaultVolume
	}
	o.DefaultVolume = clampVolume(o.DefaultVolume)
	if o.FadeInSteps <= 0 {
		o.FadeInSteps = defaults.FadeInSteps
	}
	if o.FadeInInterval <= 0 {
		o.FadeInInterval = defaults.FadeInInterval
	}
	if o.FadeOutSteps <= 0 {
		o.FadeOutSteps = defaults.FadeOutSteps
	}
	if o.FadeOutInterval <= 0 {
		o.FadeOutInterval = defaults.FadeOutInterval
	}
	if o.FadeOutLead <= 0 {
		o.FadeOutLead = defaults.FadeOutLead
	}
	return o
}

type playRequest struct {
	done chan struct{}
	err  error
}

// Service owns a single SignalSource. Load, Play, Pause and Seek are
// serialized; a start request that is still pending when one of them
// arrives is awaited before the source is touched again.
type Service struct {
	source SignalSource
	opts   Options
	ops    *semaphore.Weighted

	mu           sync.Mutex
	status       Status
	track        *Track
	elapsed      float64
	duration     float64
	volume       int
	output       float64
	autoPlay     bool
	loadGen      uint64
	inflight     *playRequest
	fading       FadeDirection
	fadeGen      uint64
	fadeStop     chan struct{}
	fadeOutArmed bool
	diagnostic   string
	updatedAt    time.Time
	emit         Emitter
	onEnded      func(Track)
	onDuration   func(Track, float64)
	onError      func(error)

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	eventsWG  sync.WaitGroup
}

func NewService(source SignalSource, opts Options) *Service {
	opts = opts.normalized()

	service := &Service{
		source:       source,
		opts:         opts,
		ops:          semaphore.NewWeighted(1),
		status:       StatusIdle,
		volume:       opts.DefaultVolume,
		fading:       FadeNone,
		fadeOutArmed: true,
		events:       make(chan Event, 64),
		closed:       make(chan struct{}),
	}

	service.mu.Lock()
	service.setOutputLocked(service.targetLevelLocked())
	service.mu.Unlock()

	source.Subscribe(service.enqueueEvent)

	service.eventsWG.Add(1)
	go service.runEvents()

	return service
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

// SetOnEnded registers the natural end-of-track callback.
func (s *Service) SetOnEnded(callback func(Track)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = callback
}

func (s *Service) SetOnDuration(callback func(Track, float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDuration = callback
}

func (s *Service) SetOnError(callback func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) Load(ctx context.Context, track Track, autoPlay bool) error {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.ops.Release(1)

	s.mu.Lock()
	s.cancelFadeLocked()
	pending := s.inflight
	s.mu.Unlock()

	if err := awaitRequest(ctx, pending); err != nil {
		return err
	}

	s.mu.Lock()
	s.loadGen++
	loaded := track
	s.track = &loaded
	s.elapsed = 0
	s.duration = track.Duration
	s.status = StatusLoading
	s.autoPlay = autoPlay
	s.fadeOutArmed = true
	s.diagnostic = ""
	s.setOutputLocked(s.targetLevelLocked())

	err := s.source.SetSource(track.URL)
	if err == nil {
		err = s.source.Load()
	}
	if err != nil {
		s.status = StatusIdle
		s.autoPlay = false
		s.diagnostic = err.Error()
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
	if err != nil {
		logging.Warn("player: load failed", logging.String("track", track.Name), logging.ErrorField(err))
		return fmt.Errorf("load %q: %w", track.Name, err)
	}

	return nil
}

// Play returns once the start request settles. It is a no-op without a
// loaded track, while loading, or when already playing.
func (s *Service) Play(ctx context.Context) error {
	return s.play(ctx, 0, false)
}

func (s *Service) play(ctx context.Context, gen uint64, requireGen bool) error {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.ops.Release(1)

	s.mu.Lock()
	pending := s.inflight
	s.mu.Unlock()

	if err := awaitRequest(ctx, pending); err != nil {
		return err
	}

	s.mu.Lock()
	if requireGen && s.loadGen != gen {
		s.mu.Unlock()
		return nil
	}
	if s.track == nil || (s.status != StatusReady && s.status != StatusPaused) {
		s.mu.Unlock()
		return nil
	}

	s.cancelFadeLocked()
	s.setOutputLocked(0)
	request := &playRequest{done: make(chan struct{})}
	s.inflight = request
	suspended := s.source.Suspended()
	s.mu.Unlock()

	go s.runPlayRequest(context.WithoutCancel(ctx), request, suspended)

	select {
	case <-request.done:
		return request.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runPlayRequest(ctx context.Context, request *playRequest, suspended bool) {
	var err error
	if suspended {
		if resumeErr := s.source.Resume(ctx); resumeErr != nil {
			err = fmt.Errorf("resume output: %w", resumeErr)
		}
	}
	if err == nil {
		err = s.source.Play(ctx)
	}

	s.settlePlay(request, err)
	close(request.done)
}

func (s *Service) settlePlay(request *playRequest, err error) {
	s.mu.Lock()
	if s.inflight == request {
		s.inflight = nil
	}

	if err != nil {
		request.err = fmt.Errorf("%w: %v", ErrPlayRejected, err)
		s.status = StatusPaused
		s.diagnostic = err.Error()
		s.setOutputLocked(s.targetLevelLocked())
	} else {
		s.status = StatusPlaying
		s.diagnostic = ""
		s.startFadeLocked(FadeIn, 0, s.targetLevelLocked(), s.opts.FadeInSteps, s.opts.FadeInInterval)
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		logging.Warn("player: play request rejected", logging.ErrorField(err))
	}
	s.emitState(state)
}

// Pause is safe to call at any time, including while a start request is
// still pending.
func (s *Service) Pause(ctx context.Context) error {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.ops.Release(1)

	s.mu.Lock()
	pending := s.inflight
	s.mu.Unlock()

	if err := awaitRequest(ctx, pending); err != nil {
		return err
	}

	s.mu.Lock()
	s.cancelFadeLocked()
	s.autoPlay = false
	s.setOutputLocked(s.targetLevelLocked())

	var err error
	switch s.status {
	case StatusPlaying:
		if err = s.source.Pause(); err != nil {
			s.diagnostic = err.Error()
		} else {
			s.status = StatusPaused
		}
	case StatusReady:
		s.status = StatusPaused
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
	if err != nil {
		logging.Warn("player: pause failed", logging.ErrorField(err))
		return fmt.Errorf("pause: %w", err)
	}

	return nil
}

func (s *Service) TogglePlayback(ctx context.Context) error {
	if s.GetState().Status == StatusPlaying {
		return s.Pause(ctx)
	}

	return s.Play(ctx)
}

// Seek leaves the play/pause axis untouched. Any fade is cancelled and the
// output returns to the target volume.
func (s *Service) Seek(ctx context.Context, seconds float64) error {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.ops.Release(1)

	s.mu.Lock()
	pending := s.inflight
	s.mu.Unlock()

	if err := awaitRequest(ctx, pending); err != nil {
		return err
	}

	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return nil
	}

	position := clampPosition(seconds, s.duration)
	if err := s.source.SetCurrentTime(position); err != nil {
		s.diagnostic = err.Error()
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.emitState(state)
		logging.Warn("player: seek failed", logging.Float64("position", position), logging.ErrorField(err))
		return fmt.Errorf("seek: %w", err)
	}

	s.elapsed = position
	s.cancelFadeLocked()
	s.setOutputLocked(s.targetLevelLocked())
	if s.duration <= 0 || s.duration-position > s.opts.FadeOutLead.Seconds() {
		s.fadeOutArmed = true
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
	return nil
}

// SetVolume sets the target volume (0-100). While a fade is running the
// output keeps following the ramp and the new target applies on completion.
func (s *Service) SetVolume(volume int) State {
	s.mu.Lock()
	s.volume = clampVolume(volume)
	if s.fading == FadeNone {
		s.setOutputLocked(s.targetLevelLocked())
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
	return state
}

// SampleBuffer returns the latest frequency magnitudes, or an empty slice
// when no analysis pipeline is attached.
func (s *Service) SampleBuffer() []uint8 {
	analyser := s.source.Analyser()
	if analyser == nil {
		return []uint8{}
	}

	data := analyser.FrequencyData()
	if data == nil {
		return []uint8{}
	}
	return data
}

func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cancelFadeLocked()
		s.mu.Unlock()

		close(s.closed)
		s.eventsWG.Wait()
		err = s.source.Close()
	})
	return err
}

func (s *Service) enqueueEvent(event Event) {
	select {
	case s.events <- event:
	case <-s.closed:
	}
}

func (s *Service) runEvents() {
	defer s.eventsWG.Done()

	for {
		select {
		case <-s.closed:
			return
		case event := <-s.events:
			s.handleEvent(event)
		}
	}
}

func (s *Service) handleEvent(event Event) {
	switch event.Type {
	case EventTimeAdvanced:
		s.onTimeAdvanced(event.Time)
	case EventDurationKnown:
		s.onDurationKnown(event.Duration)
	case EventReady:
		s.onReady()
	case EventEnded:
		s.onSourceEnded()
	case EventError:
		s.onSourceError(event.Err)
	case EventPaused:
		s.onExternalPause()
	case EventStarted:
		s.onExternalStart()
	case EventLoadStarted:
		logging.Debug("player: load started")
	}
}

func (s *Service) onReady() {
	s.mu.Lock()
	if s.status != StatusLoading {
		s.mu.Unlock()
		return
	}

	s.status = StatusReady
	autoPlay := s.autoPlay
	s.autoPlay = false
	gen := s.loadGen
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)

	if autoPlay {
		go func() {
			_ = s.play(context.Background(), gen, true)
		}()
	}
}

func (s *Service) onTimeAdvanced(seconds float64) {
	if math.IsNaN(seconds) || seconds < 0 {
		return
	}

	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return
	}

	s.elapsed = seconds
	if s.shouldFadeOutLocked() {
		s.fadeOutArmed = false
		s.startFadeLocked(FadeOut, s.output, 0, s.opts.FadeOutSteps, s.opts.FadeOutInterval)
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
}

func (s *Service) shouldFadeOutLocked() bool {
	if s.status != StatusPlaying || s.fading != FadeNone || !s.fadeOutArmed || s.duration <= 0 {
		return false
	}

	remaining := s.duration - s.elapsed
	return remaining > 0 && remaining <= s.opts.FadeOutLead.Seconds()
}

func (s *Service) onDurationKnown(seconds float64) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return
	}

	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return
	}

	s.duration = seconds
	s.track.Duration = seconds
	track := *s.track
	callback := s.onDuration
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	if callback != nil {
		callback(track, seconds)
	}
	s.emitState(state)
}

func (s *Service) onSourceEnded() {
	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return
	}

	s.cancelFadeLocked()
	s.elapsed = 0
	s.status = StatusPaused
	s.fadeOutArmed = true
	s.setOutputLocked(s.targetLevelLocked())
	if err := s.source.SetCurrentTime(0); err != nil {
		logging.Debug("player: rewind after end failed", logging.ErrorField(err))
	}
	track := *s.track
	callback := s.onEnded
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
	if callback != nil {
		callback(track)
	}
}

func (s *Service) onSourceError(err error) {
	if err == nil {
		err = errors.New("media source error")
	}

	s.mu.Lock()
	s.cancelFadeLocked()
	s.autoPlay = false
	switch s.status {
	case StatusLoading:
		s.status = StatusIdle
	case StatusPlaying, StatusReady:
		s.status = StatusPaused
	}
	s.diagnostic = err.Error()
	s.setOutputLocked(s.targetLevelLocked())
	callback := s.onError
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	logging.Warn("player: media source error", logging.ErrorField(err))
	s.emitState(state)
	if callback != nil {
		callback(err)
	}
}

func (s *Service) onExternalPause() {
	s.mu.Lock()
	if s.status != StatusPlaying || s.inflight != nil {
		s.mu.Unlock()
		return
	}

	s.cancelFadeLocked()
	s.status = StatusPaused
	s.setOutputLocked(s.targetLevelLocked())
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
}

func (s *Service) onExternalStart() {
	s.mu.Lock()
	if s.track == nil || s.inflight != nil || (s.status != StatusPaused && s.status != StatusReady) {
		s.mu.Unlock()
		return
	}

	s.status = StatusPlaying
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.emitState(state)
}

// startFadeLocked replaces any running fade. Each tick moves the output
// linearly from `from` towards `to`; a fade-in finishes on the current
// target so a volume change made mid-ramp is applied then.
func (s *Service) startFadeLocked(direction FadeDirection, from float64, to float64, steps int, interval time.Duration) {
	s.cancelFadeLocked()

	stop := make(chan struct{})
	s.fadeStop = stop
	s.fading = direction
	gen := s.fadeGen
	s.setOutputLocked(from)

	go s.runFade(gen, stop, direction, from, to, steps, interval)
}

func (s *Service) cancelFadeLocked() {
	s.fadeGen++
	if s.fadeStop != nil {
		close(s.fadeStop)
		s.fadeStop = nil
	}
	s.fading = FadeNone
}

func (s *Service) runFade(gen uint64, stop <-chan struct{}, direction FadeDirection, from float64, to float64, steps int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for step := 1; ; step++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.fadeGen != gen {
			s.mu.Unlock()
			return
		}

		if step < steps {
			s.setOutputLocked(from + (to-from)*float64(step)/float64(steps))
			s.mu.Unlock()
			continue
		}

		level := to
		if direction == FadeIn {
			level = s.targetLevelLocked()
		}
		s.fadeStop = nil
		s.fading = FadeNone
		s.setOutputLocked(level)
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.emitState(state)
		return
	}
}

func (s *Service) setOutputLocked(level float64) {
	level = math.Max(0, math.Min(1, level))
	s.output = level
	if err := s.source.SetVolume(level); err != nil {
		logging.Debug("player: set output volume failed", logging.ErrorField(err))
	}
}

func (s *Service) targetLevelLocked() float64 {
	return float64(s.volume) / 100
}

func (s *Service) snapshotLocked() State {
	state := State{
		Status:       s.status,
		Fading:       s.fading,
		Playing:      s.status == StatusPlaying,
		Loading:      s.status == StatusLoading,
		Elapsed:      s.elapsed,
		Duration:     s.duration,
		Volume:       s.volume,
		OutputVolume: s.output,
		Diagnostic:   s.diagnostic,
	}

	if s.track != nil {
		track := *s.track
		state.Track = &track
	}

	if !s.updatedAt.IsZero() {
		state.UpdatedAt = s.updatedAt.UTC().Format(time.RFC3339)
	}

	return state
}

func (s *Service) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Service) emitState(state State) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventStateChanged, state)
	}
}

func awaitRequest(ctx context.Context, request *playRequest) error {
	if request == nil {
		return nil
	}

	select {
	case <-request.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clampPosition(seconds float64, duration float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if duration > 0 && seconds > duration {
		return duration
	}
	return seconds
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}
