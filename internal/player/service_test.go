package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu        sync.Mutex
	handler   func(Event)
	url       string
	loads     int
	loadErr   error
	playGate  chan error
	playErr   error
	playCalls int
	playing   bool
	pauses    int
	current   float64
	volumes   []float64
	suspended bool
	resumes   int
	analyser  FrequencyAnalyser
	closed    bool
}

func (f *fakeSource) SetSource(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	f.playing = false
	f.current = 0
	return nil
}

func (f *fakeSource) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeSource) Play(ctx context.Context) error {
	f.mu.Lock()
	f.playCalls++
	gate := f.playGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case err := <-gate:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.playing = true
	return nil
}

func (f *fakeSource) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	f.playing = false
	return nil
}

func (f *fakeSource) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) SetCurrentTime(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = seconds
	return nil
}

func (f *fakeSource) Duration() float64 { return 0 }

func (f *fakeSource) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.volumes) == 0 {
		return 1
	}
	return f.volumes[len(f.volumes)-1]
}

func (f *fakeSource) SetVolume(level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakeSource) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func (f *fakeSource) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	f.suspended = false
	return nil
}

func (f *fakeSource) Subscribe(handler func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeSource) Analyser() FrequencyAnalyser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyser
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) emit(event Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(event)
}

func (f *fakeSource) volumeHistory() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.volumes...)
}

func (f *fakeSource) snapshot() (playing bool, playCalls int, pauses int, current float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing, f.playCalls, f.pauses, f.current
}

type staticAnalyser []uint8

func (a staticAnalyser) FrequencyData() []uint8 { return a }

func fastOptions() Options {
	return Options{
		DefaultVolume:   75,
		FadeInSteps:     4,
		FadeInInterval:  time.Millisecond,
		FadeOutSteps:    5,
		FadeOutInterval: time.Millisecond,
		FadeOutLead:     3 * time.Second,
	}
}

func newServiceForTest(t *testing.T, opts Options) (*Service, *fakeSource) {
	t.Helper()

	source := &fakeSource{}
	service := NewService(source, opts)
	t.Cleanup(func() {
		_ = service.Close()
	})

	return service, source
}

func waitForState(t *testing.T, service *Service, description string, predicate func(State) bool) State {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		state := service.GetState()
		if predicate(state) {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", description, state)
		}
		time.Sleep(time.Millisecond)
	}
}

func loadReady(t *testing.T, service *Service, source *fakeSource, track Track, autoPlay bool) {
	t.Helper()

	if err := service.Load(context.Background(), track, autoPlay); err != nil {
		t.Fatalf("load: %v", err)
	}
	source.emit(Event{Type: EventReady})

	if autoPlay {
		waitForState(t, service, "autoplay", func(state State) bool { return state.Status == StatusPlaying })
		return
	}
	waitForState(t, service, "ready", func(state State) bool { return state.Status == StatusReady })
}

func testTrack() Track {
	return Track{ID: "a", Name: "Track A", Artist: "Artist", URL: "blob:a", Duration: 10}
}

func TestLoadWithAutoPlayFadesIn(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	if err := service.Load(context.Background(), testTrack(), true); err != nil {
		t.Fatalf("load: %v", err)
	}
	if state := service.GetState(); state.Status != StatusLoading || !state.Loading || state.Elapsed != 0 {
		t.Fatalf("expected loading state after load, got %+v", state)
	}

	source.emit(Event{Type: EventReady})
	state := waitForState(t, service, "fade-in completion", func(state State) bool {
		return state.Status == StatusPlaying && state.Fading == FadeNone
	})
	if state.OutputVolume != 0.75 {
		t.Fatalf("expected output at target after fade-in, got %v", state.OutputVolume)
	}

	history := source.volumeHistory()
	zero := -1
	for i, level := range history {
		if level == 0 {
			zero = i
		}
	}
	if zero < 0 {
		t.Fatalf("expected fade-in to start from silence, got %v", history)
	}
	for i := zero + 1; i < len(history); i++ {
		if history[i] <= history[i-1] {
			t.Fatalf("expected fade-in to ramp upward, got %v", history[zero:])
		}
	}
}

func TestPlayIsNoopWithoutTrackOrWhileLoading(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	if err := service.Play(context.Background()); err != nil {
		t.Fatalf("expected play without track to be a no-op, got %v", err)
	}

	if err := service.Load(context.Background(), testTrack(), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := service.Play(context.Background()); err != nil {
		t.Fatalf("expected play while loading to be a no-op, got %v", err)
	}

	if _, playCalls, _, _ := source.snapshot(); playCalls != 0 {
		t.Fatalf("expected no play request, got %d", playCalls)
	}
	if state := service.GetState(); state.Status != StatusLoading {
		t.Fatalf("expected loading status, got %s", state.Status)
	}
}

func TestPauseBeforeAnyPlayIsHarmless(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	if err := service.Pause(context.Background()); err != nil {
		t.Fatalf("pause on idle engine: %v", err)
	}
	if state := service.GetState(); state.Status != StatusIdle {
		t.Fatalf("expected idle status, got %s", state.Status)
	}

	loadReady(t, service, source, testTrack(), false)
	if err := service.Pause(context.Background()); err != nil {
		t.Fatalf("pause on ready engine: %v", err)
	}
	if state := service.GetState(); state.Status != StatusPaused {
		t.Fatalf("expected paused status, got %s", state.Status)
	}
	if _, _, pauses, _ := source.snapshot(); pauses != 0 {
		t.Fatalf("expected source not to be paused before it started, got %d", pauses)
	}
}

func TestPauseAwaitsPendingPlayRequest(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())
	gate := make(chan error)
	source.playGate = gate

	loadReady(t, service, source, testTrack(), false)

	playDone := make(chan error, 1)
	go func() {
		playDone <- service.Play(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, playCalls, _, _ := source.snapshot(); playCalls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for play request")
		}
		time.Sleep(time.Millisecond)
	}

	pauseDone := make(chan error, 1)
	go func() {
		pauseDone <- service.Pause(context.Background())
	}()

	select {
	case err := <-pauseDone:
		t.Fatalf("expected pause to wait for the pending play request, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	gate <- nil

	if err := <-playDone; err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := <-pauseDone; err != nil {
		t.Fatalf("pause: %v", err)
	}

	state := service.GetState()
	if state.Status != StatusPaused || state.Fading != FadeNone {
		t.Fatalf("expected paused without fade, got %+v", state)
	}
	if state.OutputVolume != 0.75 {
		t.Fatalf("expected target volume restored, got %v", state.OutputVolume)
	}
	if playing, _, pauses, _ := source.snapshot(); playing || pauses != 1 {
		t.Fatalf("expected source paused once after start, playing=%v pauses=%d", playing, pauses)
	}
}

func TestRejectedPlayLeavesPaused(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())
	source.playErr = errors.New("autoplay blocked")

	loadReady(t, service, source, testTrack(), false)

	err := service.Play(context.Background())
	if !errors.Is(err, ErrPlayRejected) {
		t.Fatalf("expected rejected play error, got %v", err)
	}

	state := service.GetState()
	if state.Status != StatusPaused || state.Playing {
		t.Fatalf("expected paused after rejection, got %s", state.Status)
	}
	if state.Diagnostic == "" {
		t.Fatalf("expected diagnostic to be reported")
	}
	if state.OutputVolume != 0.75 {
		t.Fatalf("expected target volume after rejection, got %v", state.OutputVolume)
	}
}

func TestPlayResumesSuspendedOutput(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())
	source.suspended = true

	loadReady(t, service, source, testTrack(), true)

	source.mu.Lock()
	resumes := source.resumes
	source.mu.Unlock()
	if resumes != 1 {
		t.Fatalf("expected suspended output to be resumed once, got %d", resumes)
	}
}

func TestSeekCancelsFadeAndRestoresVolume(t *testing.T) {
	t.Parallel()

	opts := fastOptions()
	opts.FadeInInterval = time.Hour
	service, source := newServiceForTest(t, opts)

	loadReady(t, service, source, testTrack(), true)
	if state := service.GetState(); state.Fading != FadeIn || state.OutputVolume != 0 {
		t.Fatalf("expected fade-in in progress from silence, got %+v", state)
	}

	if err := service.Seek(context.Background(), 4); err != nil {
		t.Fatalf("seek: %v", err)
	}

	state := service.GetState()
	if state.Fading != FadeNone || state.OutputVolume != 0.75 {
		t.Fatalf("expected seek to cancel fade and restore volume, got %+v", state)
	}
	if state.Status != StatusPlaying || state.Elapsed != 4 {
		t.Fatalf("expected seek to keep playing at 4s, got %+v", state)
	}
	if _, _, _, current := source.snapshot(); current != 4 {
		t.Fatalf("expected source repositioned to 4s, got %v", current)
	}
}

func TestSeekClampsToTrackBounds(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	if err := service.Seek(context.Background(), 5); err != nil {
		t.Fatalf("seek without track should be a no-op, got %v", err)
	}

	loadReady(t, service, source, testTrack(), false)

	if err := service.Seek(context.Background(), 42); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if state := service.GetState(); state.Elapsed != 10 {
		t.Fatalf("expected clamp to duration, got %v", state.Elapsed)
	}

	if err := service.Seek(context.Background(), -3); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if state := service.GetState(); state.Elapsed != 0 || state.Status != StatusReady {
		t.Fatalf("expected clamp to zero without changing status, got %+v", state)
	}
}

func TestSetVolumeDuringFadeIsStaged(t *testing.T) {
	t.Parallel()

	opts := fastOptions()
	opts.FadeInInterval = time.Hour
	service, source := newServiceForTest(t, opts)

	loadReady(t, service, source, testTrack(), true)

	state := service.SetVolume(40)
	if state.Volume != 40 || state.OutputVolume != 0 || state.Fading != FadeIn {
		t.Fatalf("expected target staged while fading, got %+v", state)
	}

	if err := service.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if state := service.GetState(); state.OutputVolume != 0.4 {
		t.Fatalf("expected staged target applied, got %v", state.OutputVolume)
	}

	if state := service.SetVolume(140); state.Volume != 100 || state.OutputVolume != 1 {
		t.Fatalf("expected immediate clamped volume without fade, got %+v", state)
	}
}

func TestFadeInCompletesOnStagedTarget(t *testing.T) {
	t.Parallel()

	opts := fastOptions()
	opts.FadeInSteps = 10
	opts.FadeInInterval = 5 * time.Millisecond
	service, source := newServiceForTest(t, opts)

	loadReady(t, service, source, testTrack(), true)
	service.SetVolume(40)

	state := waitForState(t, service, "fade-in completion", func(state State) bool { return state.Fading == FadeNone })
	if state.OutputVolume != 0.4 {
		t.Fatalf("expected fade to settle on the new target, got %v", state.OutputVolume)
	}
}

func TestFadeOutNearEndAndNaturalEnd(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	var ended []Track
	var endedMu sync.Mutex
	service.SetOnEnded(func(track Track) {
		endedMu.Lock()
		ended = append(ended, track)
		endedMu.Unlock()
	})

	loadReady(t, service, source, testTrack(), true)
	waitForState(t, service, "fade-in completion", func(state State) bool { return state.Fading == FadeNone })

	source.emit(Event{Type: EventTimeAdvanced, Time: 2.5})
	state := waitForState(t, service, "elapsed 2.5", func(state State) bool { return state.Elapsed == 2.5 })
	if state.Fading != FadeNone {
		t.Fatalf("expected no fade with 7.5s remaining, got %s", state.Fading)
	}

	mark := len(source.volumeHistory())
	source.emit(Event{Type: EventTimeAdvanced, Time: 7})
	waitForState(t, service, "fade-out completion", func(state State) bool {
		return state.Elapsed == 7 && state.Fading == FadeNone && state.OutputVolume == 0
	})

	ramp := source.volumeHistory()[mark:]
	if len(ramp) < 2 || ramp[len(ramp)-1] != 0 {
		t.Fatalf("expected ramp down to 0, got %v", ramp)
	}
	for i := 1; i < len(ramp); i++ {
		if ramp[i] >= ramp[i-1] {
			t.Fatalf("expected strictly decreasing volume, got %v", ramp)
		}
	}

	source.emit(Event{Type: EventTimeAdvanced, Time: 8})
	state = waitForState(t, service, "elapsed 8", func(state State) bool { return state.Elapsed == 8 })
	if state.Fading != FadeNone {
		t.Fatalf("expected fade-out to fire once per track, got %s", state.Fading)
	}

	source.emit(Event{Type: EventEnded})
	state = waitForState(t, service, "end of track", func(state State) bool { return state.Status == StatusPaused })
	if state.Elapsed != 0 || state.Playing || state.OutputVolume != 0.75 {
		t.Fatalf("expected rewound, stopped, volume restored, got %+v", state)
	}
	if _, _, _, current := source.snapshot(); current != 0 {
		t.Fatalf("expected source rewound, got %v", current)
	}

	endedMu.Lock()
	defer endedMu.Unlock()
	if len(ended) != 1 || ended[0].ID != "a" {
		t.Fatalf("expected one end notification for track a, got %v", ended)
	}
}

func TestSeekBackRearmsFadeOut(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	loadReady(t, service, source, testTrack(), true)
	waitForState(t, service, "fade-in completion", func(state State) bool { return state.Fading == FadeNone })

	source.emit(Event{Type: EventTimeAdvanced, Time: 8})
	waitForState(t, service, "fade-out completion", func(state State) bool {
		return state.Elapsed == 8 && state.Fading == FadeNone && state.OutputVolume == 0
	})

	if err := service.Seek(context.Background(), 2); err != nil {
		t.Fatalf("seek: %v", err)
	}

	mark := len(source.volumeHistory())
	source.emit(Event{Type: EventTimeAdvanced, Time: 8.5})
	waitForState(t, service, "second fade-out", func(state State) bool {
		return state.Elapsed == 8.5 && state.Fading == FadeNone && state.OutputVolume == 0
	})
	if len(source.volumeHistory()[mark:]) < 2 {
		t.Fatalf("expected a second fade-out after seeking back")
	}
}

func TestLoadFailureIsReported(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())
	source.loadErr = errors.New("unsupported format")

	if err := service.Load(context.Background(), testTrack(), true); err == nil {
		t.Fatalf("expected load error")
	}

	state := service.GetState()
	if state.Status != StatusIdle || state.Diagnostic == "" {
		t.Fatalf("expected idle with diagnostic, got %+v", state)
	}
}

func TestSourceErrorWhileLoading(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	errs := make(chan error, 1)
	service.SetOnError(func(err error) { errs <- err })

	if err := service.Load(context.Background(), testTrack(), true); err != nil {
		t.Fatalf("load: %v", err)
	}
	source.emit(Event{Type: EventError, Err: errors.New("decode failed")})

	state := waitForState(t, service, "idle after error", func(state State) bool { return state.Status == StatusIdle })
	if state.Diagnostic != "decode failed" {
		t.Fatalf("expected diagnostic from source error, got %q", state.Diagnostic)
	}

	select {
	case err := <-errs:
		if err.Error() != "decode failed" {
			t.Fatalf("unexpected error reported: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected error callback")
	}
}

func TestDurationKnownUpdatesTrack(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	durations := make(chan float64, 1)
	service.SetOnDuration(func(track Track, seconds float64) { durations <- seconds })

	track := testTrack()
	track.Duration = 0
	loadReady(t, service, source, track, false)

	source.emit(Event{Type: EventDurationKnown, Duration: 12.5})

	select {
	case seconds := <-durations:
		if seconds != 12.5 {
			t.Fatalf("expected 12.5s, got %v", seconds)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected duration callback")
	}

	state := service.GetState()
	if state.Duration != 12.5 || state.Track == nil || state.Track.Duration != 12.5 {
		t.Fatalf("expected duration in state, got %+v", state)
	}
}

func TestSampleBuffer(t *testing.T) {
	t.Parallel()

	service, source := newServiceForTest(t, fastOptions())

	if buffer := service.SampleBuffer(); len(buffer) != 0 {
		t.Fatalf("expected empty buffer without analyser, got %d", len(buffer))
	}

	source.mu.Lock()
	source.analyser = staticAnalyser(make([]uint8, 128))
	source.mu.Unlock()

	if buffer := service.SampleBuffer(); len(buffer) != 128 {
		t.Fatalf("expected 128 bins, got %d", len(buffer))
	}
}

func TestStateEmittedOnChange(t *testing.T) {
	t.Parallel()

	service, _ := newServiceForTest(t, fastOptions())

	events := make(chan string, 8)
	service.SetEmitter(func(name string, payload any) {
		if _, ok := payload.(State); ok {
			events <- name
		}
	})

	service.SetVolume(30)

	select {
	case name := <-events:
		if name != EventStateChanged {
			t.Fatalf("expected %s, got %s", EventStateChanged, name)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected state event")
	}
}

func TestZeroDefaultVolumeStartsMuted(t *testing.T) {
	t.Parallel()

	opts := fastOptions()
	opts.DefaultVolume = 0
	service, _ := newServiceForTest(t, opts)

	if state := service.GetState(); state.Volume != 0 || state.OutputVolume != 0 {
		t.Fatalf("expected muted start, got volume %d output %v", state.Volume, state.OutputVolume)
	}

	opts.DefaultVolume = -1
	defaulted, _ := newServiceForTest(t, opts)
	if state := defaulted.GetState(); state.Volume != 75 {
		t.Fatalf("expected negative volume to select the default, got %d", state.Volume)
	}
}
