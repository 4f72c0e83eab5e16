//go:build !libmpv

package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cadence/internal/analysis"
	"cadence/internal/logging"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

const (
	outputSampleRate   = beep.SampleRate(44100)
	outputBufferLength = 100 * time.Millisecond
	timeAdvancedPeriod = 250 * time.Millisecond
	resampleQuality    = 4
)

var errNoSource = errors.New("no media source loaded")

// speakerOnce guards the process-wide speaker; beep supports one output.
var (
	speakerOnce sync.Once
	speakerErr  error
)

type beepSource struct {
	resolver URLResolver

	mu       sync.Mutex
	handler  func(Event)
	url      string
	loadGen  uint64
	stream   beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	gain     *effects.Volume
	tap      *analysis.Tap
	analyser *analysis.Analyser
	level    float64
	queued   bool
	ready    bool
	resumed  bool
	pollStop chan struct{}
}

// NewSignalSource returns the speaker-backed source used by default builds.
func NewSignalSource(resolver URLResolver) (SignalSource, error) {
	return &beepSource{resolver: resolver, level: 1}, nil
}

func (b *beepSource) SetSource(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.teardownLocked()
	b.url = url
	b.loadGen++
	return nil
}

func (b *beepSource) Load() error {
	b.mu.Lock()
	url := b.url
	gen := b.loadGen
	resolver := b.resolver
	b.mu.Unlock()

	if url == "" {
		return errNoSource
	}

	path := url
	if resolver != nil {
		resolved, err := resolver.Resolve(url)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", url, err)
		}
		path = resolved
	}

	go b.decode(gen, path)
	return nil
}

func (b *beepSource) decode(gen uint64, path string) {
	if !b.dispatchFor(gen, Event{Type: EventLoadStarted}) {
		return
	}

	stream, format, err := decodeFile(path)
	if err != nil {
		if !b.dispatchFor(gen, Event{Type: EventError, Err: err}) {
			logging.Debug("player: superseded load failed", logging.String("path", path), logging.ErrorField(err))
		}
		return
	}

	var source beep.Streamer = stream
	if format.SampleRate != outputSampleRate {
		source = beep.Resample(resampleQuality, format.SampleRate, outputSampleRate, stream)
	}

	b.mu.Lock()
	if gen != b.loadGen {
		b.mu.Unlock()
		_ = stream.Close()
		return
	}

	b.stream = stream
	b.format = format
	b.ctrl = &beep.Ctrl{Streamer: source, Paused: true}
	b.gain = &effects.Volume{Streamer: b.ctrl, Base: 2}
	applyLevel(b.gain, b.level)
	b.tap = analysis.NewTap(b.gain, analysis.FFTSize)
	b.analyser = analysis.NewAnalyser(b.tap)
	b.ready = true
	duration := format.SampleRate.D(stream.Len()).Seconds()
	b.mu.Unlock()

	if b.dispatchFor(gen, Event{Type: EventDurationKnown, Duration: duration}) {
		b.dispatchFor(gen, Event{Type: EventReady})
	}
}

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open media: %w", err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err = mp3.Decode(file)
	case ".wav":
		stream, format, err = wav.Decode(file)
	case ".flac":
		stream, format, err = flac.Decode(file)
	case ".ogg", ".oga":
		stream, format, err = vorbis.Decode(file)
	default:
		err = fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
	if err != nil {
		_ = file.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return stream, format, nil
}

func (b *beepSource) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.ready || b.ctrl == nil {
		b.mu.Unlock()
		return errNoSource
	}
	if !b.resumed {
		b.mu.Unlock()
		return errors.New("audio output is suspended")
	}

	if !b.queued {
		gen := b.loadGen
		b.queued = true
		speaker.Play(beep.Seq(b.tap, beep.Callback(func() {
			go b.finish(gen)
		})))
	}

	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
	b.startPollerLocked()
	b.mu.Unlock()

	b.dispatch(Event{Type: EventStarted})
	return nil
}

func (b *beepSource) Pause() error {
	b.mu.Lock()
	if b.ctrl == nil {
		b.mu.Unlock()
		return nil
	}

	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	b.stopPollerLocked()
	b.mu.Unlock()

	b.dispatch(Event{Type: EventPaused})
	return nil
}

func (b *beepSource) finish(gen uint64) {
	b.mu.Lock()
	if gen != b.loadGen {
		b.mu.Unlock()
		return
	}

	b.queued = false
	b.stopPollerLocked()
	if b.ctrl != nil {
		speaker.Lock()
		b.ctrl.Paused = true
		speaker.Unlock()
	}
	b.mu.Unlock()

	b.dispatch(Event{Type: EventEnded})
}

func (b *beepSource) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTimeLocked()
}

func (b *beepSource) currentTimeLocked() float64 {
	if b.stream == nil {
		return 0
	}

	speaker.Lock()
	position := b.stream.Position()
	speaker.Unlock()

	return b.format.SampleRate.D(position).Seconds()
}

func (b *beepSource) SetCurrentTime(seconds float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return errNoSource
	}

	position := b.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if position < 0 {
		position = 0
	}
	if last := b.stream.Len() - 1; position > last {
		position = max(last, 0)
	}

	speaker.Lock()
	err := b.stream.Seek(position)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("seek to %.2fs: %w", seconds, err)
	}

	return nil
}

func (b *beepSource) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return 0
	}
	return b.format.SampleRate.D(b.stream.Len()).Seconds()
}

func (b *beepSource) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

func (b *beepSource) SetVolume(level float64) error {
	if math.IsNaN(level) {
		return errors.New("volume is not a number")
	}
	level = math.Max(0, math.Min(1, level))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = level
	if b.gain != nil {
		speaker.Lock()
		applyLevel(b.gain, level)
		speaker.Unlock()
	}
	return nil
}

// applyLevel converts a linear level to beep's base-2 exponent.
func applyLevel(gain *effects.Volume, level float64) {
	if level <= 0 {
		gain.Silent = true
		return
	}

	gain.Silent = false
	gain.Volume = math.Log2(level)
}

func (b *beepSource) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.resumed
}

// Resume opens the speaker on first use.
func (b *beepSource) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	speakerOnce.Do(func() {
		speakerErr = speaker.Init(outputSampleRate, outputSampleRate.N(outputBufferLength))
	})
	if speakerErr != nil {
		return fmt.Errorf("open speaker: %w", speakerErr)
	}

	b.mu.Lock()
	b.resumed = true
	b.mu.Unlock()
	return nil
}

func (b *beepSource) Subscribe(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

func (b *beepSource) Analyser() FrequencyAnalyser {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.analyser == nil {
		return nil
	}
	return b.analyser
}

func (b *beepSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.teardownLocked()
	b.loadGen++
	return nil
}

func (b *beepSource) teardownLocked() {
	b.stopPollerLocked()
	if b.queued {
		speaker.Clear()
		b.queued = false
	}
	if b.stream != nil {
		_ = b.stream.Close()
	}

	b.stream = nil
	b.ctrl = nil
	b.gain = nil
	b.tap = nil
	b.analyser = nil
	b.ready = false
}

func (b *beepSource) startPollerLocked() {
	if b.pollStop != nil {
		return
	}

	stop := make(chan struct{})
	b.pollStop = stop
	go b.runPoller(stop)
}

func (b *beepSource) stopPollerLocked() {
	if b.pollStop == nil {
		return
	}

	close(b.pollStop)
	b.pollStop = nil
}

func (b *beepSource) runPoller(stop <-chan struct{}) {
	ticker := time.NewTicker(timeAdvancedPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.dispatch(Event{Type: EventTimeAdvanced, Time: b.CurrentTime()})
		}
	}
}

// dispatchFor delivers event only while gen is still the current load, so a
// superseded decode cannot report into the load that replaced it.
func (b *beepSource) dispatchFor(gen uint64, event Event) bool {
	b.mu.Lock()
	current := gen == b.loadGen
	handler := b.handler
	b.mu.Unlock()

	if !current {
		return false
	}
	if handler != nil {
		handler(event)
	}
	return true
}

func (b *beepSource) dispatch(event Event) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler(event)
	}
}
