//go:build libmpv

package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mpv "github.com/gen2brain/go-mpv"
)

const (
	mpvPauseProperty    = "pause"
	mpvPositionProperty = "time-pos"
	mpvDurationProperty = "duration"
	mpvVolumeProperty   = "volume"
	mpvIdleProperty     = "idle-active"
	timeAdvancedPeriod  = 250 * time.Millisecond
)

type mpvSource struct {
	resolver URLResolver

	mu          sync.Mutex
	client      *mpv.Mpv
	handler     func(Event)
	url         string
	path        string
	ended       bool
	level       float64
	pollStop    chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
	eventLoopWG sync.WaitGroup
}

// NewSignalSource returns a libmpv-backed source. It has no analysis tap,
// so the engine's sample buffer stays empty.
func NewSignalSource(resolver URLResolver) (SignalSource, error) {
	return newMPVSource(resolver, nil)
}

// newMPVSource applies extra options after the defaults, e.g. ao=null.
func newMPVSource(resolver URLResolver, options map[string]string) (*mpvSource, error) {
	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}

	setOptionString(client, "terminal", "no")
	setOptionString(client, "video", "no")
	setOptionString(client, "audio-display", "no")
	setOptionString(client, "keep-open", "no")
	setOptionString(client, "idle", "yes")
	for name, value := range options {
		setOptionString(client, name, value)
	}

	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}

	source := &mpvSource{
		resolver: resolver,
		client:   client,
		level:    1,
		closed:   make(chan struct{}),
	}

	_ = client.RequestEvent(mpv.EventEnd, true)
	_ = client.RequestEvent(mpv.EventStart, true)
	_ = client.RequestEvent(mpv.EventFileLoaded, true)

	source.eventLoopWG.Add(1)
	go source.eventLoop()

	return source, nil
}

func (m *mpvSource) SetSource(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	m.path = ""
	m.ended = false
	return nil
}

func (m *mpvSource) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.url
	if m.resolver != nil {
		resolved, err := m.resolver.Resolve(m.url)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", m.url, err)
		}
		path = resolved
	}

	if err := m.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("set pause before load: %w", err)
	}

	if err := m.client.Command([]string{"loadfile", path, "replace"}); err != nil {
		return fmt.Errorf("load file %q: %w", path, err)
	}

	m.path = path
	m.ended = false
	return nil
}

func (m *mpvSource) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if err := m.client.SetPropertyString(mpvPauseProperty, "no"); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("resume playback: %w", err)
	}
	// keep-open=no unloads the file at its end; reload it to play again.
	if m.path != "" && (m.ended || m.idleLocked()) {
		if err := m.client.Command([]string{"loadfile", m.path, "replace"}); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("reload file %q: %w", m.path, err)
		}
		m.ended = false
	}
	m.startPollerLocked()
	m.mu.Unlock()

	m.dispatch(Event{Type: EventStarted})
	return nil
}

func (m *mpvSource) Pause() error {
	m.mu.Lock()
	if err := m.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("pause playback: %w", err)
	}
	m.stopPollerLocked()
	m.mu.Unlock()

	m.dispatch(Event{Type: EventPaused})
	return nil
}

func (m *mpvSource) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	seconds, _ := m.readSecondsPropertyLocked(mpvPositionProperty)
	return seconds
}

// SetCurrentTime is a no-op while idle; Play reloads the file from the start.
func (m *mpvSource) SetCurrentTime(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended || m.idleLocked() {
		return nil
	}

	if err := m.client.SetProperty(mpvPositionProperty, mpv.FormatDouble, seconds); err != nil {
		return fmt.Errorf("seek playback: %w", err)
	}

	return nil
}

func (m *mpvSource) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	seconds, _ := m.readSecondsPropertyLocked(mpvDurationProperty)
	return seconds
}

func (m *mpvSource) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *mpvSource) SetVolume(level float64) error {
	level = math.Max(0, math.Min(1, level))

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.SetProperty(mpvVolumeProperty, mpv.FormatDouble, level*100); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	m.level = level
	return nil
}

func (m *mpvSource) Suspended() bool {
	return false
}

func (m *mpvSource) Resume(context.Context) error {
	return nil
}

func (m *mpvSource) Subscribe(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mpvSource) Analyser() FrequencyAnalyser {
	return nil
}

func (m *mpvSource) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.stopPollerLocked()
		client := m.client
		m.mu.Unlock()

		if client != nil {
			client.Wakeup()
			client.TerminateDestroy()
		}

		m.eventLoopWG.Wait()
		close(m.closed)
	})

	<-m.closed
	return nil
}

func (m *mpvSource) eventLoop() {
	defer m.eventLoopWG.Done()

	for {
		event := m.client.WaitEvent(0.5)
		if event == nil {
			continue
		}

		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventStart:
			m.dispatch(Event{Type: EventLoadStarted})
		case mpv.EventFileLoaded:
			if seconds := m.Duration(); seconds > 0 {
				m.dispatch(Event{Type: EventDurationKnown, Duration: seconds})
			}
			m.dispatch(Event{Type: EventReady})
		case mpv.EventEnd:
			end := event.EndFile()
			switch end.Reason {
			case mpv.EndFileEOF:
				m.mu.Lock()
				m.stopPollerLocked()
				m.ended = true
				m.mu.Unlock()
				m.dispatch(Event{Type: EventEnded})
			case mpv.EndFileError:
				m.dispatch(Event{Type: EventError, Err: errors.New("libmpv could not play the file")})
			}
		}
	}
}

func (m *mpvSource) idleLocked() bool {
	value, err := m.client.GetProperty(mpvIdleProperty, mpv.FormatFlag)
	if err != nil {
		return false
	}

	idle, ok := value.(bool)
	return ok && idle
}

func (m *mpvSource) readSecondsPropertyLocked(property string) (float64, error) {
	value, err := m.client.GetProperty(property, mpv.FormatDouble)
	if err != nil {
		if errors.Is(err, mpv.ErrPropertyUnavailable) || errors.Is(err, mpv.ErrPropertyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", property, err)
	}

	seconds, ok := asFloat64(value)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, nil
	}

	return seconds, nil
}

func (m *mpvSource) startPollerLocked() {
	if m.pollStop != nil {
		return
	}

	stop := make(chan struct{})
	m.pollStop = stop
	go m.runPoller(stop)
}

func (m *mpvSource) stopPollerLocked() {
	if m.pollStop == nil {
		return
	}

	close(m.pollStop)
	m.pollStop = nil
}

func (m *mpvSource) runPoller(stop <-chan struct{}) {
	ticker := time.NewTicker(timeAdvancedPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.dispatch(Event{Type: EventTimeAdvanced, Time: m.CurrentTime()})
		}
	}
}

func (m *mpvSource) dispatch(event Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler(event)
	}
}

func asFloat64(value any) (float64, bool) {
	switch cast := value.(type) {
	case float64:
		return cast, true
	case float32:
		return float64(cast), true
	case int:
		return float64(cast), true
	case int64:
		return float64(cast), true
	default:
		return 0, false
	}
}

func setOptionString(client *mpv.Mpv, name string, value string) {
	_ = client.SetOptionString(name, value)
}
