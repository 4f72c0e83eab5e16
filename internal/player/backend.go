package player

import "context"

type EventType string

const (
	EventTimeAdvanced  EventType = "time-advanced"
	EventDurationKnown EventType = "duration-known"
	EventEnded         EventType = "ended"
	EventLoadStarted   EventType = "load-started"
	EventReady         EventType = "ready"
	EventError         EventType = "error"
	EventPaused        EventType = "paused"
	EventStarted       EventType = "started"
)

// Event is a notification from a SignalSource. Time and Duration are in
// seconds and only meaningful for the event types that carry them.
type Event struct {
	Type     EventType
	Time     float64
	Duration float64
	Err      error
}

type FrequencyAnalyser interface {
	FrequencyData() []uint8
}

// URLResolver maps a playable URL to something a backend can open.
type URLResolver interface {
	Resolve(url string) (string, error)
}

// SignalSource decodes and outputs one media resource at a time. Volume is
// linear in 0..1.
type SignalSource interface {
	SetSource(url string) error
	Load() error
	// Play blocks until the start request settles.
	Play(ctx context.Context) error
	Pause() error
	CurrentTime() float64
	SetCurrentTime(seconds float64) error
	Duration() float64
	Volume() float64
	SetVolume(level float64) error
	Suspended() bool
	Resume(ctx context.Context) error
	Subscribe(handler func(Event))
	// Analyser returns nil until an analysis pipeline is attached.
	Analyser() FrequencyAnalyser
	Close() error
}
