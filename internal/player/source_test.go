package player

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const testSampleRate = beep.SampleRate(44100)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type staticResolver map[string]string

func (r staticResolver) Resolve(url string) (string, error) {
	path, ok := r[url]
	if !ok {
		return "", errors.New("unknown media url")
	}
	return path, nil
}

func writeSilentWAV(t *testing.T, samples int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "silence.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer file.Close()

	format := beep.Format{SampleRate: testSampleRate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(file, beep.Silence(samples), format); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return path
}
