package analysis

import (
	"sync"

	"github.com/faiface/beep"
)

// Tap passes audio through unchanged while copying a mono mix of the
// streamed samples into a ring buffer.
type Tap struct {
	s    beep.Streamer
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

func NewTap(s beep.Streamer, bufSize int) *Tap {
	if bufSize <= 0 {
		bufSize = FFTSize
	}

	return &Tap{
		s:    s,
		buf:  make([]float64, bufSize),
		size: bufSize,
	}
}

func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)

	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.buf[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()

	return n, ok
}

func (t *Tap) Err() error {
	return t.s.Err()
}

// Samples returns the last n samples in chronological order.
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	if n <= 0 {
		return []float64{}
	}

	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()

	return out
}

// Reset zeroes the ring buffer, e.g. when a new track is loaded.
func (t *Tap) Reset() {
	t.mu.Lock()
	for i := range t.buf {
		t.buf[i] = 0
	}
	t.pos = 0
	t.mu.Unlock()
}
