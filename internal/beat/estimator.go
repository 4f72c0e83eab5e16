// Package beat flags onsets in a stream of frequency-magnitude snapshots and
// derives a tempo from their spacing.
package beat

import (
	"math"
	"sync"
	"time"
)

const (
	// WindowSize is about one second of snapshots at the 43 Hz the window was tuned for.
	WindowSize = 43

	Sensitivity = 1.5

	Refractory = 300 * time.Millisecond

	HistorySpan = 10 * time.Second
)

type Clock func() time.Time

type Estimator struct {
	mu       sync.Mutex
	now      Clock
	energies []float64
	next     int
	filled   bool
	lastBeat time.Time
	beats    []time.Time
}

func NewEstimator() *Estimator {
	return NewEstimatorWithClock(time.Now)
}

func NewEstimatorWithClock(now Clock) *Estimator {
	if now == nil {
		now = time.Now
	}

	return &Estimator{
		now:      now,
		energies: make([]float64, WindowSize),
	}
}

// Observe records one snapshot and reports whether it is a beat.
func (e *Estimator) Observe(buffer []uint8) bool {
	if len(buffer) == 0 {
		return false
	}

	energy := Energy(buffer)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.energies[e.next] = energy
	e.next = (e.next + 1) % WindowSize
	if e.next == 0 {
		e.filled = true
	}
	if !e.filled {
		return false
	}

	mean, variance := meanVariance(e.energies)
	if !IsOnset(energy, mean, variance) {
		return false
	}
	if !e.lastBeat.IsZero() && now.Sub(e.lastBeat) < Refractory {
		return false
	}

	e.lastBeat = now
	e.beats = append(e.beats, now)
	e.beats = pruneBefore(e.beats, now.Add(-HistorySpan))
	return true
}

// EstimateBPM returns 0 until two beats fall inside the history span.
func (e *Estimator) EstimateBPM() int {
	now := e.now()

	e.mu.Lock()
	recent := pruneBefore(append([]time.Time(nil), e.beats...), now.Add(-HistorySpan))
	e.mu.Unlock()

	if len(recent) < 2 {
		return 0
	}

	span := recent[len(recent)-1].Sub(recent[0])
	meanIntervalMS := float64(span) / float64(time.Millisecond) / float64(len(recent)-1)
	if meanIntervalMS <= 0 {
		return 0
	}

	return int(math.Round(60000 / meanIntervalMS))
}

func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.energies {
		e.energies[i] = 0
	}
	e.next = 0
	e.filled = false
	e.lastBeat = time.Time{}
	e.beats = nil
}

func (e *Estimator) BeatCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.beats)
}

// Energy is the mean of squared sample values.
func Energy(buffer []uint8) float64 {
	if len(buffer) == 0 {
		return 0
	}

	var sum float64
	for _, value := range buffer {
		v := float64(value)
		sum += v * v
	}

	return sum / float64(len(buffer))
}

func IsOnset(energy, mean, variance float64) bool {
	return energy > mean+Sensitivity*math.Sqrt(variance)
}

func meanVariance(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		d := v - mean
		squares += d * d
	}

	return mean, squares / float64(len(values))
}

// pruneBefore drops timestamps at or before cutoff; the slice is ordered.
func pruneBefore(beats []time.Time, cutoff time.Time) []time.Time {
	keep := 0
	for keep < len(beats) && !beats[keep].After(cutoff) {
		keep++
	}
	if keep == 0 {
		return beats
	}

	return append(beats[:0], beats[keep:]...)
}
