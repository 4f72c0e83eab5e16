package analysis

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

const (
	FFTSize           = 256
	BinCount          = FFTSize / 2
	SmoothingConstant = 0.8
	MinDecibels       = -100.0
	MaxDecibels       = -30.0
)

// SampleSource supplies the most recent time-domain samples.
type SampleSource interface {
	Samples(n int) []float64
}

// Analyser converts time-domain samples into byte-scaled frequency
// magnitudes: Blackman window, FFT, exponential smoothing over time, then
// a decibel range mapped onto 0..255.
type Analyser struct {
	source SampleSource

	mu       sync.Mutex
	window   []float64
	smoothed []float64
}

func NewAnalyser(source SampleSource) *Analyser {
	return &Analyser{
		source:   source,
		window:   blackmanWindow(FFTSize),
		smoothed: make([]float64, BinCount),
	}
}

// FrequencyData returns BinCount bytes. A nil source yields an empty slice.
func (a *Analyser) FrequencyData() []uint8 {
	if a == nil || a.source == nil {
		return []uint8{}
	}

	samples := a.source.Samples(FFTSize)
	input := make([]float64, FFTSize)
	offset := FFTSize - len(samples)
	for i, sample := range samples {
		input[offset+i] = sample * a.window[offset+i]
	}

	coeffs := fft.FFTReal(input)

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]uint8, BinCount)
	for k := 0; k < BinCount; k++ {
		magnitude := cmplx.Abs(coeffs[k]) / FFTSize
		a.smoothed[k] = SmoothingConstant*a.smoothed[k] + (1-SmoothingConstant)*magnitude
		out[k] = toByte(a.smoothed[k])
	}

	return out
}

func (a *Analyser) Reset() {
	if a == nil {
		return
	}

	a.mu.Lock()
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.mu.Unlock()
}

func toByte(magnitude float64) uint8 {
	if magnitude <= 0 {
		return 0
	}

	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return uint8(scaled)
	}
}

func blackmanWindow(size int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	window := make([]float64, size)
	for i := range window {
		x := float64(i) / float64(size)
		window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return window
}
