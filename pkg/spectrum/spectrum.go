// Package spectrum turns the audio being played into smoothed frequency
// magnitudes for visualization.
package spectrum

import (
	"context"
	"log/slog"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/conflate"
)

// Config holds analyzer configuration
type Config struct {
	WindowSize     int     // samples per FFT, a power of two
	MagnitudeScale float64 // k in 1 - 2^(-|x|/k)
	FastAlpha      float64 // smoothing weight of new values for Fast
	SlowAlpha      float64 // smoothing weight of new values for Slow
}

// DefaultConfig returns default analyzer configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:     2048,
		MagnitudeScale: 0.05,
		FastAlpha:      0.5,
		SlowAlpha:      0.1,
	}
}

// Spectrum is one analysis result. Each slice has WindowSize/2 bins, all
// in [0, 1]. Published values are never modified.
type Spectrum struct {
	Raw  []float64
	Fast []float64
	Slow []float64
}

// Analyzer consumes the chunks written to the output device. Submit never
// blocks: if the analyzer falls behind, only the most recent chunk is kept.
type Analyzer struct {
	config Config

	mu      sync.Mutex
	pending []byte
	format  audioframe.Format
	has     bool
	wake    chan struct{}

	work   []byte
	window []float64
	hann   []float64
	seq    []float64
	coeffs []complex128
	fft    *fourier.FFT
	fast   []float64
	slow   []float64

	out *conflate.Value[Spectrum]
}

// New creates an analyzer. Run must be started for submitted chunks to be
// processed.
func New(config Config) *Analyzer {
	n := config.WindowSize
	hann := make([]float64, n)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return &Analyzer{
		config: config,
		wake:   make(chan struct{}, 1),
		window: make([]float64, n),
		hann:   hann,
		seq:    make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		fft:    fourier.NewFFT(n),
		fast:   make([]float64, n/2),
		slow:   make([]float64, n/2),
		out:    conflate.New[Spectrum](),
	}
}

// Spectra returns the published results.
func (a *Analyzer) Spectra() *conflate.Value[Spectrum] {
	return a.out
}

// Submit hands a chunk that was just written to the device to the
// analyzer, replacing any chunk not yet processed. The chunk is copied.
func (a *Analyzer) Submit(chunk []byte, format audioframe.Format) {
	a.mu.Lock()
	a.pending = append(a.pending[:0], chunk...)
	a.format = format
	a.has = true
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run processes submitted chunks until ctx ends, then closes Spectra.
func (a *Analyzer) Run(ctx context.Context) error {
	defer a.out.Close()
	slog.Debug("Spectrum analyzer started", "window_size", a.config.WindowSize)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Spectrum analyzer stopped")
			return ctx.Err()
		case <-a.wake:
		}

		a.mu.Lock()
		if !a.has {
			a.mu.Unlock()
			continue
		}
		a.pending, a.work = a.work, a.pending
		format := a.format
		a.has = false
		a.mu.Unlock()

		if err := format.Validate(); err != nil {
			slog.Warn("Spectrum skipped chunk", "error", err)
			continue
		}
		a.out.Set(a.Process(a.work, format))
	}
}

// Process analyzes one chunk synchronously: channel 0 of its frames
// slides into the rolling window, the window is transformed and the
// smoothed results are updated.
func (a *Analyzer) Process(chunk []byte, format audioframe.Format) Spectrum {
	frames := len(chunk) / format.FrameSize
	n := len(a.window)

	// keep the newest n samples
	first := max(0, frames-n)
	added := frames - first
	copy(a.window, a.window[added:])
	for i := first; i < frames; i++ {
		a.window[n-frames+i] = format.Sample(chunk, i, 0)
	}

	for i, v := range a.window {
		a.seq[i] = v * a.hann[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	// a full-scale sine under a Hann window peaks at n/4
	norm := float64(n) / 4
	k := a.config.MagnitudeScale
	raw := make([]float64, n/2)
	for i := range raw {
		mag := cmplx.Abs(a.coeffs[i]) / norm
		raw[i] = 1 - math.Pow(2, -mag/k)
		a.fast[i] = raw[i]*a.config.FastAlpha + a.fast[i]*(1-a.config.FastAlpha)
		a.slow[i] = raw[i]*a.config.SlowAlpha + a.slow[i]*(1-a.config.SlowAlpha)
	}

	return Spectrum{
		Raw:  raw,
		Fast: append([]float64(nil), a.fast...),
		Slow: append([]float64(nil), a.slow...),
	}
}
