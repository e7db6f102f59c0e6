package output

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// Device wraps an open Sink and estimates how many frames are still queued
// in it. The estimate follows a timing model: every refresh subtracts the
// frames that must have played since the previous refresh, and every write
// adds the frames written. The sink itself is never polled for its delay.
type Device struct {
	sink   Sink
	format audioframe.Format
	now    func() time.Time

	mu        sync.Mutex
	pending   int64 // frames written but not yet heard
	refreshed time.Time
	paused    bool
	level     float64
	gain      float64
}

// OpenDevice opens a sink for format.
func OpenDevice(format audioframe.Format, open Opener) (*Device, error) {
	sink, err := open(format)
	if err != nil {
		return nil, err
	}
	return NewDevice(sink), nil
}

// NewDevice wraps an already open sink at full level.
func NewDevice(sink Sink) *Device {
	return &Device{
		sink:      sink,
		format:    sink.Format(),
		now:       time.Now,
		refreshed: time.Now(),
		level:     1,
	}
}

// SetClock replaces the wall clock used by the timing model.
func (d *Device) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	d.refreshed = now()
}

// Format returns the format the device was opened with.
func (d *Device) Format() audioframe.Format {
	return d.format
}

// refresh applies the timing model. Must hold mu.
func (d *Device) refresh() {
	now := d.now()
	if d.paused || d.pending == 0 {
		d.refreshed = now
		return
	}
	played := d.format.Frames(now.Sub(d.refreshed))
	if played >= d.pending {
		d.pending = 0
		d.refreshed = now
		return
	}
	d.pending -= played
	// carry the sub-frame remainder into the next refresh
	d.refreshed = d.refreshed.Add(d.format.Duration(played))
}

// Pending returns the estimated number of frames still queued in the device.
func (d *Device) Pending() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh()
	return d.pending
}

// PendingDuration returns Pending as playback time.
func (d *Device) PendingDuration() time.Duration {
	return d.format.Duration(d.Pending())
}

// Available returns the free space in the device, in whole frames' worth
// of bytes.
func (d *Device) Available() int {
	avail := d.sink.Available()
	return avail / d.format.FrameSize * d.format.FrameSize
}

// Write writes whole frames to the device.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.sink.Write(p)
	if n > 0 {
		d.mu.Lock()
		d.refresh()
		d.pending += int64(n / d.format.FrameSize)
		d.mu.Unlock()
	}
	if err != nil {
		return n, fmt.Errorf("device write: %w", err)
	}
	return n, nil
}

// Level returns the current output level (0.0-1.0).
func (d *Device) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Gain returns the gain in dB the current level maps to.
func (d *Device) Gain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// SetLevel maps a linear level onto the sink's gain logarithmically:
// 20*log10(level) dB, clamped between the sink's minimum gain and 0 dB.
// It returns the gain applied.
func (d *Device) SetLevel(level float64) float64 {
	level = lo.Clamp(level, 0, 1)
	minGain := d.sink.MinGain()

	db := minGain
	if level > 0 {
		db = lo.Clamp(20*math.Log10(level), minGain, 0)
	}
	d.sink.SetGain(db)

	d.mu.Lock()
	d.level = level
	d.gain = db
	d.mu.Unlock()
	return db
}

// Pause suspends output and freezes the pending estimate.
func (d *Device) Pause() error {
	d.mu.Lock()
	d.refresh()
	d.paused = true
	d.mu.Unlock()
	return d.sink.Pause()
}

// Resume restarts output after Pause.
func (d *Device) Resume() error {
	d.mu.Lock()
	d.refresh()
	d.paused = false
	d.mu.Unlock()
	return d.sink.Resume()
}

// Flush waits until the queued audio has played, then resets the pending
// estimate.
func (d *Device) Flush(ctx context.Context) error {
	err := d.sink.Drain(ctx)
	d.reset()
	return err
}

// Stop drops queued audio immediately and resets the pending estimate.
func (d *Device) Stop() {
	d.sink.Discard()
	d.reset()
}

func (d *Device) reset() {
	d.mu.Lock()
	d.pending = 0
	d.refreshed = d.now()
	d.mu.Unlock()
}

// Close stops output and releases the sink.
func (d *Device) Close() error {
	d.reset()
	if err := d.sink.Close(); err != nil {
		slog.Warn("Failed to close output device", "error", err)
		return err
	}
	return nil
}
