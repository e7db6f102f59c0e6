// Package output owns the audio device: a Sink abstraction over the OS
// output, a Device that estimates how much audio is still queued in it, and
// a Player that feeds a Device from a seekable stream.
package output

import (
	"context"
	"math"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// Sink is an open audio output. Write never blocks: callers write at most
// Available bytes. All methods except the playback itself are called from
// one goroutine.
type Sink interface {
	// Format returns the PCM format the sink was opened with
	Format() audioframe.Format

	// Available returns how many bytes can be written without blocking
	Available() int

	// Write queues p for playback. It fails rather than blocks when p
	// does not fit.
	Write(p []byte) (int, error)

	// Drain waits until all queued audio has been played
	Drain(ctx context.Context) error

	// Discard drops all queued audio immediately
	Discard()

	// Pause suspends output, keeping queued audio
	Pause() error

	// Resume restarts output after Pause
	Resume() error

	// SetGain sets the output gain in dB, 0 being unity
	SetGain(db float64)

	// MinGain returns the lowest gain in dB; at or below it output is muted
	MinGain() float64

	// Close stops output and releases the device
	Close() error
}

// Opener opens a sink for a format. Implementations report formats the
// hardware cannot play as errors.
type Opener func(format audioframe.Format) (Sink, error)

// LinearGain converts a gain in dB to a linear multiplier. Gains at or
// below minGain mute.
func LinearGain(db, minGain float64) float64 {
	if db <= minGain {
		return 0
	}
	if db >= 0 {
		return 1
	}
	return math.Pow(10, db/20)
}
