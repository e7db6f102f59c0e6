package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/seekable"
)

// maxWriteBytes bounds a single device write.
const maxWriteBytes = 16 * 1024

// drainTimeout bounds how long a replaced device may take to play out.
const drainTimeout = 5 * time.Second

// drainSlack is waited beyond the estimated queued audio when draining.
const drainSlack = 250 * time.Millisecond

// Result is the outcome of one PlayFrame call.
type Result int

const (
	NotPlayed Result = iota // device full, or the write was rejected
	Played                  // a chunk was written
	Finished                // the stream is exhausted
)

func (r Result) String() string {
	switch r {
	case NotPlayed:
		return "not-played"
	case Played:
		return "played"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Player pairs a Device with the SeekableStream feeding it.
type Player struct {
	device *Device
	stream *seekable.Stream
	buf    []byte
}

// NewPlayer creates a player for stream. When older is non-nil and its
// device format matches the stream's format field for field, the open
// device is reused. Otherwise a new device is opened first, and only once
// that succeeds is the older device drained (discard false) or cut
// (discard true) and closed. On error older is left untouched.
func NewPlayer(ctx context.Context, stream *seekable.Stream, older *Player, discard bool, open Opener) (*Player, error) {
	format := stream.Format()

	if older != nil && older.device.Format().Compatible(format) {
		if discard {
			older.device.Stop()
		}
		slog.Debug("Output device reused", "format", format.String())
		return newPlayer(older.device, stream), nil
	}

	device, err := OpenDevice(format, open)
	if err != nil {
		return nil, err
	}
	slog.Info("Output device opened", "format", format.String())

	if older != nil {
		older.Retire(ctx, discard)
		device.SetLevel(older.device.Level())
	}
	return newPlayer(device, stream), nil
}

func newPlayer(device *Device, stream *seekable.Stream) *Player {
	size := max(maxWriteBytes/stream.Format().FrameSize, 1) * stream.Format().FrameSize
	return &Player{
		device: device,
		stream: stream,
		buf:    make([]byte, size),
	}
}

// Device returns the device the player writes to.
func (p *Player) Device() *Device {
	return p.device
}

// Stream returns the stream the player reads from.
func (p *Player) Stream() *seekable.Stream {
	return p.stream
}

// Format returns the stream's PCM format.
func (p *Player) Format() audioframe.Format {
	return p.stream.Format()
}

// Shares reports whether p writes to the same device as other.
func (p *Player) Shares(other *Player) bool {
	return other != nil && p.device == other.device
}

// PlayFrame moves as much audio as the device has room for from the
// stream to the device. The returned chunk is only valid until the next
// call.
func (p *Player) PlayFrame(ctx context.Context) (Result, []byte, error) {
	if p.stream.Finished() {
		return Finished, nil, nil
	}

	avail := min(p.device.Available(), len(p.buf))
	if avail < p.stream.Format().FrameSize {
		return NotPlayed, nil, nil
	}

	n, err := p.stream.Read(ctx, p.buf[:avail])
	if errors.Is(err, io.EOF) {
		return Finished, nil, nil
	}
	if err != nil {
		return NotPlayed, nil, err
	}

	chunk := p.buf[:n]
	if written, err := p.device.Write(chunk); err != nil {
		slog.Warn("Device rejected write", "bytes", n-written, "error", err)
		// rewind so the rejected frames are played on the next attempt
		back := p.stream.ReadFrames() - int64((n-written)/p.stream.Format().FrameSize)
		if serr := p.stream.SeekTo(ctx, back); serr != nil {
			return NotPlayed, nil, serr
		}
		return NotPlayed, nil, nil
	}
	return Played, chunk, nil
}

// Position returns the position heard at the speaker: the stream position
// minus the audio still queued in the device.
func (p *Player) Position() time.Duration {
	pos := p.stream.Position() - p.device.PendingDuration()
	return max(pos, 0)
}

// Seek drops queued audio and repositions the stream.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	p.device.Stop()
	return p.stream.SeekToTime(ctx, position)
}

// Rewind repositions the stream but lets the audio already queued in the
// device play out.
func (p *Player) Rewind(ctx context.Context, position time.Duration) error {
	return p.stream.SeekToTime(ctx, position)
}

// SetLevel sets the output level (0.0-1.0) and returns the gain in dB.
func (p *Player) SetLevel(level float64) float64 {
	return p.device.SetLevel(level)
}

// Pause suspends output.
func (p *Player) Pause() error {
	return p.device.Pause()
}

// Resume restarts output.
func (p *Player) Resume() error {
	return p.device.Resume()
}

// Flush waits for queued audio to play.
func (p *Player) Flush(ctx context.Context) error {
	return p.device.Flush(ctx)
}

// Stop drops queued audio.
func (p *Player) Stop() {
	p.device.Stop()
}

// Retire drains (or, with discard, cuts) the device and closes it. A drain
// waits no longer than the audio still queued, plus drainSlack.
func (p *Player) Retire(ctx context.Context, discard bool) {
	if discard {
		p.device.Stop()
	} else {
		wait := min(p.device.PendingDuration()+drainSlack, drainTimeout)
		dctx, cancel := context.WithTimeout(ctx, wait)
		if err := p.device.Flush(dctx); err != nil {
			slog.Warn("Failed to drain output device", "error", err)
		}
		cancel()
	}
	p.device.Close()
}
