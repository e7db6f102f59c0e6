package output

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/drgolem/ringbuffer"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// PortAudioMinGain is the gain floor of the portaudio sink in dB.
const PortAudioMinGain = -60.0

// discardTimeout bounds how long Discard waits for the audio callback to
// drop the queued audio.
const discardTimeout = 500 * time.Millisecond

// PortAudioConfig holds portaudio sink configuration
type PortAudioConfig struct {
	DeviceIndex     int           // Audio output device index
	FramesPerBuffer int           // Portaudio buffer size in frames
	BufferDuration  time.Duration // Audio queued ahead of the callback
}

// DefaultPortAudioConfig returns default sink configuration
func DefaultPortAudioConfig() PortAudioConfig {
	return PortAudioConfig{
		DeviceIndex:     1,
		FramesPerBuffer: 512,
		BufferDuration:  500 * time.Millisecond,
	}
}

// OpenPortAudio returns an Opener creating callback-mode portaudio streams.
// portaudio.Initialize must have been called.
func OpenPortAudio(config PortAudioConfig) Opener {
	return func(format audioframe.Format) (Sink, error) {
		return NewPortAudioSink(config, format)
	}
}

// PortAudioSink plays audio through a portaudio callback stream.
//
// Write is the producer and the portaudio callback the consumer of an
// SPSC ringbuffer. The callback runs on portaudio's own thread, so all
// state it shares with the writer is atomic.
type PortAudioSink struct {
	format          audioframe.Format
	stream          *portaudio.PaStream
	ringbuf         *ringbuffer.RingBuffer
	framesPerBuffer int

	gain    atomic.Uint64 // math.Float64bits of the target linear gain
	applied float64       // gain at the end of the last callback, callback only
	discard atomic.Bool
	running atomic.Bool
	scratch []byte
}

// NewPortAudioSink opens and starts an output stream for format.
func NewPortAudioSink(config PortAudioConfig, format audioframe.Format) (*PortAudioSink, error) {
	if format.Encoding != audioframe.EncodingSigned || format.BigEndian {
		return nil, fmt.Errorf("unsupported sample encoding: %s", format)
	}

	var sampleFormat portaudio.PaSampleFormat
	switch format.BitsPerSample {
	case 16:
		sampleFormat = portaudio.SampleFmtInt16
	case 24:
		sampleFormat = portaudio.SampleFmtInt24
	case 32:
		sampleFormat = portaudio.SampleFmtInt32
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", format.BitsPerSample)
	}

	bufferBytes := format.Frames(config.BufferDuration) * int64(format.FrameSize)
	bufferBytes = max(bufferBytes, int64(config.FramesPerBuffer*format.FrameSize*4))

	s := &PortAudioSink{
		format:          format,
		ringbuf:         ringbuffer.New(uint64(bufferBytes)),
		framesPerBuffer: config.FramesPerBuffer,
		applied:         1,
		scratch:         make([]byte, config.FramesPerBuffer*format.FrameSize),
	}
	s.gain.Store(math.Float64bits(1))

	s.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  config.DeviceIndex,
			ChannelCount: format.Channels,
			SampleFormat: sampleFormat,
		},
		SampleRate: float64(format.SampleRate),
	}

	if err := s.stream.OpenCallback(config.FramesPerBuffer, s.audioCallback); err != nil {
		return nil, fmt.Errorf("failed to open stream with callback: %w", err)
	}
	if err := s.stream.StartStream(); err != nil {
		s.stream.CloseCallback()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}
	s.running.Store(true)

	slog.Debug("Portaudio stream started",
		"device_index", config.DeviceIndex,
		"format", format.String(),
		"buffer_bytes", s.ringbuf.Size())
	return s, nil
}

// audioCallback is called by PortAudio to fill the output buffer.
// It must not block or allocate.
func (s *PortAudioSink) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {

	if s.discard.Load() {
		for s.ringbuf.AvailableRead() > 0 {
			if _, err := s.ringbuf.Read(s.scratch); err != nil {
				break
			}
		}
		s.discard.Store(false)
	}

	bytesNeeded := min(int(frameCount)*s.format.FrameSize, len(output))
	n, _ := s.ringbuf.Read(output[:bytesNeeded])

	target := math.Float64frombits(s.gain.Load())
	s.format.Scale(output[:n], s.applied, target)
	s.applied = target

	// underrun: fill the remainder with silence
	if n < bytesNeeded {
		clear(output[n:bytesNeeded])
	}
	return portaudio.Continue
}

func (s *PortAudioSink) Format() audioframe.Format { return s.format }

func (s *PortAudioSink) Available() int {
	if s.discard.Load() {
		return 0
	}
	return int(s.ringbuf.AvailableWrite())
}

func (s *PortAudioSink) Write(p []byte) (int, error) {
	return s.ringbuf.Write(p)
}

// Drain waits for the ringbuffer to empty plus one callback period.
func (s *PortAudioSink) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.running.Load() && s.ringbuf.AvailableRead() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	period := time.Duration(s.framesPerBuffer) * time.Second / time.Duration(s.format.SampleRate)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(period):
	}
	return nil
}

// Discard asks the callback to drop the queued audio and waits for it.
// When the stream is not running the ringbuffer is reset directly.
func (s *PortAudioSink) Discard() {
	if !s.running.Load() {
		s.ringbuf.Reset()
		return
	}

	s.discard.Store(true)
	deadline := time.Now().Add(discardTimeout)
	for s.discard.Load() {
		if time.Now().After(deadline) {
			slog.Warn("Audio callback did not discard queued audio",
				"queued_bytes", s.ringbuf.AvailableRead())
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *PortAudioSink) Pause() error {
	if !s.running.Swap(false) {
		return nil
	}
	if err := s.stream.StopStream(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	// a discard requested just before the stop is never seen by the callback
	if s.discard.Swap(false) {
		s.ringbuf.Reset()
	}
	return nil
}

func (s *PortAudioSink) Resume() error {
	if s.running.Load() {
		return nil
	}
	if err := s.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	s.running.Store(true)
	return nil
}

func (s *PortAudioSink) SetGain(db float64) {
	s.gain.Store(math.Float64bits(LinearGain(db, PortAudioMinGain)))
}

func (s *PortAudioSink) MinGain() float64 { return PortAudioMinGain }

func (s *PortAudioSink) Close() error {
	if s.running.Swap(false) {
		if err := s.stream.StopStream(); err != nil {
			slog.Warn("Failed to stop stream", "error", err)
		}
	}
	if err := s.stream.CloseCallback(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	slog.Debug("Portaudio stream closed", "format", s.format.String())
	return nil
}
