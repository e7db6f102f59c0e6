package output

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// NullMinGain is the gain floor reported by NullSink.
const NullMinGain = -80.0

var errSinkClosed = errors.New("sink closed")

// NullSink accepts audio without playing it. In realtime mode queued audio
// drains at the format's frame rate, like a real device; otherwise it
// drains instantly. It is used for headless playback.
type NullSink struct {
	mu       sync.Mutex
	format   audioframe.Format
	capacity int
	realtime bool
	now      func() time.Time

	queued  int
	last    time.Time
	paused  bool
	closed  bool
	written int64
	gain    float64
}

// NewNullSink creates a sink holding up to capacity bytes.
func NewNullSink(format audioframe.Format, capacity int, realtime bool) *NullSink {
	return &NullSink{
		format:   format,
		capacity: capacity,
		realtime: realtime,
		now:      time.Now,
		last:     time.Now(),
	}
}

// OpenNull returns an Opener for NullSinks buffering the given duration.
func OpenNull(buffer time.Duration, realtime bool) Opener {
	return func(format audioframe.Format) (Sink, error) {
		if err := format.Validate(); err != nil {
			return nil, err
		}
		capacity := int(format.Frames(buffer)) * format.FrameSize
		return NewNullSink(format, max(capacity, format.FrameSize), realtime), nil
	}
}

// consume drops the audio that would have played since the last call.
// Must hold mu.
func (s *NullSink) consume() {
	now := s.now()
	if !s.realtime || s.paused || s.queued == 0 {
		if !s.realtime {
			s.queued = 0
		}
		s.last = now
		return
	}
	// advance by whole frames only so frequent calls do not lose time
	frames := s.format.Frames(now.Sub(s.last))
	s.queued = max(0, s.queued-int(frames)*s.format.FrameSize)
	s.last = s.last.Add(s.format.Duration(frames))
}

func (s *NullSink) Format() audioframe.Format { return s.format }

func (s *NullSink) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.consume()
	return s.capacity - s.queued
}

func (s *NullSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	s.consume()
	if len(p) > s.capacity-s.queued {
		return 0, errors.New("insufficient space")
	}
	s.queued += len(p)
	s.written += int64(len(p))
	return len(p), nil
}

func (s *NullSink) Drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.consume()
		queued, paused := s.queued, s.paused
		s.mu.Unlock()

		if queued == 0 || paused {
			return nil
		}
		wait := s.format.Duration(int64(queued / s.format.FrameSize))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(max(wait, time.Millisecond)):
		}
	}
}

func (s *NullSink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = 0
}

func (s *NullSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consume()
	s.paused = true
	return nil
}

func (s *NullSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consume()
	s.paused = false
	return nil
}

func (s *NullSink) SetGain(db float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = db
}

func (s *NullSink) MinGain() float64 { return NullMinGain }

func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queued = 0
	return nil
}

// Gain returns the last gain set, in dB.
func (s *NullSink) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Written returns the total number of bytes accepted.
func (s *NullSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Closed reports whether Close has been called.
func (s *NullSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
