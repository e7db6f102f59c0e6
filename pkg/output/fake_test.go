package output

import (
	"context"
	"errors"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// fakeSink records everything written to it. Its free space is set by the
// test.
type fakeSink struct {
	format    audioframe.Format
	space     int
	written   []byte
	rejectAll bool
	accept    int // when set, writes beyond this many bytes fail after a short write
	stuck     bool
	gains     []float64
	discards  int
	drains    int
	paused    bool
	closed    bool
}

func newFakeSink(format audioframe.Format, space int) *fakeSink {
	return &fakeSink{format: format, space: space}
}

func (s *fakeSink) Format() audioframe.Format { return s.format }
func (s *fakeSink) Available() int { return s.space }

func (s *fakeSink) Write(p []byte) (int, error) {
	if s.rejectAll {
		return 0, errors.New("rejected")
	}
	if len(p) > s.space {
		return 0, errors.New("insufficient space")
	}
	if s.accept > 0 && len(p) > s.accept {
		s.written = append(s.written, p[:s.accept]...)
		return s.accept, errors.New("short write")
	}
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *fakeSink) Drain(ctx context.Context) error {
	s.drains++
	if s.stuck {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *fakeSink) Discard() { s.discards++ }
func (s *fakeSink) Pause() error { s.paused = true; return nil }
func (s *fakeSink) Resume() error { s.paused = false; return nil }
func (s *fakeSink) SetGain(db float64) { s.gains = append(s.gains, db) }
func (s *fakeSink) MinGain() float64 { return -60 }
func (s *fakeSink) Close() error { s.closed = true; return nil }

// fakeOpener hands out fakeSinks and remembers them.
type fakeOpener struct {
	sinks []*fakeSink
	space int
	fail  error
}

func (o *fakeOpener) open(format audioframe.Format) (Sink, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	s := newFakeSink(format, o.space)
	o.sinks = append(o.sinks, s)
	return s, nil
}
