package seekable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/chunkbuffer"
)

// Stream wraps exactly one chunkbuffer.Reader and hands out whole frames.
// It tracks how many frames this reader has consumed so the position can be
// derived without touching the output device.
type Stream struct {
	reader     *chunkbuffer.Reader
	format     audioframe.Format
	readFrames int64
	partial    []byte // bytes of an incomplete frame carried between reads
}

// New creates a Stream positioned wherever r currently is, which must be a
// frame boundary.
func New(r *chunkbuffer.Reader, format audioframe.Format) *Stream {
	return &Stream{
		reader:     r,
		format:     format,
		readFrames: r.Position() / int64(format.FrameSize),
	}
}

// Format returns the PCM format of the stream.
func (s *Stream) Format() audioframe.Format {
	return s.format
}

// Read fills p with as many whole frames as are available, waiting for the
// producer when the buffer is behind. len(p) must hold at least one frame.
// Read returns io.EOF once the underlying buffer is exhausted; a trailing
// partial frame at the very end of a song is dropped.
func (s *Stream) Read(ctx context.Context, p []byte) (int, error) {
	frameSize := s.format.FrameSize
	limit := len(p) / frameSize * frameSize
	if limit == 0 {
		return 0, fmt.Errorf("buffer of %d bytes is smaller than one frame (%d bytes)", len(p), frameSize)
	}

	n := copy(p[:limit], s.partial)
	s.partial = s.partial[n:]

	for n < limit {
		chunk, err := s.reader.Read(ctx, limit-n)
		if err != nil {
			if n >= frameSize {
				// hand out what we have; the error resurfaces on the next call
				break
			}
			s.partial = nil
			if !errors.Is(err, io.EOF) && n > 0 {
				s.partial = append([]byte(nil), p[:n]...)
			}
			return 0, err
		}
		n += copy(p[n:], chunk)
		if n%frameSize == 0 {
			break
		}
	}

	whole := n / frameSize * frameSize
	if whole < n {
		s.partial = append(s.partial[:0:0], p[whole:n]...)
	}
	s.readFrames += int64(whole / frameSize)
	return whole, nil
}

// SeekTo repositions the stream at frame. The reader is rewound and then
// skips frame*FrameSize bytes so the cursor always lands on a frame
// boundary. Seeking past the end of a finished buffer leaves the stream at
// its end without an error.
func (s *Stream) SeekTo(ctx context.Context, frame int64) error {
	if frame < 0 {
		frame = 0
	}
	s.reader.Reset()
	s.partial = nil
	s.readFrames = 0

	skipped, err := s.reader.Skip(ctx, frame*int64(s.format.FrameSize))
	s.readFrames = skipped / int64(s.format.FrameSize)
	if rem := skipped % int64(s.format.FrameSize); rem != 0 {
		// a truncated last frame; step back onto the boundary
		s.reader.Reset()
		s.reader.Skip(ctx, skipped-rem)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("seek to frame %d: %w", frame, err)
	}
	return nil
}

// SeekToTime repositions the stream at the frame nearest below d.
func (s *Stream) SeekToTime(ctx context.Context, d time.Duration) error {
	return s.SeekTo(ctx, s.format.Frames(d))
}

// ReadFrames returns the number of frames consumed since the start of the
// song, including frames skipped by a seek.
func (s *Stream) ReadFrames() int64 {
	return s.readFrames
}

// Position returns ReadFrames as playback time.
func (s *Stream) Position() time.Duration {
	return s.format.Duration(s.readFrames)
}

// Finished reports whether every buffered frame has been consumed and the
// buffer will not grow any further.
func (s *Stream) Finished() bool {
	st := s.reader.Buffered()
	return st.Finished && s.reader.Position() >= st.Size
}

// Decoded returns the number of whole frames the producer has made
// available so far, as last observed by this stream.
func (s *Stream) Decoded() (frames int64, finished bool) {
	st := s.reader.Buffered()
	return st.Size / int64(s.format.FrameSize), st.Finished
}
