package decoders

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/types"
)

// samplesPerDecode is how many samples are requested from a decoder per call.
const samplesPerDecode = 4 * 1024

// decoderSource adapts a sample-oriented AudioDecoder to the byte stream
// contract of types.AudioSource.
type decoderSource struct {
	decoder types.AudioDecoder
	format  audioframe.Format
	length  time.Duration
	buffer  []byte
	pending []byte
	done    error
}

// NewSource wraps an opened decoder as an AudioSource. The source owns the
// decoder and closes it on Close.
func NewSource(decoder types.AudioDecoder) (types.AudioSource, error) {
	rate, channels, bps := decoder.GetFormat()
	format := audioframe.NewFormat(rate, channels, bps)
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("unsupported audio format: %w", err)
	}

	var length time.Duration
	if lr, ok := decoder.(types.LengthReporter); ok {
		length = lr.Length()
	}

	return &decoderSource{
		decoder: decoder,
		format:  format,
		length:  length,
		buffer:  make([]byte, samplesPerDecode*format.FrameSize),
	}, nil
}

func (s *decoderSource) Format() audioframe.Format { return s.format }

func (s *decoderSource) Length() time.Duration { return s.length }

func (s *decoderSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.done != nil {
			return 0, s.done
		}

		samplesRead, err := s.decoder.DecodeSamples(samplesPerDecode, s.buffer)
		if samplesRead > 0 {
			s.pending = s.buffer[:samplesRead*s.format.FrameSize]
		}
		switch {
		case err != nil && isEndOfStream(err):
			s.done = io.EOF
		case err != nil:
			s.done = fmt.Errorf("decode error: %w", err)
		case samplesRead == 0:
			s.done = io.EOF
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *decoderSource) Close() error {
	return s.decoder.Close()
}

// isEndOfStream recognizes the end-of-file conditions decoders report.
// Some C-backed decoders only signal it through the error text.
func isEndOfStream(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "done")
}
