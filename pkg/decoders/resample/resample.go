// Package resample converts a 16-bit decoder to another sample rate using
// SoXR.
package resample

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	soxr "github.com/zaf/resample"

	"github.com/drgolem/musicengine/pkg/types"
)

const samplesPerDecode = 4 * 1024

// Decoder resamples another decoder on the fly. It implements
// types.AudioDecoder and owns the wrapped decoder.
type Decoder struct {
	inner     types.AudioDecoder
	resampler *soxr.Resampler
	out       bytes.Buffer
	scratch   []byte
	inRate    int
	outRate   int
	channels  int
	frameSize int
	eof       bool
}

// New wraps inner, which must already be open and produce 16-bit samples,
// and converts its output to rate.
func New(inner types.AudioDecoder, rate int) (*Decoder, error) {
	inRate, channels, bps := inner.GetFormat()
	if bps != 16 {
		return nil, fmt.Errorf("resampling requires 16-bit input, got %d-bit", bps)
	}
	if inRate <= 0 || rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid resample %d Hz -> %d Hz (%d channels)", inRate, rate, channels)
	}

	d := &Decoder{
		inner:     inner,
		inRate:    inRate,
		outRate:   rate,
		channels:  channels,
		frameSize: channels * 2,
	}
	d.scratch = make([]byte, samplesPerDecode*d.frameSize)

	resampler, err := soxr.New(&d.out, float64(inRate), float64(rate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	d.resampler = resampler
	return d, nil
}

// Open is not supported; the wrapped decoder is opened by the caller.
func (d *Decoder) Open(fileName string) error {
	return fmt.Errorf("resample decoder wraps an opened decoder")
}

// GetFormat returns the converted format.
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.outRate, d.channels, 16
}

// Length forwards the wrapped decoder's length when it reports one.
func (d *Decoder) Length() time.Duration {
	if lr, ok := d.inner.(types.LengthReporter); ok {
		return lr.Length()
	}
	return 0
}

// DecodeSamples fills audio with up to samples converted frames.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.resampler == nil && !d.eof {
		return 0, fmt.Errorf("decoder not initialized")
	}
	want := min(samples, len(audio)/d.frameSize) * d.frameSize
	if want == 0 {
		return 0, nil
	}

	for d.out.Len() < want && !d.eof {
		n, err := d.inner.DecodeSamples(samplesPerDecode, d.scratch)
		if n > 0 {
			if _, werr := d.resampler.Write(d.scratch[:n*d.frameSize]); werr != nil {
				return 0, fmt.Errorf("resample: %w", werr)
			}
		}
		if err != nil {
			if !isEndOfStream(err) {
				return 0, err
			}
			d.finish()
		} else if n == 0 {
			d.finish()
		}
	}

	avail := d.out.Len() / d.frameSize * d.frameSize
	if avail == 0 {
		return 0, io.EOF
	}
	n, _ := d.out.Read(audio[:min(want, avail)])
	return n / d.frameSize, nil
}

// finish flushes the resampler's tail into the output buffer.
func (d *Decoder) finish() {
	d.eof = true
	if d.resampler != nil {
		d.resampler.Close()
		d.resampler = nil
	}
}

// Close releases the resampler and the wrapped decoder.
func (d *Decoder) Close() error {
	if d.resampler != nil {
		d.resampler.Close()
		d.resampler = nil
	}
	d.eof = true
	return d.inner.Close()
}

func isEndOfStream(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "done")
}
