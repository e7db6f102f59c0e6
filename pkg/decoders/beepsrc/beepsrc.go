// Package beepsrc adapts beep's pure Go decoders to types.AudioDecoder.
// Samples are delivered as interleaved 16-bit little-endian PCM.
package beepsrc

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
)

// BitsPerSample is the width of the PCM produced by Decoder.
const BitsPerSample = 16

// DecodeFunc opens a stream on an already opened file, such as
// mp3.Decode or vorbis.Decode.
type DecodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

// Decoder converts a beep stream into interleaved int16 frames.
type Decoder struct {
	decode   DecodeFunc
	name     string
	streamer beep.StreamSeekCloser
	format   beep.Format
	channels int
	length   time.Duration
	frames   [][2]float64
}

// New creates a decoder that opens files with decode. name is used in
// error messages ("mp3", "ogg").
func New(name string, decode DecodeFunc) *Decoder {
	return &Decoder{decode: decode, name: name}
}

// Open opens fileName and prepares the beep stream.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open %s file: %w", d.name, err)
	}

	// the streamer owns file from here on
	streamer, format, err := d.decode(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to decode %s header: %w", d.name, err)
	}

	d.streamer = streamer
	d.format = format
	d.channels = min(max(format.NumChannels, 1), 2)
	if n := streamer.Len(); n > 0 {
		d.length = format.SampleRate.D(n)
	}
	return nil
}

// Close releases the stream and its file.
func (d *Decoder) Close() error {
	if d.streamer == nil {
		return nil
	}
	err := d.streamer.Close()
	d.streamer = nil
	return err
}

// GetFormat returns the audio format (sample rate, channels, bits per sample)
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	if d.streamer == nil {
		return 0, 0, 0
	}
	return int(d.format.SampleRate), d.channels, BitsPerSample
}

// Length returns the declared length of the stream, 0 if unknown.
func (d *Decoder) Length() time.Duration {
	return d.length
}

// DecodeSamples decodes up to samples frames into audio.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.streamer == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	frameSize := d.channels * BitsPerSample / 8
	samples = min(samples, len(audio)/frameSize)
	if samples == 0 {
		return 0, nil
	}
	if cap(d.frames) < samples {
		d.frames = make([][2]float64, samples)
	}
	frames := d.frames[:samples]

	n, ok := d.streamer.Stream(frames)
	if !ok || n == 0 {
		if err := d.streamer.Err(); err != nil {
			return 0, fmt.Errorf("%s stream: %w", d.name, err)
		}
		return 0, io.EOF
	}

	PutFrames(audio, frames[:n], d.channels)
	return n, nil
}

// PutFrames writes float frames as interleaved int16 little-endian PCM.
// Values outside [-1, 1] are clipped.
func PutFrames(audio []byte, frames [][2]float64, channels int) {
	offset := 0
	for _, frame := range frames {
		for ch := 0; ch < channels; ch++ {
			v := int16(toInt16(frame[ch]))
			audio[offset] = byte(v)
			audio[offset+1] = byte(uint16(v) >> 8)
			offset += 2
		}
	}
}

func toInt16(v float64) int {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int(v * 32767)
}
