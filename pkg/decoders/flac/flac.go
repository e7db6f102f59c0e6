package flac

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"
)

// DefaultBitsPerSample is the output sample width used by NewDecoder.
const DefaultBitsPerSample = 16

// Decoder wraps the go-flac decoder to provide FLAC decoding capabilities.
// Implements types.AudioDecoder interface.
type Decoder struct {
	decoder    *goflac.FlacDecoder
	outputBits int
	rate       int
	channels   int
	bps        int // bits per sample
}

// NewDecoder creates a new FLAC decoder producing 16-bit output
func NewDecoder() *Decoder {
	return NewDecoderWithDepth(DefaultBitsPerSample)
}

// NewDecoderWithDepth creates a FLAC decoder producing bits-wide samples
// (16, 24 or 32).
func NewDecoderWithDepth(bits int) *Decoder {
	return &Decoder{outputBits: bits}
}

// GetFormat returns the audio format (rate, channels, bits per sample)
func (d *Decoder) GetFormat() (int, int, int) {
	return d.rate, d.channels, d.bps
}

// DecodeSamples decodes the specified number of samples into the audio buffer
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}
	return d.decoder.DecodeSamples(samples, audio)
}

// Open opens and initializes a FLAC file for decoding
func (d *Decoder) Open(fileName string) error {
	switch d.outputBits {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported output bit depth: %d", d.outputBits)
	}

	decoder, err := goflac.NewFlacFrameDecoder(d.outputBits)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	d.decoder = decoder
	d.rate, d.channels, d.bps = decoder.GetFormat()
	return nil
}

// Close closes the decoder and releases resources
func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}
