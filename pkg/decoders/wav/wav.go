package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

// wavHeaderSize is the size of a canonical RIFF/WAVE header, used to
// estimate the data length from the file size.
const wavHeaderSize = 44

// Decoder wraps go-wav for decoding WAV audio files.
// Implements types.AudioDecoder and types.LengthReporter.
type Decoder struct {
	file     *os.File
	reader   *wav.Reader
	rate     int
	channels int
	bps      int
	length   time.Duration
}

// NewDecoder creates a new WAV decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens a WAV file for decoding
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read WAV format: %w", err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported WAV format: %d (only PCM supported)", format.AudioFormat)
	}
	// go-wav exposes at most two channel values per sample
	if format.NumChannels < 1 || format.NumChannels > 2 {
		file.Close()
		return fmt.Errorf("unsupported WAV channel count: %d", format.NumChannels)
	}

	var length time.Duration
	if info, err := file.Stat(); err == nil && format.ByteRate > 0 && info.Size() > wavHeaderSize {
		dataBytes := info.Size() - wavHeaderSize
		length = time.Duration(dataBytes * int64(time.Second) / int64(format.ByteRate))
	}

	d.file = file
	d.reader = reader
	d.rate = int(format.SampleRate)
	d.channels = int(format.NumChannels)
	d.bps = int(format.BitsPerSample)
	d.length = length

	return nil
}

// Close closes the WAV file
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.reader = nil
	return err
}

// GetFormat returns the audio format (sample rate, channels, bits per sample)
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return d.rate, d.channels, d.bps
}

// Length returns the song length estimated from the data size.
func (d *Decoder) Length() time.Duration {
	return d.length
}

// DecodeSamples decodes up to 'samples' audio samples into the provided buffer
// as little-endian PCM. It returns the number of samples decoded and io.EOF
// once the data chunk is exhausted.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := d.bps / 8
	frameSize := d.channels * bytesPerSample
	samples = min(samples, len(audio)/frameSize)
	if samples == 0 {
		return 0, nil
	}

	decoded, err := d.reader.ReadSamples(uint32(samples))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if len(decoded) == 0 {
		return 0, io.EOF
	}

	for i, sample := range decoded {
		for ch := 0; ch < d.channels; ch++ {
			value := sample.Values[ch]
			offset := i*frameSize + ch*bytesPerSample

			switch d.bps {
			case 8:
				audio[offset] = byte(value)
			case 16:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
			case 24:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
			case 32:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
				audio[offset+3] = byte(value >> 24)
			default:
				return i, fmt.Errorf("unsupported bits per sample: %d", d.bps)
			}
		}
	}

	return len(decoded), nil
}
