package decoders

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/drgolem/musicengine/pkg/decoders/flac"
	"github.com/drgolem/musicengine/pkg/decoders/mp3"
	"github.com/drgolem/musicengine/pkg/decoders/ogg"
	"github.com/drgolem/musicengine/pkg/decoders/resample"
	"github.com/drgolem/musicengine/pkg/decoders/wav"
	"github.com/drgolem/musicengine/pkg/types"
)

// SupportedExtensions lists the file extensions NewDecoder understands.
var SupportedExtensions = []string{".mp3", ".flac", ".fla", ".wav", ".ogg"}

// NewDecoder creates and opens the appropriate decoder based on file extension.
// Supports .mp3, .flac, .fla, .wav and .ogg formats.
// Returns an opened decoder ready for use, or an error if the format is unsupported
// or the file cannot be opened.
func NewDecoder(fileName string) (types.AudioDecoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var decoder types.AudioDecoder

	switch ext {
	case ".mp3":
		decoder = mp3.NewDecoder()
	case ".flac", ".fla":
		decoder = flac.NewDecoder()
	case ".wav":
		decoder = wav.NewDecoder()
	case ".ogg":
		decoder = ogg.NewDecoder()
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: %s)",
			ext, strings.Join(SupportedExtensions, ", "))
	}

	if err := decoder.Open(fileName); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	return decoder, nil
}

// Open opens fileName and returns it as a PCM byte stream in the file's
// native format.
func Open(fileName string) (types.AudioSource, error) {
	decoder, err := NewDecoder(fileName)
	if err != nil {
		return nil, err
	}
	src, err := NewSource(decoder)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}

	slog.Info("Audio file opened",
		"file", filepath.Base(fileName),
		"format", src.Format().String(),
		"length", src.Length())
	return src, nil
}

// OpenResampled returns an opener that converts every file to sampleRate,
// so consecutive songs share one output format. Files already at the
// target rate, and files that cannot be resampled, are opened natively.
// A non-positive sampleRate returns Open.
func OpenResampled(sampleRate int) func(string) (types.AudioSource, error) {
	if sampleRate <= 0 {
		return Open
	}
	return func(fileName string) (types.AudioSource, error) {
		decoder, err := NewDecoder(fileName)
		if err != nil {
			return nil, err
		}

		rate, _, bps := decoder.GetFormat()
		if rate != sampleRate {
			rs, err := resample.New(decoder, sampleRate)
			if err == nil {
				decoder = rs
			} else {
				slog.Warn("Cannot resample, playing at native rate",
					"file", filepath.Base(fileName),
					"sample_rate", rate,
					"bits_per_sample", bps,
					"error", err)
			}
		}

		src, err := NewSource(decoder)
		if err != nil {
			decoder.Close()
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
		slog.Info("Audio file opened",
			"file", filepath.Base(fileName),
			"format", src.Format().String(),
			"source_sample_rate", rate,
			"length", src.Length())
		return src, nil
	}
}
