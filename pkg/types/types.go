package types

import (
	"io"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// AudioDecoder is the common interface for all audio decoders (MP3, FLAC, WAV, OGG).
// All decoders must implement these methods to provide a consistent API
// for decoding audio files into raw PCM samples.
type AudioDecoder interface {
	// Open opens an audio file for decoding
	Open(fileName string) error

	// Close closes the decoder and releases resources
	Close() error

	// GetFormat returns the audio format information
	// Returns: sample rate (Hz), channels (1=mono, 2=stereo), bits per sample (8/16/24/32)
	GetFormat() (rate, channels, bitsPerSample int)

	// DecodeSamples decodes audio samples into the provided buffer
	// Parameters:
	//   samples: number of samples to decode (not bytes!)
	//   audio: buffer to write decoded audio data
	// Returns: number of samples actually decoded, error if decoding failed
	// Note: Buffer must be large enough: samples * channels * (bitsPerSample/8) bytes
	DecodeSamples(samples int, audio []byte) (int, error)
}

// LengthReporter is implemented by decoders that know the declared length
// of the opened file.
type LengthReporter interface {
	Length() time.Duration
}

// AudioSource is an opened song: a raw PCM byte stream plus its format.
// Read returns io.EOF at the end of the song.
type AudioSource interface {
	io.Reader

	// Format describes the bytes returned by Read
	Format() audioframe.Format

	// Length returns the declared song length, or 0 when unknown
	Length() time.Duration

	// Close releases the decoder
	Close() error
}

// PlaybackStatus holds unified playback information for audio players.
// This struct provides real-time metrics for monitoring audio playback.
type PlaybackStatus struct {
	FileName       string        // Name of the currently playing file, empty when idle
	SampleRate     int           // Audio sample rate in Hz (e.g., 44100, 48000)
	Channels       int           // Number of audio channels (1=mono, 2=stereo)
	BitsPerSample  int           // Bit depth (8, 16, 24, or 32)
	Position       time.Duration // Playback position heard at the speaker
	Length         time.Duration // Declared song length, 0 if unknown
	QueuedFrames   int64         // Frames written to the device but not yet played
	DecodedPercent float64       // Share of the song decoded so far (0-100)
	Level          float64       // Output level 0.0-1.0
	Paused         bool
}

// PlaybackMonitor is an interface for types that can report playback status.
// Implementing this interface allows consistent status monitoring across
// different player implementations.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}
