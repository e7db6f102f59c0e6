// Package config holds the player configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drgolem/musicengine/internal/playback"
	"github.com/drgolem/musicengine/pkg/chunkbuffer"
	"github.com/drgolem/musicengine/pkg/decoders"
	"github.com/drgolem/musicengine/pkg/output"
	"github.com/drgolem/musicengine/pkg/spectrum"
	"github.com/drgolem/musicengine/pkg/waveform"
)

// Config is the complete player configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Playback PlaybackConfig `yaml:"playback"`
	Spectrum SpectrumConfig `yaml:"spectrum"`
	Waveform WaveformConfig `yaml:"waveform"`
}

// DeviceConfig selects and sizes the output device.
type DeviceConfig struct {
	Index           int  `yaml:"index"`
	FramesPerBuffer int  `yaml:"frames_per_buffer"`
	BufferMs        int  `yaml:"buffer_ms"`
	Null            bool `yaml:"null"` // discard audio instead of playing it
}

type BufferConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

type PlaybackConfig struct {
	IdleDelay   time.Duration `yaml:"idle_delay"`
	Level       float64       `yaml:"level"`
	SampleRate  int           `yaml:"sample_rate"` // 0 keeps each song's rate
	TrimSilence bool          `yaml:"trim_silence"`
}

type SpectrumConfig struct {
	Enabled        bool    `yaml:"enabled"`
	WindowSize     int     `yaml:"window_size"`
	MagnitudeScale float64 `yaml:"magnitude_scale"`
	FastAlpha      float64 `yaml:"fast_alpha"`
	SlowAlpha      float64 `yaml:"slow_alpha"`
}

type WaveformConfig struct {
	Resolution        int           `yaml:"resolution"`
	SilenceThreshold  float64       `yaml:"silence_threshold"`
	MaxLeadingSilence time.Duration `yaml:"max_leading_silence"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	pa := output.DefaultPortAudioConfig()
	sp := spectrum.DefaultConfig()
	wf := waveform.DefaultConfig()
	opts := playback.DefaultOptions()

	return Config{
		Device: DeviceConfig{
			Index:           pa.DeviceIndex,
			FramesPerBuffer: pa.FramesPerBuffer,
			BufferMs:        int(pa.BufferDuration / time.Millisecond),
		},
		Buffer: BufferConfig{ChunkSize: chunkbuffer.DefaultChunkSize},
		Playback: PlaybackConfig{
			IdleDelay: opts.IdleDelay,
			Level:     opts.Level,
		},
		Spectrum: SpectrumConfig{
			Enabled:        true,
			WindowSize:     sp.WindowSize,
			MagnitudeScale: sp.MagnitudeScale,
			FastAlpha:      sp.FastAlpha,
			SlowAlpha:      sp.SlowAlpha,
		},
		Waveform: WaveformConfig{
			Resolution:        wf.Resolution,
			SilenceThreshold:  wf.SilenceThreshold,
			MaxLeadingSilence: wf.MaxLeadingSilence,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error

	if c.Device.Index < 0 {
		errs = append(errs, fmt.Errorf("device.index must not be negative: %d", c.Device.Index))
	}
	if c.Device.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("device.frames_per_buffer must be positive: %d", c.Device.FramesPerBuffer))
	}
	if c.Device.BufferMs <= 0 {
		errs = append(errs, fmt.Errorf("device.buffer_ms must be positive: %d", c.Device.BufferMs))
	}
	if c.Buffer.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer.chunk_size must be positive: %d", c.Buffer.ChunkSize))
	}
	if c.Playback.Level < 0 || c.Playback.Level > 1 {
		errs = append(errs, fmt.Errorf("playback.level must be within 0..1: %v", c.Playback.Level))
	}
	if c.Playback.SampleRate < 0 || c.Playback.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("playback.sample_rate out of range: %d", c.Playback.SampleRate))
	}
	if c.Playback.IdleDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.idle_delay must not be negative: %v", c.Playback.IdleDelay))
	}
	if n := c.Spectrum.WindowSize; n < 2 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("spectrum.window_size must be a power of two: %d", n))
	}
	if c.Spectrum.MagnitudeScale <= 0 {
		errs = append(errs, fmt.Errorf("spectrum.magnitude_scale must be positive: %v", c.Spectrum.MagnitudeScale))
	}
	for name, a := range map[string]float64{"fast_alpha": c.Spectrum.FastAlpha, "slow_alpha": c.Spectrum.SlowAlpha} {
		if a <= 0 || a > 1 {
			errs = append(errs, fmt.Errorf("spectrum.%s must be within (0, 1]: %v", name, a))
		}
	}
	if c.Waveform.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("waveform.resolution must be positive: %d", c.Waveform.Resolution))
	}
	if c.Waveform.SilenceThreshold < 0 || c.Waveform.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("waveform.silence_threshold must be within [0, 1): %v", c.Waveform.SilenceThreshold))
	}

	return errors.Join(errs...)
}

// PortAudio returns the output device settings.
func (c Config) PortAudio() output.PortAudioConfig {
	return output.PortAudioConfig{
		DeviceIndex:     c.Device.Index,
		FramesPerBuffer: c.Device.FramesPerBuffer,
		BufferDuration:  time.Duration(c.Device.BufferMs) * time.Millisecond,
	}
}

// Opener returns the sink opener selected by the device section.
func (c Config) Opener() output.Opener {
	if c.Device.Null {
		return output.OpenNull(time.Duration(c.Device.BufferMs)*time.Millisecond, true)
	}
	return output.OpenPortAudio(c.PortAudio())
}

func (c Config) SpectrumOptions() spectrum.Config {
	return spectrum.Config{
		WindowSize:     c.Spectrum.WindowSize,
		MagnitudeScale: c.Spectrum.MagnitudeScale,
		FastAlpha:      c.Spectrum.FastAlpha,
		SlowAlpha:      c.Spectrum.SlowAlpha,
	}
}

func (c Config) WaveformOptions() waveform.Config {
	return waveform.Config{
		Resolution:        c.Waveform.Resolution,
		SilenceThreshold:  c.Waveform.SilenceThreshold,
		MaxLeadingSilence: c.Waveform.MaxLeadingSilence,
	}
}

// EngineOptions builds the playback engine options.
func (c Config) EngineOptions() playback.Options {
	opts := playback.DefaultOptions()
	opts.OpenSource = decoders.OpenResampled(c.Playback.SampleRate)
	opts.OpenSink = c.Opener()
	opts.ChunkSize = c.Buffer.ChunkSize
	opts.IdleDelay = c.Playback.IdleDelay
	opts.Level = c.Playback.Level
	opts.TrimSilence = c.Playback.TrimSilence
	opts.Waveform = c.WaveformOptions()
	if c.Spectrum.Enabled {
		opts.Spectrum = spectrum.New(c.SpectrumOptions())
	}
	return opts
}
