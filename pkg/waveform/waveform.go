// Package waveform builds a downsampled amplitude envelope of a song while
// it is being decoded, and estimates its leading and trailing silence.
package waveform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/drgolem/musicengine/pkg/conflate"
	"github.com/drgolem/musicengine/pkg/seekable"
)

// LowResFactor is the ratio between the high and low resolution envelopes.
const LowResFactor = 20

// DefaultLength is the length assumed for songs that declare none.
const DefaultLength = 4 * time.Minute

const readBytes = 16 * 1024

// Config holds builder configuration
type Config struct {
	Resolution        int           // high resolution buckets per channel
	SilenceThreshold  float64       // normalized amplitude above which a frame is loud
	MaxLeadingSilence time.Duration // cap on the reported leading silence
}

// DefaultConfig returns default builder configuration
func DefaultConfig() Config {
	return Config{
		Resolution:        1000,
		SilenceThreshold:  0.003,
		MaxLeadingSilence: 3 * time.Second,
	}
}

// Snapshot is the envelope as known so far. Published snapshots are never
// modified.
type Snapshot struct {
	HiRes           [][]float64 // per channel, Resolution amplitude sums
	LowRes          [][]float64 // per channel, Resolution/LowResFactor amplitude sums
	Frames          int64       // frames analyzed
	LeadingSilence  time.Duration
	TrailingSilence time.Duration // final only when Done
	Done            bool
}

// Builder consumes its own stream over a song's buffer.
type Builder struct {
	config    Config
	stream    *seekable.Stream
	estimated int64 // estimated total frames

	hi, low   [][]float64
	frames    int64
	firstLoud int64
	lastLoud  int64

	out *conflate.Value[Snapshot]
}

// New creates a builder over stream. length is the song's declared length;
// bucket positions are estimated from it until decoding completes.
func New(config Config, stream *seekable.Stream, length time.Duration) *Builder {
	format := stream.Format()
	if length <= 0 {
		length = DefaultLength
	}

	lowN := max(config.Resolution/LowResFactor, 1)
	hi := make([][]float64, format.Channels)
	low := make([][]float64, format.Channels)
	for ch := range hi {
		hi[ch] = make([]float64, config.Resolution)
		low[ch] = make([]float64, lowN)
	}

	return &Builder{
		config:    config,
		stream:    stream,
		estimated: max(format.Frames(length), 1),
		hi:        hi,
		low:       low,
		firstLoud: -1,
		lastLoud:  -1,
		out:       conflate.New[Snapshot](),
	}
}

// Snapshots returns the published envelopes. The last one has Done set.
func (b *Builder) Snapshots() *conflate.Value[Snapshot] {
	return b.out
}

// Run reads the song to its end, publishing a snapshot after every chunk.
// It returns ctx.Err() when cancelled and nil once the final snapshot is
// published. Snapshots is closed either way.
func (b *Builder) Run(ctx context.Context) error {
	defer b.out.Close()

	buf := make([]byte, max(readBytes/b.stream.Format().FrameSize, 1)*b.stream.Format().FrameSize)
	for {
		n, err := b.stream.Read(ctx, buf)
		if n > 0 {
			b.add(buf[:n])
			b.out.Set(b.snapshot(false))
		}
		if errors.Is(err, io.EOF) {
			final := b.snapshot(true)
			b.out.Set(final)
			slog.Debug("Waveform complete",
				"frames", b.frames,
				"leading_silence", final.LeadingSilence,
				"trailing_silence", final.TrailingSilence)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *Builder) add(p []byte) {
	format := b.stream.Format()
	res := int64(len(b.hi[0]))
	lowRes := int64(len(b.low[0]))
	frames := len(p) / format.FrameSize

	for i := 0; i < frames; i++ {
		idx := b.frames
		hiBucket := min(idx*res/b.estimated, res-1)
		lowBucket := min(idx*lowRes/b.estimated, lowRes-1)

		loud := false
		for ch := 0; ch < format.Channels; ch++ {
			v := math.Abs(format.Sample(p, i, ch))
			b.hi[ch][hiBucket] += v
			b.low[ch][lowBucket] += v
			if v > b.config.SilenceThreshold {
				loud = true
			}
		}
		if loud {
			if b.firstLoud < 0 {
				b.firstLoud = idx
			}
			b.lastLoud = idx
		}
		b.frames++
	}
}

func (b *Builder) snapshot(done bool) Snapshot {
	format := b.stream.Format()

	leading := b.frames
	if b.firstLoud >= 0 {
		leading = b.firstLoud
	}
	trailing := b.frames
	if b.lastLoud >= 0 {
		trailing = b.frames - 1 - b.lastLoud
	}

	return Snapshot{
		HiRes:           copyAll(b.hi),
		LowRes:          copyAll(b.low),
		Frames:          b.frames,
		LeadingSilence:  min(format.Duration(leading), b.config.MaxLeadingSilence),
		TrailingSilence: format.Duration(trailing),
		Done:            done,
	}
}

func copyAll(src [][]float64) [][]float64 {
	dst := make([][]float64, len(src))
	for i, s := range src {
		dst[i] = append([]float64(nil), s...)
	}
	return dst
}
