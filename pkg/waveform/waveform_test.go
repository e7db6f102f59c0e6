package waveform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/chunkbuffer"
	"github.com/drgolem/musicengine/pkg/seekable"
)

// level returns frames of constant value v, or silence for v == 0.
func level(format audioframe.Format, frames int, v float64) []byte {
	p := make([]byte, frames*format.FrameSize)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < format.Channels; ch++ {
			format.PutSample(p, i, ch, v)
		}
	}
	return p
}

func run(t *testing.T, config Config, format audioframe.Format, data []byte, length time.Duration) Snapshot {
	t.Helper()
	buf := chunkbuffer.New(bytes.NewReader(data), 3001)
	if err := buf.BufferAll(context.Background()); err != nil {
		t.Fatalf("BufferAll failed: %v", err)
	}
	b := New(config, seekable.New(buf.NewReader(), format), length)
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s, _ := b.Snapshots().Load()
	if !b.Snapshots().Closed() {
		t.Error("Snapshots not closed after Run")
	}
	return s
}

func TestEnvelopeAndSilence(t *testing.T) {
	format := audioframe.NewFormat(8000, 2, 16)
	var data []byte
	data = append(data, level(format, 4000, 0)...)
	data = append(data, level(format, 8000, 0.5)...)
	data = append(data, level(format, 4000, 0)...)

	config := DefaultConfig()
	config.Resolution = 100
	s := run(t, config, format, data, 2*time.Second)

	if !s.Done {
		t.Error("final snapshot not marked done")
	}
	if s.Frames != 16000 {
		t.Errorf("Frames: got %d, want 16000", s.Frames)
	}
	if s.LeadingSilence != 500*time.Millisecond {
		t.Errorf("LeadingSilence: got %v, want 500ms", s.LeadingSilence)
	}
	if d := s.TrailingSilence - 500*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("TrailingSilence: got %v, want 500ms", s.TrailingSilence)
	}

	if len(s.HiRes) != 2 || len(s.HiRes[0]) != 100 || len(s.LowRes[1]) != 5 {
		t.Fatalf("envelope shape: got %dx%d hi, %d low", len(s.HiRes), len(s.HiRes[0]), len(s.LowRes[1]))
	}
	// 160 frames per bucket at 0.5 each
	if math.Abs(s.HiRes[1][50]-80) > 1e-9 {
		t.Errorf("HiRes[1][50]: got %v, want 80", s.HiRes[1][50])
	}
	if s.HiRes[0][10] != 0 || s.HiRes[0][90] != 0 {
		t.Errorf("silent buckets not zero: %v, %v", s.HiRes[0][10], s.HiRes[0][90])
	}
	if math.Abs(s.LowRes[0][2]-1600) > 1e-9 {
		t.Errorf("LowRes[0][2]: got %v, want 1600", s.LowRes[0][2])
	}
}

func TestLeadingSilenceIsCapped(t *testing.T) {
	format := audioframe.NewFormat(1000, 1, 16)
	data := append(level(format, 5000, 0), level(format, 1000, 0.5)...)

	s := run(t, DefaultConfig(), format, data, 6*time.Second)
	if s.LeadingSilence != 3*time.Second {
		t.Errorf("LeadingSilence: got %v, want 3s", s.LeadingSilence)
	}
	if s.TrailingSilence != 0 {
		t.Errorf("TrailingSilence: got %v, want 0", s.TrailingSilence)
	}
}

func TestShortEstimateClampsToLastBucket(t *testing.T) {
	format := audioframe.NewFormat(1000, 1, 16)
	data := level(format, 2000, 0.5)

	config := DefaultConfig()
	config.Resolution = 40
	s := run(t, config, format, data, time.Second)

	// the second half of the song lands in the last bucket
	if math.Abs(s.HiRes[0][39]-0.5*(25+1000)) > 1e-9 {
		t.Errorf("last bucket: got %v, want %v", s.HiRes[0][39], 0.5*(25+1000))
	}
}

func TestUnknownLengthAssumesDefault(t *testing.T) {
	format := audioframe.NewFormat(1000, 1, 16)
	data := level(format, 240, 0.5) // 0.1% of four minutes

	s := run(t, DefaultConfig(), format, data, 0)
	if s.HiRes[0][0] == 0 || s.HiRes[0][1] != 0 {
		t.Errorf("frames 0-239 should fill only bucket 0: got %v, %v", s.HiRes[0][0], s.HiRes[0][1])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	format := audioframe.NewFormat(1000, 1, 16)
	pr, pw := io.Pipe()
	defer pw.Close()

	buf := chunkbuffer.New(pr, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.BufferAll(ctx)

	b := New(DefaultConfig(), seekable.New(buf.NewReader(), format), time.Second)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	go pw.Write(level(format, 100, 0.5))
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
	if s, _ := b.Snapshots().Load(); s.Done {
		t.Error("cancelled builder published a done snapshot")
	}
}
