package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drgolem/musicengine/internal/config"
	"github.com/drgolem/musicengine/pkg/chunkbuffer"
	"github.com/drgolem/musicengine/pkg/decoders"
	"github.com/drgolem/musicengine/pkg/seekable"
	"github.com/drgolem/musicengine/pkg/spectrum"
	"github.com/drgolem/musicengine/pkg/waveform"
)

var (
	analyzeConfigPath string
	analyzeWidth      int
	analyzePeaks      int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <audio_file>",
	Short: "Print the waveform envelope and spectrum of an audio file",
	Long: `Decode an audio file without opening an output device and print what
the player computes for it: leading and trailing silence, a low resolution
envelope per channel and the strongest frequencies of the whole song.

Examples:
  musicengine analyze song.flac
  musicengine analyze --width 60 --peaks 10 song.mp3`,
	Args: cobra.ExactArgs(1),
	Run:  runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeConfigPath, "config", "", "YAML configuration file")
	analyzeCmd.Flags().IntVarP(&analyzeWidth, "width", "w", 50, "Width of the envelope bars in characters")
	analyzeCmd.Flags().IntVarP(&analyzePeaks, "peaks", "p", 5, "Number of spectrum peaks to print")
}

func runAnalyze(cmd *cobra.Command, args []string) {
	fileName := args[0]

	cfg := config.Default()
	if analyzeConfigPath != "" {
		var err error
		if cfg, err = config.Load(analyzeConfigPath); err != nil {
			slog.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := decoders.Open(fileName)
	if err != nil {
		slog.Error("Failed to open file", "error", err)
		os.Exit(1)
	}
	defer src.Close()
	format := src.Format()

	buffer := chunkbuffer.New(src, cfg.Buffer.ChunkSize)
	go func() {
		if err := buffer.BufferAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Buffering failed", "error", err)
		}
	}()

	builder := waveform.New(cfg.WaveformOptions(), seekable.New(buffer.NewReader(), format), src.Length())
	waveDone := make(chan error, 1)
	go func() { waveDone <- builder.Run(ctx) }()

	summary, err := analyzeSpectrum(ctx, seekable.New(buffer.NewReader(), format), cfg.SpectrumOptions())
	if err != nil {
		slog.Error("Spectrum analysis failed", "error", err)
		os.Exit(1)
	}
	if err := <-waveDone; err != nil {
		slog.Error("Waveform analysis failed", "error", err)
		os.Exit(1)
	}
	snap, _ := builder.Snapshots().Load()

	fmt.Printf("File:             %s\n", fileName)
	fmt.Printf("Format:           %s\n", format)
	fmt.Printf("Declared length:  %s\n", formatClock(src.Length()))
	fmt.Printf("Decoded length:   %s\n", formatClock(format.Duration(snap.Frames)))
	fmt.Printf("Leading silence:  %s\n", formatClock(snap.LeadingSilence))
	fmt.Printf("Trailing silence: %s\n", formatClock(snap.TrailingSilence))

	for ch, buckets := range snap.LowRes {
		fmt.Printf("\nEnvelope, channel %d:\n", ch)
		printEnvelope(buckets, analyzeWidth)
	}

	fmt.Printf("\nSpectrum peaks:\n")
	for _, p := range spectrumPeaks(summary.Slow, format.SampleRate, analyzePeaks) {
		fmt.Printf("  %6d Hz  %.3f\n", p.hz, p.value)
	}
}

// analyzeSpectrum feeds the whole stream through an analyzer and returns
// the last result, whose Slow bins average the song.
func analyzeSpectrum(ctx context.Context, stream *seekable.Stream, cfg spectrum.Config) (spectrum.Spectrum, error) {
	analyzer := spectrum.New(cfg)
	format := stream.Format()
	chunk := make([]byte, cfg.WindowSize*format.FrameSize)

	var last spectrum.Spectrum
	for {
		n, err := stream.Read(ctx, chunk)
		if n > 0 {
			last = analyzer.Process(chunk[:n], format)
		}
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}
	}
}

func printEnvelope(buckets []float64, width int) {
	peak := 0.0
	for _, v := range buckets {
		peak = max(peak, v)
	}
	for i, v := range buckets {
		bar := 0
		if peak > 0 {
			bar = int(v / peak * float64(width))
		}
		fmt.Printf("  %3d %s\n", i, strings.Repeat("#", bar))
	}
}

type spectrumPeak struct {
	hz    int
	value float64
}

// spectrumPeaks returns the count strongest local maxima of bins.
func spectrumPeaks(bins []float64, sampleRate, count int) []spectrumPeak {
	var peaks []spectrumPeak
	for i := 1; i+1 < len(bins); i++ {
		if bins[i] > bins[i-1] && bins[i] >= bins[i+1] {
			peaks = append(peaks, spectrumPeak{
				hz:    i * sampleRate / (2 * len(bins)),
				value: bins[i],
			})
		}
	}
	sort.Slice(peaks, func(a, b int) bool { return peaks[a].value > peaks[b].value })
	return peaks[:max(0, min(count, len(peaks)))]
}
