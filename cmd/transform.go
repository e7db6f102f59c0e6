package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	wav "github.com/youpy/go-wav"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/decoders"
)

var transformCmd = &cobra.Command{
	Use:   "transform <input_file>",
	Short: "Transform audio file sample rate and format",
	Long: `Transform audio files to a different sample rate and write them as WAV,
using the same decoders and resampler as the player.

Examples:
  # Transform MP3 to 48kHz WAV
  musicengine transform input.mp3 --new-samplerate 48000 --out output.wav

  # Transform FLAC to 44.1kHz mono WAV
  musicengine transform input.flac --new-samplerate 44100 --mono --out output.wav

Supported Input Formats:
  MP3 (.mp3), FLAC (.flac, .fla), WAV (.wav), OGG Vorbis (.ogg)

Resampling requires 16-bit input; other bit depths are written at their
native rate.`,
	Args: cobra.ExactArgs(1),
	Run:  runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().Int("new-samplerate", 48000, "Target sample rate in Hz")
	transformCmd.Flags().String("out", "out_transformed.wav", "Output WAV file path")
	transformCmd.Flags().Bool("mono", false, "Convert output to mono signal (average channels)")
}

func runTransform(cmd *cobra.Command, args []string) {
	inFileName := args[0]

	if _, err := os.Stat(inFileName); os.IsNotExist(err) {
		slog.Error("Input file not found", "path", inFileName)
		os.Exit(1)
	}

	newSampleRate, _ := cmd.Flags().GetInt("new-samplerate")
	outFileName, _ := cmd.Flags().GetString("out")
	convertToMono, _ := cmd.Flags().GetBool("mono")

	if newSampleRate <= 0 || newSampleRate > 384000 {
		slog.Error("Invalid sample rate", "rate", newSampleRate, "valid_range", "1-384000")
		os.Exit(1)
	}

	src, err := decoders.OpenResampled(newSampleRate)(inFileName)
	if err != nil {
		slog.Error("Failed to open input", "error", err)
		os.Exit(1)
	}
	defer src.Close()
	format := src.Format()

	slog.Info("Audio transformation starting",
		"input_file", inFileName,
		"format", format.String(),
		"output_mono", convertToMono,
		"output_file", outFileName)

	audioData, err := io.ReadAll(src)
	if err != nil {
		slog.Error("Failed to decode audio", "error", err)
		os.Exit(1)
	}

	if convertToMono && format.Channels > 1 {
		audioData, format = downmix(audioData, format)
		slog.Info("Mono conversion complete", "output_channels", format.Channels)
	}

	frames := len(audioData) / format.FrameSize
	if err := writeWAVFile(outFileName, audioData, format, uint32(frames)); err != nil {
		slog.Error("Failed to write WAV file", "error", err)
		os.Exit(1)
	}

	slog.Info("Transformation complete",
		"output_frames", frames,
		"duration", format.Duration(int64(frames)))
}

// downmix averages every frame's channels into one.
func downmix(p []byte, format audioframe.Format) ([]byte, audioframe.Format) {
	mono := audioframe.NewFormat(format.SampleRate, 1, format.BitsPerSample)
	frames := len(p) / format.FrameSize
	out := make([]byte, frames*mono.FrameSize)

	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < format.Channels; ch++ {
			sum += format.Sample(p, i, ch)
		}
		mono.PutSample(out, i, 0, sum/float64(format.Channels))
	}
	return out, mono
}

// writeWAVFile writes audio data to a WAV file
func writeWAVFile(fileName string, audioData []byte, format audioframe.Format, frames uint32) error {
	fOut, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer fOut.Close()

	wavWriter := wav.NewWriter(fOut, frames, uint16(format.Channels), uint32(format.SampleRate), uint16(format.BitsPerSample))

	if _, err := wavWriter.Write(audioData); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return nil
}
