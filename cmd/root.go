package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "musicengine",
	Short:   "Gapless audio player engine",
	Version: version,
	Long: `musicengine - an audio player built around a single playback engine.

Songs are decoded once into memory, so seeking anywhere in a song is
instant. Consecutive songs with the same PCM format play through one open
output device without a gap; a change of format opens a new device only
after the previous one has played out.

Commands:
  - play: Play a queue of audio files with repeat and shuffle
  - analyze: Print the waveform envelope and spectrum of a file
  - transform: Convert audio files to a different sample rate as WAV`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
