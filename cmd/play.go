package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/drgolem/musicengine/internal/config"
	"github.com/drgolem/musicengine/internal/playback"
	"github.com/drgolem/musicengine/pkg/conflate"
	"github.com/drgolem/musicengine/pkg/queue"
)

var (
	playConfigPath  string
	playDeviceIdx   int
	playFrames      int
	playBufferMs    int
	playRepeat      string
	playShuffle     bool
	playLevel       float64
	playTrimSilence bool
	playSampleRate  int
	playNullOutput  bool
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <audio_file> [audio_file...]",
	Short: "Play a queue of audio files (MP3, FLAC, WAV, OGG)",
	Long: `Play audio files as a queue through the playback engine.

Each song is decoded into memory in the background while it plays. Songs
with the same sample rate, bit depth and channel count share one output
device, so the queue plays without gaps. Use --sample-rate to resample
every song to one rate and keep the device open for the whole queue.

Examples:
  # Play an album
  musicengine play album/*.flac

  # Loop one song at half level
  musicengine play --repeat song --level 0.5 intro.mp3

  # Shuffle and loop a folder, resampled to 48kHz
  musicengine play --shuffle --repeat queue --sample-rate 48000 music/*

  # Use a config file and a specific device
  musicengine play --config player.yaml -d 0 music.ogg

Repeat modes:
  no-repeat (off), repeat-queue (all), repeat-song (one)

Status Reporting:
  Playback status is logged every 2 seconds: file, format, position,
  audio queued in the device, decode progress, level and the dominant
  frequency of the spectrum.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	def := config.Default()
	playCmd.Flags().StringVar(&playConfigPath, "config", "", "YAML configuration file")
	playCmd.Flags().IntVarP(&playDeviceIdx, "device", "d", def.Device.Index, "Audio output device index")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", def.Device.FramesPerBuffer, "Audio frames per buffer")
	playCmd.Flags().IntVarP(&playBufferMs, "buffer-ms", "b", def.Device.BufferMs, "Output buffer length in milliseconds")
	playCmd.Flags().StringVarP(&playRepeat, "repeat", "r", queue.NoRepeat.String(), "Repeat mode: no-repeat, repeat-queue, repeat-song")
	playCmd.Flags().BoolVarP(&playShuffle, "shuffle", "s", false, "Shuffle the queue")
	playCmd.Flags().Float64VarP(&playLevel, "level", "l", def.Playback.Level, "Output level (0.0-1.0)")
	playCmd.Flags().BoolVar(&playTrimSilence, "trim-silence", def.Playback.TrimSilence, "Skip the trailing silence of each song")
	playCmd.Flags().IntVar(&playSampleRate, "sample-rate", def.Playback.SampleRate, "Resample 16-bit songs to this rate (0 keeps each song's rate)")
	playCmd.Flags().BoolVar(&playNullOutput, "null-output", false, "Discard audio instead of opening a device")
}

// loadPlayConfig reads the config file, then applies the flags set on the
// command line.
func loadPlayConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if playConfigPath != "" {
		var err error
		if cfg, err = config.Load(playConfigPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device.Index = playDeviceIdx
	}
	if flags.Changed("frames") {
		cfg.Device.FramesPerBuffer = playFrames
	}
	if flags.Changed("buffer-ms") {
		cfg.Device.BufferMs = playBufferMs
	}
	if flags.Changed("null-output") {
		cfg.Device.Null = playNullOutput
	}
	if flags.Changed("level") {
		cfg.Playback.Level = playLevel
	}
	if flags.Changed("trim-silence") {
		cfg.Playback.TrimSilence = playTrimSilence
	}
	if flags.Changed("sample-rate") {
		cfg.Playback.SampleRate = playSampleRate
	}
	return cfg, cfg.Validate()
}

func runPlay(cmd *cobra.Command, args []string) {
	cfg, err := loadPlayConfig(cmd)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	repeat, err := queue.ParseRepeat(playRepeat)
	if err != nil {
		slog.Error("Invalid repeat mode", "error", err)
		os.Exit(1)
	}

	for _, fileName := range args {
		if _, err := os.Stat(fileName); os.IsNotExist(err) {
			slog.Error("File not found", "path", fileName)
			os.Exit(1)
		}
	}

	q, err := queue.New(queue.SongsFromPaths(args), 0, repeat)
	if err != nil {
		slog.Error("Failed to create queue", "error", err)
		os.Exit(1)
	}
	if playShuffle {
		q = q.Shuffled()
	}

	if !cfg.Device.Null {
		slog.Info("Initializing PortAudio")
		if err := portaudio.Initialize(); err != nil {
			slog.Error("Failed to initialize PortAudio", "error", err)
			slog.Error("Hint: Make sure PortAudio is installed on your system")
			os.Exit(1)
		}
		defer portaudio.Terminate()
		slog.Info("PortAudio initialized", "version", portaudio.GetVersion())
	}

	slog.Info("Audio configuration",
		"device_index", cfg.Device.Index,
		"frames_per_buffer", cfg.Device.FramesPerBuffer,
		"buffer_ms", cfg.Device.BufferMs,
		"null_output", cfg.Device.Null,
		"sample_rate", cfg.Playback.SampleRate,
		"queue", q.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := playback.New(cfg.EngineOptions())
	runDone := make(chan error, 1)
	go func() { runDone <- engine.Run(ctx) }()

	if err := startQueue(ctx, engine, q); err != nil {
		slog.Error("Nothing to play", "error", err)
		stop()
		<-runDone
		os.Exit(1)
	}

	statusDone := make(chan struct{})
	go monitorPlayback(engine, engine.Spectrum(), statusDone)

	err = waitForQueueEnd(ctx, engine.States())
	close(statusDone)

	switch {
	case err == nil:
		slog.Info("Queue completed", "songs", q.Len())
	case ctx.Err() != nil:
		slog.Info("Signal received, stopping playback")
	default:
		slog.Error("Playback failed", "error", err)
	}

	stop()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Playback engine failed", "error", err)
	}
	slog.Info("Exiting")
}

// startQueue loads the first song of q that opens, skipping songs that
// cannot be decoded.
func startQueue(ctx context.Context, engine *playback.Engine, q *queue.Queue) error {
	var lastErr error
	for range q.Len() {
		err := engine.ChangeQueue(ctx, q, playback.FromBeginning())
		if err == nil {
			return nil
		}

		var srcErr *playback.SourceOpenError
		if !errors.As(err, &srcErr) {
			return err
		}
		slog.Warn("Skipping song", "file", srcErr.Path, "error", srcErr.Err)
		lastErr = err

		next, ok := q.Skip()
		if !ok {
			break
		}
		q = next
	}
	return lastErr
}

// waitForQueueEnd follows the published states until nothing is loaded,
// logging every newly loaded song.
func waitForQueueEnd(ctx context.Context, states *conflate.Value[playback.State]) error {
	st, ver := states.Load()
	var playing uuid.UUID
	for st.Now != nil {
		if st.Now.ID != playing {
			playing = st.Now.ID
			slog.Info("Now playing",
				"song", st.Now.Song.DisplayName(),
				"position", st.Now.Queue.String(),
				"format", st.Now.Format.String(),
				"length", st.Now.Length)
		}

		var err error
		if st, ver, err = states.Next(ctx, ver); err != nil {
			return err
		}
	}
	return nil
}
