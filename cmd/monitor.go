package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/drgolem/musicengine/pkg/spectrum"
	"github.com/drgolem/musicengine/pkg/types"
)

// monitorPlayback logs playback status every 2 seconds for any
// PlaybackMonitor. analyzer may be nil.
func monitorPlayback(monitor types.PlaybackMonitor, analyzer *spectrum.Analyzer, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := monitor.GetPlaybackStatus()
			if status.FileName == "" {
				continue
			}

			var queued time.Duration
			if status.SampleRate > 0 {
				queued = time.Duration(status.QueuedFrames) * time.Second / time.Duration(status.SampleRate)
			}

			formatStr := fmt.Sprintf("%d:%d:%d",
				status.SampleRate, status.BitsPerSample, status.Channels)

			attrs := []any{
				"file", status.FileName,
				"format", formatStr,
				"position", formatClock(status.Position),
				"length", formatClock(status.Length),
				"queued", fmt.Sprintf("%.3fs", queued.Seconds()),
				"decoded", fmt.Sprintf("%.0f%%", status.DecodedPercent),
				"level", status.Level,
				"paused", status.Paused,
			}
			if analyzer != nil {
				if latest, ver := analyzer.Spectra().Load(); ver > 0 {
					attrs = append(attrs, "peak_hz", peakFrequency(latest.Slow, status.SampleRate))
				}
			}
			slog.Info("Playback status", attrs...)
		case <-done:
			return
		}
	}
}

// formatClock formats d as hh:mm:ss.msec.
func formatClock(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000)
}

// peakFrequency returns the centre frequency of the strongest bin. bins
// holds half a window of sampleRate audio.
func peakFrequency(bins []float64, sampleRate int) int {
	if len(bins) == 0 {
		return 0
	}
	peak := 0
	for i, v := range bins {
		if v > bins[peak] {
			peak = i
		}
	}
	return peak * sampleRate / (2 * len(bins))
}
