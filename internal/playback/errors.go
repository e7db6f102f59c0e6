package playback

import (
	"errors"
	"fmt"

	"github.com/drgolem/musicengine/pkg/audioframe"
)

// ErrStopped is returned by commands sent after the engine stopped.
var ErrStopped = errors.New("playback: engine stopped")

// SourceOpenError reports a song that could not be opened or decoded. The
// engine is left with nothing loaded.
type SourceOpenError struct {
	Path string
	Err  error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("open source %s: %v", e.Path, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// DeviceOpenError reports an output device that could not be opened for a
// song's format. The engine keeps its previous state.
type DeviceOpenError struct {
	Path   string
	Format audioframe.Format
	Err    error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("open output device for %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }
