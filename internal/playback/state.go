package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/queue"
	"github.com/drgolem/musicengine/pkg/waveform"
)

// State is an immutable snapshot of the engine. Event strictly increases
// across published states; a consumer discards any State whose Event is
// not newer than the last one it applied.
type State struct {
	Event    uint64
	Now      *NowPlaying // nil when nothing is loaded
	Position time.Duration
	Paused   bool
	Seeking  bool
	Level    float64
}

// NowPlaying describes the loaded song. ID changes whenever a new song is
// loaded, including the same file loaded again.
type NowPlaying struct {
	ID       uuid.UUID
	Queue    *queue.Queue
	Song     queue.Song
	Format   audioframe.Format
	Length   time.Duration
	Waveform waveform.Snapshot
}

// Newer reports whether s should replace last.
func (s State) Newer(last State) bool {
	return s.Event > last.Event
}
