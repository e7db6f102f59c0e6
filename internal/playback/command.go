package playback

import (
	"fmt"
	"time"

	"github.com/drgolem/musicengine/pkg/queue"
)

// PositionKind selects where playback continues after a queue change.
type PositionKind int

const (
	Current   PositionKind = iota // keep the current position
	Beginning                     // start of the song
	Specific                      // Position.At
)

// Position is a playback position request.
type Position struct {
	Kind PositionKind
	At   time.Duration
}

// KeepPosition keeps the current position.
func KeepPosition() Position { return Position{Kind: Current} }

// FromBeginning starts the song from its first frame.
func FromBeginning() Position { return Position{Kind: Beginning} }

// At starts the song at d.
func At(d time.Duration) Position { return Position{Kind: Specific, At: d} }

func (p Position) String() string {
	switch p.Kind {
	case Current:
		return "current"
	case Beginning:
		return "beginning"
	}
	return p.At.String()
}

type commandKind int

const (
	cmdChangeQueue commandKind = iota
	cmdPlay
	cmdPause
	cmdStartSeek
	cmdSeek
	cmdEndSeek
	cmdSetLevel
)

func (k commandKind) String() string {
	switch k {
	case cmdChangeQueue:
		return "change-queue"
	case cmdPlay:
		return "play"
	case cmdPause:
		return "pause"
	case cmdStartSeek:
		return "start-seek"
	case cmdSeek:
		return "seek"
	case cmdEndSeek:
		return "end-seek"
	case cmdSetLevel:
		return "set-level"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

type command struct {
	kind     commandKind
	event    uint64
	queue    *queue.Queue
	position Position
	level    float64
	reply    chan error // ChangeQueue only
}
