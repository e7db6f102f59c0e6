// Package queue holds the play queue: an ordered, never empty list of songs
// with a current position, a shuffle flag and a repeat mode. Queues are
// values; every change returns a new Queue.
package queue

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// RepeatMode controls what happens when a song ends.
type RepeatMode int

const (
	NoRepeat    RepeatMode = iota // stop after the last song
	RepeatQueue                   // wrap to the first song
	RepeatSong                    // play the current song again
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatQueue:
		return "repeat-queue"
	case RepeatSong:
		return "repeat-song"
	default:
		return "no-repeat"
	}
}

// ParseRepeat parses a repeat mode name as printed by String. "off",
// "all" and "one" are accepted as aliases.
func ParseRepeat(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no-repeat", "none", "off", "":
		return NoRepeat, nil
	case "repeat-queue", "queue", "all":
		return RepeatQueue, nil
	case "repeat-song", "song", "one":
		return RepeatSong, nil
	}
	return NoRepeat, fmt.Errorf("unknown repeat mode %q (want no-repeat, repeat-queue or repeat-song)", s)
}

// Song is one entry of the queue. Two entries are the same song if their
// IDs are equal, even when they refer to the same file.
type Song struct {
	ID     uuid.UUID
	Path   string
	Title  string
	Artist string
	Length time.Duration // declared length, 0 if unknown
}

// SongFromPath creates a Song from a file path, parsing an
// "Artist - Title" file name when present.
func SongFromPath(path string) Song {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	song := Song{ID: uuid.New(), Path: path, Title: name}
	if artist, title, ok := strings.Cut(name, " - "); ok {
		song.Artist = strings.TrimSpace(artist)
		song.Title = strings.TrimSpace(title)
	}
	return song
}

// SongsFromPaths calls SongFromPath for every path.
func SongsFromPaths(paths []string) []Song {
	return lo.Map(paths, func(p string, _ int) Song { return SongFromPath(p) })
}

// DisplayName returns "Artist - Title", or the title alone.
func (s Song) DisplayName() string {
	if s.Artist != "" {
		return s.Artist + " - " + s.Title
	}
	return s.Title
}

// ErrEmpty is returned when creating a queue without songs.
var ErrEmpty = errors.New("queue: no songs")

// Queue is an immutable play queue. Position is always a valid index.
type Queue struct {
	songs    []Song
	position int
	shuffle  bool
	repeat   RepeatMode
}

// New creates a queue positioned at position.
func New(songs []Song, position int, repeat RepeatMode) (*Queue, error) {
	if len(songs) == 0 {
		return nil, ErrEmpty
	}
	if position < 0 || position >= len(songs) {
		return nil, fmt.Errorf("queue: position %d out of range [0, %d)", position, len(songs))
	}
	return &Queue{
		songs:    append([]Song(nil), songs...),
		position: position,
		repeat:   repeat,
	}, nil
}

func (q *Queue) Len() int { return len(q.songs) }

func (q *Queue) Position() int { return q.position }

func (q *Queue) Repeat() RepeatMode { return q.repeat }

func (q *Queue) Shuffle() bool { return q.shuffle }

// Current returns the song at the current position.
func (q *Queue) Current() Song { return q.songs[q.position] }

// Songs returns a copy of the queue's songs.
func (q *Queue) Songs() []Song { return append([]Song(nil), q.songs...) }

func (q *Queue) with(position int) *Queue {
	c := *q
	c.position = position
	return &c
}

// At returns the queue positioned at i.
func (q *Queue) At(i int) (*Queue, error) {
	if i < 0 || i >= len(q.songs) {
		return nil, fmt.Errorf("queue: position %d out of range [0, %d)", i, len(q.songs))
	}
	return q.with(i), nil
}

// WithRepeat returns the queue with a different repeat mode.
func (q *Queue) WithRepeat(r RepeatMode) *Queue {
	c := *q
	c.repeat = r
	return &c
}

// Next returns the queue advanced after the current song ended, following
// the repeat mode. ok is false when playback should stop: the last song of
// a no-repeat queue ended.
func (q *Queue) Next() (next *Queue, ok bool) {
	switch {
	case q.repeat == RepeatSong:
		return q, true
	case q.position+1 < len(q.songs):
		return q.with(q.position + 1), true
	case q.repeat == RepeatQueue:
		return q.with(0), true
	}
	return nil, false
}

// Skip moves to the next song regardless of RepeatSong, wrapping only for
// RepeatQueue.
func (q *Queue) Skip() (*Queue, bool) {
	if q.position+1 < len(q.songs) {
		return q.with(q.position + 1), true
	}
	if q.repeat == RepeatQueue {
		return q.with(0), true
	}
	return nil, false
}

// Previous moves to the previous song, wrapping only for RepeatQueue and
// otherwise staying on the first song.
func (q *Queue) Previous() *Queue {
	if q.position > 0 {
		return q.with(q.position - 1)
	}
	if q.repeat == RepeatQueue {
		return q.with(len(q.songs) - 1)
	}
	return q
}

// Shuffled returns the queue in random order with the current song moved
// to the front, so shuffling never interrupts it.
func (q *Queue) Shuffled() *Queue {
	current := q.songs[q.position]
	rest := make([]Song, 0, len(q.songs)-1)
	rest = append(rest, q.songs[:q.position]...)
	rest = append(rest, q.songs[q.position+1:]...)
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	return &Queue{
		songs:    append([]Song{current}, rest...),
		position: 0,
		shuffle:  true,
		repeat:   q.repeat,
	}
}

func (q *Queue) String() string {
	return fmt.Sprintf("%d/%d %s", q.position+1, len(q.songs), q.repeat)
}
