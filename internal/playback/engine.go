// Package playback implements the playback engine: a single worker that
// owns the loaded song and the output device, executes commands in the
// order they were issued and publishes immutable State snapshots.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/drgolem/musicengine/pkg/chunkbuffer"
	"github.com/drgolem/musicengine/pkg/conflate"
	"github.com/drgolem/musicengine/pkg/output"
	"github.com/drgolem/musicengine/pkg/queue"
	"github.com/drgolem/musicengine/pkg/seekable"
	"github.com/drgolem/musicengine/pkg/spectrum"
	"github.com/drgolem/musicengine/pkg/types"
	"github.com/drgolem/musicengine/pkg/waveform"
)

const commandQueueSize = 64

// Options configures an Engine.
type Options struct {
	// OpenSource opens a song file as a PCM stream
	OpenSource func(path string) (types.AudioSource, error)

	// OpenSink opens an output device for a format
	OpenSink output.Opener

	// ChunkSize is the size of the chunks songs are buffered in
	ChunkSize int

	// IdleDelay is slept after a play step that wrote nothing
	IdleDelay time.Duration

	// Level is the initial output level (0.0-1.0)
	Level float64

	// TrimSilence ends songs at the start of their trailing silence
	TrimSilence bool

	Waveform waveform.Config

	// Spectrum receives every chunk written to the device; optional
	Spectrum *spectrum.Analyzer
}

// DefaultOptions returns options with every field but OpenSource and
// OpenSink set.
func DefaultOptions() Options {
	return Options{
		ChunkSize: chunkbuffer.DefaultChunkSize,
		IdleDelay: 10 * time.Millisecond,
		Level:     1,
		Waveform:  waveform.DefaultConfig(),
	}
}

// currentlyPlaying is the loaded song. It is replaced wholesale when the
// song changes; cancel stops its buffering and waveform tasks.
type currentlyPlaying struct {
	id       uuid.UUID
	queue    *queue.Queue
	source   types.AudioSource
	player   *output.Player
	waveform *waveform.Builder
	cancel   context.CancelFunc
}

// Engine is the playback state machine. Commands may be sent from any
// goroutine; only Run mutates playback state.
type Engine struct {
	opts Options

	clock    atomic.Uint64
	sendMu   sync.Mutex
	commands chan command
	done     chan struct{}
	states   *conflate.Value[State]

	// owned by Run
	current *currentlyPlaying
	paused  bool
	seeking bool
	level   float64

	statusMu sync.Mutex
	status   types.PlaybackStatus
}

// New creates an engine. Run must be called to start it.
func New(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunkbuffer.DefaultChunkSize
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = 10 * time.Millisecond
	}
	if opts.Waveform.Resolution <= 0 {
		opts.Waveform = waveform.DefaultConfig()
	}

	e := &Engine{
		opts:     opts,
		commands: make(chan command, commandQueueSize),
		done:     make(chan struct{}),
		states:   conflate.New[State](),
		level:    lo.Clamp(opts.Level, 0, 1),
	}
	e.status.Level = e.level
	return e
}

// States returns the published state snapshots.
func (e *Engine) States() *conflate.Value[State] {
	return e.states
}

// Spectrum returns the analyzer fed by the engine, or nil.
func (e *Engine) Spectrum() *spectrum.Analyzer {
	return e.opts.Spectrum
}

// NextEvent reserves an event id. A consumer predicting a pending value
// tags it with NextEvent and prefers it over any State with a smaller
// Event.
func (e *Engine) NextEvent() uint64 {
	return e.clock.Add(1)
}

// send stamps c and queues it. Stamping and queueing happen under one lock
// so event ids follow queue order.
func (e *Engine) send(c command) (uint64, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	select {
	case <-e.done:
		return 0, ErrStopped
	default:
	}

	c.event = e.clock.Add(1)
	select {
	case e.commands <- c:
		return c.event, nil
	case <-e.done:
		return 0, ErrStopped
	}
}

// ChangeQueue loads q at pos, or unloads everything when q is nil. It waits
// until the engine processed the command and returns a *SourceOpenError or
// *DeviceOpenError if the song could not be loaded.
func (e *Engine) ChangeQueue(ctx context.Context, q *queue.Queue, pos Position) error {
	reply := make(chan error, 1)
	if _, err := e.send(command{kind: cmdChangeQueue, queue: q, position: pos, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play resumes playback. It returns the command's event id.
func (e *Engine) Play() (uint64, error) {
	return e.send(command{kind: cmdPlay})
}

// Pause suspends playback.
func (e *Engine) Pause() (uint64, error) {
	return e.send(command{kind: cmdPause})
}

// StartSeek marks a seek in progress; a song ending meanwhile does not
// advance the queue.
func (e *Engine) StartSeek() (uint64, error) {
	return e.send(command{kind: cmdStartSeek})
}

// Seek moves to at within the current song of q. A nil q seeks within the
// loaded queue.
func (e *Engine) Seek(q *queue.Queue, at time.Duration) (uint64, error) {
	return e.send(command{kind: cmdSeek, queue: q, position: At(at)})
}

// EndSeek ends a seek started with StartSeek.
func (e *Engine) EndSeek() (uint64, error) {
	return e.send(command{kind: cmdEndSeek})
}

// SetLevel sets the output level (0.0-1.0).
func (e *Engine) SetLevel(level float64) (uint64, error) {
	return e.send(command{kind: cmdSetLevel, level: level})
}

// Run executes commands and playback steps until ctx is cancelled. It
// blocks while paused or idle. Per-song failures never stop it.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.states.Close()

	if e.opts.Spectrum != nil {
		go e.opts.Spectrum.Run(ctx)
	}

	slog.Debug("Playback engine started")
	e.publish()

	for {
		if e.paused || e.current == nil {
			select {
			case <-ctx.Done():
				e.shutdown()
				return ctx.Err()
			case c := <-e.commands:
				e.handle(ctx, c)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case c := <-e.commands:
			e.handle(ctx, c)
			continue
		default:
		}

		e.step(ctx)
	}
}

func (e *Engine) shutdown() {
	if e.current != nil {
		e.current.player.Stop()
		e.current.player.Device().Close()
		e.current.cancel()
		e.current = nil
	}
	slog.Debug("Playback engine stopped")
}

func (e *Engine) handle(ctx context.Context, c command) {
	slog.Debug("Command", "kind", c.kind.String(), "event", c.event)

	switch c.kind {
	case cmdChangeQueue:
		err := e.changeQueue(ctx, c.queue, c.position, false)
		if err != nil {
			slog.Warn("Change queue failed", "error", err)
		}
		e.publish()
		c.reply <- err
		return

	case cmdPlay:
		e.paused = false
		if e.current != nil {
			if err := e.current.player.Resume(); err != nil {
				slog.Warn("Failed to resume output", "error", err)
			}
		}

	case cmdPause:
		e.paused = true
		if e.current != nil {
			if err := e.current.player.Pause(); err != nil {
				slog.Warn("Failed to pause output", "error", err)
			}
		}

	case cmdStartSeek:
		e.seeking = true

	case cmdSeek:
		q := c.queue
		if q == nil && e.current != nil {
			q = e.current.queue
		}
		if q != nil {
			if err := e.changeQueue(ctx, q, c.position, false); err != nil {
				slog.Warn("Seek failed", "error", err)
			}
		}

	case cmdEndSeek:
		e.seeking = false

	case cmdSetLevel:
		e.level = lo.Clamp(c.level, 0, 1)
		if e.current != nil {
			db := e.current.player.SetLevel(e.level)
			slog.Debug("Level set", "level", e.level, "gain_db", db)
		}
	}

	e.publish()
}

// step performs one playback step on the loaded song.
func (e *Engine) step(ctx context.Context) {
	cur := e.current

	res, chunk, err := cur.player.PlayFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Play step failed", "error", err)
		res = output.NotPlayed
	}

	if res == output.Played {
		if e.opts.Spectrum != nil {
			e.opts.Spectrum.Submit(chunk, cur.player.Format())
		}
		if e.opts.TrimSilence && e.inTrailingSilence(cur) {
			res = output.Finished
		}
	}

	if res == output.Finished && !e.seeking {
		e.advance(ctx)
		e.publish()
		return
	}

	e.publish()
	if res != output.Played {
		select {
		case <-ctx.Done():
		case <-time.After(e.opts.IdleDelay):
		}
	}
}

// inTrailingSilence reports whether the stream has passed the start of the
// song's trailing silence, which is known once the waveform is done.
func (e *Engine) inTrailingSilence(cur *currentlyPlaying) bool {
	snap, _ := cur.waveform.Snapshots().Load()
	if !snap.Done || snap.TrailingSilence <= 0 {
		return false
	}
	stream := cur.player.Stream()
	end := stream.Format().Duration(snap.Frames) - snap.TrailingSilence
	return stream.Position() >= end
}

// advance moves to the next song after the current one finished. Songs
// that cannot be loaded are skipped, each at most once; when none is left
// the finished song drains and nothing stays loaded.
func (e *Engine) advance(ctx context.Context) {
	next, ok := e.current.queue.Next()
	for tries := 0; ok && tries < next.Len(); tries++ {
		err := e.changeQueue(ctx, next, FromBeginning(), true)
		if err == nil {
			return
		}
		slog.Warn("Skipping song", "file", filepath.Base(next.Current().Path), "error", err)
		next, ok = next.Skip()
	}

	if ok {
		slog.Warn("No playable song left in queue")
	} else {
		slog.Info("End of queue")
	}
	e.unload(ctx, true)
}

// changeQueue loads q at pos. natural is set when the previous song ended
// by itself, in which case audio still queued in the device plays out and
// a failure leaves the finished song loaded for advance to handle.
func (e *Engine) changeQueue(ctx context.Context, q *queue.Queue, pos Position, natural bool) error {
	if q == nil {
		e.unload(ctx, false)
		return nil
	}

	song := q.Current()
	if cur := e.current; cur != nil && cur.queue.Current().ID == song.ID {
		cur.queue = q
		e.seekCurrent(ctx, pos, natural)
		return nil
	}

	source, err := e.opts.OpenSource(song.Path)
	if err != nil {
		if !natural {
			e.unload(ctx, false)
		}
		return &SourceOpenError{Path: song.Path, Err: err}
	}
	format := source.Format()

	songCtx, cancel := context.WithCancel(ctx)
	buffer := chunkbuffer.New(source, e.opts.ChunkSize)
	stream := seekable.New(buffer.NewReader(), format)

	var older *output.Player
	if e.current != nil {
		older = e.current.player
	}
	player, err := output.NewPlayer(ctx, stream, older, !natural, e.opts.OpenSink)
	if err != nil {
		cancel()
		source.Close()
		return &DeviceOpenError{Path: song.Path, Format: format, Err: err}
	}

	if e.current != nil {
		e.current.cancel()
	}

	go func() {
		defer source.Close()
		if err := buffer.BufferAll(songCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Buffering failed", "file", filepath.Base(song.Path), "error", err)
		}
	}()

	builder := waveform.New(e.opts.Waveform, seekable.New(buffer.NewReader(), format), source.Length())
	go func() {
		if err := builder.Run(songCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Waveform failed", "file", filepath.Base(song.Path), "error", err)
		}
	}()

	player.SetLevel(e.level)
	if e.paused {
		if err := player.Pause(); err != nil {
			slog.Warn("Failed to pause output", "error", err)
		}
	} else if err := player.Resume(); err != nil {
		slog.Warn("Failed to resume output", "error", err)
	}

	e.current = &currentlyPlaying{
		id:       uuid.New(),
		queue:    q,
		source:   source,
		player:   player,
		waveform: builder,
		cancel:   cancel,
	}
	slog.Info("Song loaded",
		"file", filepath.Base(song.Path),
		"position", q.Position(),
		"format", format.String(),
		"length", source.Length())

	if pos.Kind == Specific && pos.At > 0 {
		e.seekCurrent(ctx, pos, natural)
	}
	return nil
}

func (e *Engine) seekCurrent(ctx context.Context, pos Position, natural bool) {
	player := e.current.player

	var err error
	switch pos.Kind {
	case Current:
		return
	case Beginning:
		if natural {
			err = player.Rewind(ctx, 0)
		} else {
			err = player.Seek(ctx, 0)
		}
	case Specific:
		err = player.Seek(ctx, pos.At)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("Seek failed", "position", pos.String(), "error", err)
	}
}

// unload stops the loaded song and releases the device. With drain the
// queued audio plays out first.
func (e *Engine) unload(ctx context.Context, drain bool) {
	cur := e.current
	if cur == nil {
		return
	}
	e.current = nil
	cur.player.Retire(ctx, !drain)
	cur.cancel()
}

// publish snapshots the engine state. Every call takes a fresh event id.
func (e *Engine) publish() {
	st := State{
		Paused:  e.paused,
		Seeking: e.seeking,
		Level:   e.level,
	}
	status := types.PlaybackStatus{Level: e.level, Paused: e.paused}

	if cur := e.current; cur != nil {
		snap, _ := cur.waveform.Snapshots().Load()
		song := cur.queue.Current()
		format := cur.player.Format()

		st.Position = cur.player.Position()
		st.Now = &NowPlaying{
			ID:       cur.id,
			Queue:    cur.queue,
			Song:     song,
			Format:   format,
			Length:   cur.source.Length(),
			Waveform: snap,
		}

		decoded, finished := cur.player.Stream().Decoded()
		status.FileName = filepath.Base(song.Path)
		status.SampleRate = format.SampleRate
		status.Channels = format.Channels
		status.BitsPerSample = format.BitsPerSample
		status.Position = st.Position
		status.Length = st.Now.Length
		status.QueuedFrames = cur.player.Device().Pending()
		status.DecodedPercent = decodedPercent(decoded, finished, format.Frames(st.Now.Length))
	}

	st.Event = e.clock.Add(1)
	e.states.Set(st)

	e.statusMu.Lock()
	e.status = status
	e.statusMu.Unlock()
}

func decodedPercent(decoded int64, finished bool, total int64) float64 {
	switch {
	case finished:
		return 100
	case total <= 0:
		return 0
	}
	return min(100, float64(decoded)*100/float64(total))
}

// GetPlaybackStatus implements types.PlaybackMonitor.
func (e *Engine) GetPlaybackStatus() types.PlaybackStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}
