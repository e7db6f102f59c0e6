// Package chunkbuffer decodes an audio byte stream exactly once and lets
// any number of independent readers consume it at their own pace.
//
// One producer goroutine (BufferAll) reads the source sequentially into an
// append-only list of immutable chunks and publishes every grown view of
// that list through a conflated slot. Readers keep a private cursor into the
// list; repositioning a reader never touches the shared data, and a slow
// reader never holds up the producer.
//
//	Source ──BufferAll──▶ [chunk][chunk][chunk]...   (append-only)
//	                         ▲          ▲
//	                      Reader A   Reader B        (private cursors)
package chunkbuffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/drgolem/musicengine/pkg/conflate"
)

// DefaultChunkSize is the number of bytes requested from the source per
// chunk when New is given a non-positive size.
const DefaultChunkSize = 64 * 1024

// Chunk is an immutable view over a slice of decoded PCM bytes.
type Chunk struct {
	data []byte
}

// Bytes returns the chunk contents. Callers must not modify the result.
func (c Chunk) Bytes() []byte { return c.data }

// Len returns the chunk size in bytes.
func (c Chunk) Len() int { return len(c.data) }

// State is an immutable snapshot of the buffer: the chunks appended so far
// and whether the producer is done. A later State always extends an
// earlier one.
type State struct {
	Chunks   []Chunk
	Size     int64 // total bytes across Chunks
	Finished bool  // no more chunks will ever be appended
	Err      error // why buffering stopped early, nil on a clean end of stream
}

// Buffer owns the producer side of a chunk list.
type Buffer struct {
	src       io.Reader
	chunkSize int
	state     *conflate.Value[State]

	// producer-owned; readers only see published headers
	chunks []Chunk
	size   int64
}

// New creates a Buffer over src. Nothing is read until BufferAll runs.
func New(src io.Reader, chunkSize int) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{
		src:       src,
		chunkSize: chunkSize,
		state:     conflate.New[State](),
	}
}

// NewReader returns a reader positioned at the start of the buffer.
func (b *Buffer) NewReader() *Reader {
	st, ver := b.state.Load()
	return &Reader{buf: b, state: st, version: ver}
}

// State returns the most recently published snapshot.
func (b *Buffer) State() State {
	st, _ := b.state.Load()
	return st
}

// BufferAll runs the producer loop until the source is exhausted, the
// source fails, or ctx is cancelled. The buffer is marked finished in every
// case so readers never wait forever.
//
// A source error other than io.EOF is treated as end of stream: it is
// logged, recorded in State.Err and BufferAll returns nil. Cancellation
// returns the context error.
func (b *Buffer) BufferAll(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			b.finish(err)
			return err
		}

		p := make([]byte, b.chunkSize)
		n, err := io.ReadFull(b.src, p)
		if n > 0 {
			b.append(Chunk{data: p[:n:n]})
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			slog.Debug("Buffering finished", "bytes", b.size, "chunks", len(b.chunks))
			b.finish(nil)
			return nil
		default:
			slog.Warn("Decode error, treating as end of stream",
				"bytes", b.size,
				"error", err)
			b.finish(fmt.Errorf("decode: %w", err))
			return nil
		}
	}
}

func (b *Buffer) append(c Chunk) {
	b.chunks = append(b.chunks, c)
	b.size += int64(c.Len())
	b.state.Set(State{Chunks: b.chunks, Size: b.size})
}

func (b *Buffer) finish(err error) {
	b.state.Set(State{Chunks: b.chunks, Size: b.size, Finished: true, Err: err})
}

// Reader is a private cursor over a Buffer. A Reader must be used by one
// goroutine at a time; different Readers may be used concurrently.
type Reader struct {
	buf     *Buffer
	state   State
	version uint64

	index  int   // chunk index
	offset int   // byte offset within chunk
	pos    int64 // absolute byte position
}

// Read returns up to max bytes from the current position, waiting for the
// producer if the reader has caught up with an unfinished buffer. The
// returned slice is a view into an immutable chunk and must not be
// modified. Read returns io.EOF once the position is past the end of a
// finished buffer, or the context error if buffering was cancelled.
func (r *Reader) Read(ctx context.Context, max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	for {
		if r.index < len(r.state.Chunks) {
			c := r.state.Chunks[r.index].data
			n := min(max, len(c)-r.offset)
			out := c[r.offset : r.offset+n]
			r.advance(n, len(c))
			return out, nil
		}
		if r.state.Finished {
			return nil, r.endErr()
		}
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Skip moves the cursor forward by n bytes without returning data, waiting
// for the producer as needed. It returns the number of bytes skipped, which
// is less than n only together with io.EOF or a context error.
func (r *Reader) Skip(ctx context.Context, n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		if r.index < len(r.state.Chunks) {
			size := r.state.Chunks[r.index].Len()
			step := min(n-skipped, int64(size-r.offset))
			r.advance(int(step), size)
			skipped += step
			continue
		}
		if r.state.Finished {
			return skipped, r.endErr()
		}
		if err := r.wait(ctx); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// Reset rewinds the cursor to the start of the buffer.
func (r *Reader) Reset() {
	r.index = 0
	r.offset = 0
	r.pos = 0
}

// Position returns the number of bytes between the start of the buffer and
// the cursor.
func (r *Reader) Position() int64 {
	return r.pos
}

// Buffered returns the latest snapshot this reader has observed.
func (r *Reader) Buffered() State {
	return r.state
}

func (r *Reader) advance(n, chunkLen int) {
	r.offset += n
	r.pos += int64(n)
	if r.offset == chunkLen {
		r.index++
		r.offset = 0
	}
}

// endErr is returned at the end of a finished buffer. A cancelled buffer
// was never completely read, so it does not end with io.EOF.
func (r *Reader) endErr() error {
	if errors.Is(r.state.Err, context.Canceled) || errors.Is(r.state.Err, context.DeadlineExceeded) {
		return r.state.Err
	}
	return io.EOF
}

func (r *Reader) wait(ctx context.Context) error {
	st, ver, err := r.buf.state.Next(ctx, r.version)
	if err != nil {
		return err
	}
	r.state = st
	r.version = ver
	return nil
}
