// Package conflate provides a single-slot, last-value-wins publication
// primitive.
//
// A Value holds the most recently published item together with a version
// counter. Publishing never blocks: a new item replaces any item that no
// consumer has looked at yet. Consumers remember the version they last saw
// and wait for a newer one, so a slow consumer skips intermediate items
// instead of backing up the producer.
//
// Example:
//
//	v := conflate.New[int]()
//	go func() {
//	    for i := range 100 {
//	        v.Set(i)
//	    }
//	    v.Close()
//	}()
//
//	var seen uint64
//	for {
//	    item, ver, err := v.Next(ctx, seen)
//	    if err != nil {
//	        break // conflate.ErrClosed or ctx error
//	    }
//	    seen = ver
//	    process(item)
//	}
package conflate

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the Value has been closed and the
// caller has already seen the final item.
var ErrClosed = errors.New("conflate: value closed")

// Value is a last-value-wins slot safe for one or more publishers and any
// number of consumers.
type Value[T any] struct {
	mu      sync.Mutex
	item    T
	version uint64
	closed  bool
	changed chan struct{} // closed and replaced on every Set
}

// New creates an empty Value. Load on an empty Value returns the zero item
// and version 0.
func New[T any]() *Value[T] {
	return &Value[T]{changed: make(chan struct{})}
}

// Set publishes item, replacing any item not yet consumed, and wakes every
// waiting consumer. Set after Close is ignored.
func (v *Value[T]) Set(item T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.item = item
	v.version++
	close(v.changed)
	v.changed = make(chan struct{})
}

// Load returns the latest item and its version without blocking.
func (v *Value[T]) Load() (T, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.item, v.version
}

// Next blocks until an item newer than version after is available and
// returns it. It returns ErrClosed once the Value is closed and no newer
// item exists, or the context error if ctx ends first.
func (v *Value[T]) Next(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		v.mu.Lock()
		item, version, closed, changed := v.item, v.version, v.closed, v.changed
		v.mu.Unlock()

		if version > after {
			return item, version, nil
		}
		if closed {
			var zero T
			return zero, version, ErrClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, version, ctx.Err()
		}
	}
}

// Close marks the Value finished. Consumers still receive the last item if
// they have not seen it; after that Next returns ErrClosed.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.changed)
}

// Closed reports whether Close has been called.
func (v *Value[T]) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
