package event

import (
	"context"
	"sync"
)

// DefaultCapacity bounds how many undelivered events an emitter holds.
const DefaultCapacity = 1000

// Emitter is a bounded, ordered, multi-producer/single-consumer channel of
// events. Producers never block: when the queue is full, the oldest unread
// events are discarded and replaced by a single CHANNEL_OVERFLOW event
// carrying the drop count.
type Emitter struct {
	mu     sync.Mutex
	queue  []Event
	cap    int
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewEmitter creates an emitter holding at most capacity undelivered
// events. A capacity below 2 is raised to DefaultCapacity.
func NewEmitter(capacity int) *Emitter {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Emitter{
		cap:  capacity,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue appends an event for delivery. It never blocks. Returns false
// once the emitter has been closed.
func (e *Emitter) Enqueue(evt Event) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}

	if len(e.queue)+1 > e.cap {
		// Make room for the overflow marker plus the new event,
		// folding any previous marker into the new drop count.
		dropped := 0
		for len(e.queue) > e.cap-2 {
			old := e.queue[0]
			e.queue = e.queue[1:]
			if ov, ok := old.Payload.(Overflow); ok {
				dropped += ov.Dropped
			} else {
				dropped++
			}
		}
		// The dropped events may span accounts on a fan-in emitter, so
		// the marker carries no account id.
		marker := New(KindChannelOverflow, 0, Overflow{Dropped: dropped})
		e.queue = append([]Event{marker}, e.queue...)
	}
	e.queue = append(e.queue, evt)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an event is available, the emitter is closed, or ctx
// is cancelled. After Close it returns ok=false immediately and forever;
// events still queued at close time are discarded.
func (e *Emitter) Next(ctx context.Context) (Event, bool) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return Event{}, false
		}
		if len(e.queue) > 0 {
			evt := e.queue[0]
			e.queue = e.queue[1:]
			more := len(e.queue) > 0
			e.mu.Unlock()
			if more {
				select {
				case e.wake <- struct{}{}:
				default:
				}
			}
			return evt, true
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.done:
			return Event{}, false
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// TryNext returns the next queued event without blocking.
func (e *Emitter) TryNext() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.queue) == 0 {
		return Event{}, false
	}
	evt := e.queue[0]
	e.queue = e.queue[1:]
	return evt, true
}

// Len returns the number of undelivered events.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close tears the emitter down. Idempotent; safe to call concurrently
// with producers and the consumer.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	close(e.done)
	e.mu.Unlock()
}
