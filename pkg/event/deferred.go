package event

import (
	"context"
	"sync"
)

type queued struct {
	ev   Event
	done chan struct{}
}

// deferredQueue is an unbounded FIFO drained by a single goroutine, so
// deferred events keep their emission order.
type deferredQueue struct {
	mu      sync.Mutex
	items   []queued
	started bool
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newDeferredQueue() deferredQueue {
	return deferredQueue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (q *deferredQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.ev != nil {
			n++
		}
	}
	return n
}

// Emit queues e for dispatch on the bus dispatcher goroutine and returns
// immediately. Deferred events are delivered in the order they were emitted,
// each one after any dispatch already running has finished.
func (b *Bus) Emit(e Event) {
	if e == nil || b.Destroyed() {
		return
	}
	b.enqueue(queued{ev: e})
}

// Flush blocks until every event queued by Emit before the call has been
// dispatched, or ctx is done. Called from a handler it returns
// ErrFlushInHandler.
func (b *Bus) Flush(ctx context.Context) error {
	if b.dispatching.held() {
		return ErrFlushInHandler
	}
	q := &b.deferred
	q.mu.Lock()
	idle := !q.started || q.stopped
	q.mu.Unlock()
	if idle {
		return nil
	}

	done := make(chan struct{})
	if !b.enqueue(queued{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) enqueue(item queued) bool {
	q := &b.deferred
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	if !q.started {
		q.started = true
		go b.runDeferred()
	}
	q.items = append(q.items, item)
	pending := len(q.items)
	q.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Deferred.Set(float64(pending))
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *Bus) runDeferred() {
	q := &b.deferred
	defer close(q.done)

	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.stopped || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			item := q.items[0]
			q.items[0] = queued{}
			q.items = q.items[1:]
			pending := len(q.items)
			q.mu.Unlock()

			if b.metrics != nil {
				b.metrics.Deferred.Set(float64(pending))
			}
			if item.ev != nil {
				b.dispatch(item.ev, "deferred", nil)
			}
			if item.done != nil {
				close(item.done)
			}
		}
	}
}

// stopDeferred stops the dispatcher and releases any waiting Flush calls.
// It returns the number of events that were dropped.
func (b *Bus) stopDeferred() int {
	q := &b.deferred
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0
	}
	q.stopped = true
	started := q.started
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	if started {
		close(q.stop)
		// From inside a handler the dispatcher may be waiting for this
		// cascade; it exits on its own once the cascade returns.
		if !b.dispatching.held() {
			<-q.done
		}
	}

	dropped := 0
	for _, it := range pending {
		if it.ev != nil {
			dropped++
		}
		if it.done != nil {
			close(it.done)
		}
	}
	if b.metrics != nil {
		b.metrics.Deferred.Set(0)
	}
	return dropped
}
