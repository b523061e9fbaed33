// Package inbox is the FIFO queue of batches awaiting evaluation, and the
// evaluation worker's dispatch loop source (spec §4.5).
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/runtime's
// channel-plus-broadcast idiom for the worker pool (kept as a plain slice
// + condition variable here since the spec's FIFO needs a peekable,
// drainable queue rather than a channel's one-shot receive).
package inbox

import (
	"sync"
	"time"
)

// Inbox is a thread-safe FIFO queue with blocking and non-blocking
// dequeue modes.
type Inbox[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	stopped bool
	wakeGen uint64
}

func New[T any]() *Inbox[T] {
	b := &Inbox[T]{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Put enqueues an item and wakes one waiter.
func (b *Inbox[T]) Put(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
	b.cond.Signal()
}

// Next is the non-blocking dequeue: returns immediately, ok=false when
// empty (spec §8 "FIFO inbox" property).
func (b *Inbox[T]) Next() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return item, false
	}
	item, b.items = b.items[0], b.items[1:]
	return item, true
}

// Get blocks until an item is available, timeout elapses, stop is
// closed, or Stop is called. timeout=0 is the non-blocking case (spec
// §8 "FIFO inbox": "Get(timeout=0) on empty returns nothing and does not
// block") and behaves exactly like Next(). A nil stop channel means "no
// external stop signal".
func (b *Inbox[T]) Get(timeout time.Duration, stop <-chan struct{}) (item T, ok bool) {
	if timeout == 0 {
		return b.Next()
	}
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	var timedOut, stoppedExternally bool
	go func() {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
			b.mu.Lock()
			timedOut = true
			b.mu.Unlock()
			b.cond.Broadcast()
		case <-stop:
			b.mu.Lock()
			stoppedExternally = true
			b.mu.Unlock()
			b.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	b.mu.Lock()
	defer b.mu.Unlock()
	startGen := b.wakeGen
	for len(b.items) == 0 && !b.stopped && !stoppedExternally && !timedOut && b.wakeGen == startGen {
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return item, false
	}
	item, b.items = b.items[0], b.items[1:]
	return item, true
}

// Wake releases all waiters without enqueueing anything (spec §4.5).
func (b *Inbox[T]) Wake() {
	b.mu.Lock()
	b.wakeGen++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Stop permanently wakes all current and future waiters: Get no longer
// blocks, returning ok=false once the queue is empty (items already
// queued are still returned).
func (b *Inbox[T]) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
