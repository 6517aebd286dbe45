// Package batcher implements the Batcher (C4): a thread-safe MPSC queue with
// two states, alive and dead, supporting wake-on-enqueue and graceful
// shutdown, per spec.md §4.4. The backing store is
// github.com/emirpasic/gods/v2's doubly linked list rather than a
// hand-rolled slice, grounded in the teacher's go.mod carrying gods/v2 for
// its own ordered-container needs.
package batcher

import (
	"sync"

	"github.com/emirpasic/gods/v2/lists/doublylinkedlist"
)

// Batcher is a generic MPSC queue: many producers call Enq concurrently, one
// consumer calls Deq.
type Batcher[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *doublylinkedlist.List[T]
	alive bool
}

// New returns an alive, empty Batcher.
func New[T any]() *Batcher[T] {
	b := &Batcher[T]{
		items: doublylinkedlist.New[T](),
		alive: true,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Enq appends item and wakes the waiting consumer, if the batcher is alive.
// A dead batcher silently drops the item, per spec.md §4.4.
func (b *Batcher[T]) Enq(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.items.Add(item)
	b.cond.Signal()
}

// Deq blocks until the queue is non-empty or the batcher has been shut down,
// then atomically takes and returns every pending item (possibly empty, on
// shutdown).
func (b *Batcher[T]) Deq() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.items.Size() == 0 && b.alive {
		b.cond.Wait()
	}
	items := b.items.Values()
	b.items.Clear()
	return items
}

// Shutdown marks the batcher dead, clears pending items, and wakes every
// waiter. Deq called after Shutdown returns immediately (empty, since alive
// is now false).
func (b *Batcher[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alive = false
	b.items.Clear()
	b.cond.Broadcast()
}

// Poll returns and clears whatever is pending without blocking, even if
// empty. Used by a consumer that already has other work in flight and only
// wants to pick up newly arrived items rather than wait for them.
func (b *Batcher[T]) Poll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items.Values()
	b.items.Clear()
	return items
}

// Alive reports whether the batcher still accepts items.
func (b *Batcher[T]) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}
