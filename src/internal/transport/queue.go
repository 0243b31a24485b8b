// FILE: src/internal/transport/queue.go
package transport

import (
	"sync"
	"sync/atomic"

	"tapwire/src/internal/core"
)

// entryQueue is the bounded delivery buffer between Send and the
// process loop. When full, the oldest entry is dropped so the most
// recent diagnostics survive an outage.
type entryQueue struct {
	mu      sync.Mutex
	entries []core.Entry
	max     int
	notify  chan struct{}
	dropped atomic.Uint64
}

func newEntryQueue(max int) *entryQueue {
	if max <= 0 {
		max = 1000
	}
	return &entryQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

// Push appends an entry, evicting the oldest when the queue is full.
func (q *entryQueue) Push(e core.Entry) {
	q.mu.Lock()
	if len(q.entries) >= q.max {
		q.entries = q.entries[1:]
		q.dropped.Add(1)
	}
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PopBatch removes and returns up to n entries in arrival order.
func (q *entryQueue) PopBatch(n int) []core.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	batch := make([]core.Entry, n)
	copy(batch, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	return batch
}

func (q *entryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Wait returns the channel signaled after each Push.
func (q *entryQueue) Wait() <-chan struct{} {
	return q.notify
}

func (q *entryQueue) Dropped() uint64 {
	return q.dropped.Load()
}
