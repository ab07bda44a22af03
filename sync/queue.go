package sync

import (
	gosync "sync"

	"github.com/teranos/hypermark/nostr"
)

// QueueStore holds drafts published while no relay was connected. Entries
// are unsigned; they are signed with the current identity when drained.
type QueueStore interface {
	// Enqueue appends d at the tail.
	Enqueue(d nostr.Draft) error
	// TakeAll atomically removes and returns every entry in FIFO order.
	TakeAll() ([]nostr.Draft, error)
	// Len returns the number of queued entries.
	Len() (int, error)
}

// MemoryQueue is the default in-process QueueStore.
type MemoryQueue struct {
	mu     gosync.Mutex
	drafts []nostr.Draft
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(d nostr.Draft) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d.Tags = d.Tags.Clone()
	q.drafts = append(q.drafts, d)
	return nil
}

func (q *MemoryQueue) TakeAll() ([]nostr.Draft, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.drafts
	q.drafts = nil
	return out, nil
}

func (q *MemoryQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.drafts), nil
}
