package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hypermark/nostr"
)

// flakyQueue fails the first n Enqueue calls, or every call when n < 0.
type flakyQueue struct {
	*MemoryQueue

	mu    gosync.Mutex
	fail  int
	calls int
}

func newFlakyQueue(fail int) *flakyQueue {
	return &flakyQueue{MemoryQueue: NewMemoryQueue(), fail: fail}
}

func (q *flakyQueue) Enqueue(d nostr.Draft) error {
	q.mu.Lock()
	q.calls++
	failing := q.fail != 0
	if q.fail > 0 {
		q.fail--
	}
	q.mu.Unlock()
	if failing {
		return fmt.Errorf("disk full")
	}
	return q.MemoryQueue.Enqueue(d)
}

func (q *flakyQueue) enqueueCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// blockingQueue holds every Enqueue until release is closed, then fails it.
type blockingQueue struct {
	*MemoryQueue
	entered chan struct{}
	release chan struct{}
}

func (q *blockingQueue) Enqueue(nostr.Draft) error {
	q.entered <- struct{}{}
	<-q.release
	return fmt.Errorf("disk full")
}

func (c *Coordinator) timerArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func TestFailedFlushRetriesOnNextWindow(t *testing.T) {
	q := newFlakyQueue(1)
	opts := testOptions(t)
	opts.Debounce = 20 * time.Millisecond
	opts.Queue = q
	c := newDevice(t, opts)
	require.NoError(t, c.Initialize(context.Background(), testSecret(0x42)))

	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://a.com"})

	// first window fails, the second one publishes with no further calls
	require.Eventually(t, func() bool {
		return c.QueueLen() == 1 && c.PendingCount() == 0
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, q.enqueueCalls())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, q.enqueueCalls(), "a successful retry schedules nothing more")
	assert.False(t, c.timerArmed())
}

func TestFailedFlushArmsOneTimer(t *testing.T) {
	q := newFlakyQueue(-1)
	opts := testOptions(t)
	opts.Debounce = time.Hour
	opts.Queue = q
	c := newDevice(t, opts)
	require.NoError(t, c.Initialize(context.Background(), testSecret(0x42)))

	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://a.com"})
	c.Flush(context.Background())

	assert.Equal(t, 1, c.PendingCount())
	assert.Equal(t, 1, q.enqueueCalls())
	assert.True(t, c.timerArmed())
}

func TestUninitializedFlushPublishesAfterInitialize(t *testing.T) {
	opts := testOptions(t)
	opts.Debounce = 20 * time.Millisecond
	c := newDevice(t, opts)

	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://a.com"})
	c.Flush(context.Background())
	require.Equal(t, 1, c.PendingCount())
	require.True(t, c.timerArmed())

	require.NoError(t, c.Initialize(context.Background(), testSecret(0x42)))
	require.Eventually(t, func() bool {
		return c.PendingCount() == 0 && c.QueueLen() == 1
	}, waitFor, 5*time.Millisecond)
}

func TestShutdownDropsFailedUpdates(t *testing.T) {
	q := newFlakyQueue(-1)
	opts := testOptions(t)
	opts.Debounce = time.Hour
	opts.Queue = q
	c := newDevice(t, opts)
	require.NoError(t, c.Initialize(context.Background(), testSecret(0x42)))

	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://a.com"})
	c.Disconnect(context.Background())

	assert.Equal(t, 1, q.enqueueCalls())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 0, c.QueueLen())
	assert.False(t, c.timerArmed())
}

func TestNewerValueWinsOverFailedRetry(t *testing.T) {
	q := &blockingQueue{
		MemoryQueue: NewMemoryQueue(),
		entered:     make(chan struct{}, 4),
		release:     make(chan struct{}),
	}
	opts := testOptions(t)
	opts.Debounce = time.Hour
	opts.Queue = q
	c := newDevice(t, opts)
	require.NoError(t, c.Initialize(context.Background(), testSecret(0x42)))

	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://old.com"})
	flushed := make(chan struct{})
	go func() {
		c.Flush(context.Background())
		close(flushed)
	}()

	<-q.entered
	c.QueueBookmarkUpdate("bm-1", Bookmark{URL: "https://newer.com"})
	close(q.release)
	<-flushed

	got, ok := c.Pending("bm-1")
	require.True(t, ok)
	assert.Equal(t, "https://newer.com", got.URL)
	assert.Equal(t, 1, c.PendingCount())
	assert.True(t, c.timerArmed())
}
