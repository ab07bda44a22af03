package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hypermark/db"
	"github.com/teranos/hypermark/nostr"
)

func TestDurableQueueSurvivesRestart(t *testing.T) {
	r, url := startRelay(t)
	dbPath := filepath.Join(t.TempDir(), "outbox.db")
	log := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	first, err := db.OpenWithMigrations(dbPath, log)
	require.NoError(t, err)

	opts := testOptions(t, url)
	opts.AutoConnect = false
	opts.Now = stepClock()
	opts.Queue = db.NewOutboxStore(first, log)
	c := newDevice(t, opts)
	require.NoError(t, c.Initialize(ctx, testSecret(0x42)))

	for _, content := range []string{"one", "two"} {
		ev, err := c.Publish(ctx, nostr.Draft{Kind: nostr.KindTextNote, Content: content})
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
	c.Close(ctx)
	require.NoError(t, first.Close())

	second, err := db.OpenWithMigrations(dbPath, log)
	require.NoError(t, err)
	defer second.Close()

	opts.Queue = db.NewOutboxStore(second, log)
	restarted := newDevice(t, opts)
	require.NoError(t, restarted.Initialize(ctx, testSecret(0x42)))
	assert.Equal(t, 2, restarted.QueueLen())

	restarted.ConnectToRelays(ctx)
	require.Eventually(t, func() bool { return len(r.Events()) == 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "one", r.Events()[0].Content)
	assert.Equal(t, 0, restarted.QueueLen())
}
