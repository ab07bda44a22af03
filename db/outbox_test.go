package db_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hypermark/db"
	qntxtest "github.com/teranos/hypermark/internal/testing"
	"github.com/teranos/hypermark/nostr"
)

func TestOutboxFIFO(t *testing.T) {
	store := db.NewOutboxStore(qntxtest.CreateTestDB(t), zaptest.NewLogger(t).Sugar())

	drafts := []nostr.Draft{
		{Kind: nostr.KindBookmarkState, Tags: nostr.Tags{{"d", "bm-1"}, {"app", "hypermark"}}, Content: "AAAA:BBBB", CreatedAt: 1700000000},
		{Kind: nostr.KindDelete, Tags: nostr.Tags{{"a", "30053:pk:bm-1"}}, CreatedAt: 1700000001},
		{Kind: nostr.KindTextNote, Content: "note", CreatedAt: 1700000002},
	}
	for _, d := range drafts {
		require.NoError(t, store.Enqueue(d))
	}

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.TakeAll()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, drafts[0], got[0])
	assert.Equal(t, drafts[1], got[1])
	assert.Equal(t, nostr.Tags{}, got[2].Tags)
	assert.Equal(t, "note", got[2].Content)

	n, err = store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	empty, err := store.TakeAll()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOutboxSkipsCorruptRow(t *testing.T) {
	conn := qntxtest.CreateTestDB(t)
	store := db.NewOutboxStore(conn, nil)

	_, err := conn.Exec("INSERT INTO outbox (kind, tags, content, created_at) VALUES (1, 'not json', '', 1)")
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(nostr.Draft{Kind: 1, Content: "ok", CreatedAt: 2}))

	got, err := store.TakeAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Content)

	n, _ := store.Len()
	assert.Equal(t, 0, n)
}

func TestOutboxEnqueueError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO outbox").WillReturnError(assert.AnError)

	store := db.NewOutboxStore(conn, nil)
	err = store.Enqueue(nostr.Draft{Kind: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert outbox entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxTakeAllRollsBackOnDeleteFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, kind, tags, content, created_at FROM outbox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "tags", "content", "created_at"}).
			AddRow(1, 1, `[]`, "a", 10).
			AddRow(2, 1, `[]`, "b", 11))
	mock.ExpectExec("DELETE FROM outbox").WithArgs(2).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := db.NewOutboxStore(conn, nil)
	got, err := store.TakeAll()
	require.Error(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxLenError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(assert.AnError)

	_, err = db.NewOutboxStore(conn, nil).Len()
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClosedDatabase(t *testing.T) {
	conn := qntxtest.CreateTestDB(t)
	store := db.NewOutboxStore(conn, nil)
	conn.Close()

	err := store.Enqueue(nostr.Draft{Kind: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrDatabaseClosed)

	_, err = store.Len()
	assert.True(t, db.IsDatabaseClosed(err))
}
