package db

import (
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

// OutboxStore persists queued drafts so they survive a restart. It
// satisfies sync.QueueStore.
type OutboxStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewOutboxStore wraps a migrated database.
func NewOutboxStore(db *sql.DB, log *zap.SugaredLogger) *OutboxStore {
	return &OutboxStore{db: db, logger: logger.OrNop(log)}
}

// Enqueue appends d.
func (s *OutboxStore) Enqueue(d nostr.Draft) error {
	tags := d.Tags
	if tags == nil {
		tags = nostr.Tags{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return errors.Wrap(err, "failed to encode draft tags")
	}
	if _, err := s.db.Exec(
		"INSERT INTO outbox (kind, tags, content, created_at) VALUES (?, ?, ?, ?)",
		d.Kind, string(encoded), d.Content, d.CreatedAt,
	); err != nil {
		return storeErr(err, "failed to insert outbox entry")
	}
	return nil
}

// TakeAll removes and returns every entry in insertion order within one
// transaction.
func (s *OutboxStore) TakeAll() ([]nostr.Draft, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err, "failed to begin outbox drain")
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id, kind, tags, content, created_at FROM outbox ORDER BY id")
	if err != nil {
		return nil, storeErr(err, "failed to read outbox")
	}

	var (
		drafts []nostr.Draft
		lastID int64
	)
	for rows.Next() {
		var (
			d    nostr.Draft
			tags string
		)
		if err := rows.Scan(&lastID, &d.Kind, &tags, &d.Content, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan outbox entry")
		}
		if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
			// a corrupt row would block the queue forever; skip it
			s.logger.Warnw("Dropping outbox entry with unreadable tags", "id", lastID, logger.FieldError, err)
			continue
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to iterate outbox")
	}
	rows.Close()

	if lastID == 0 {
		return nil, nil
	}
	if _, err := tx.Exec("DELETE FROM outbox WHERE id <= ?", lastID); err != nil {
		return nil, errors.Wrap(err, "failed to clear outbox")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit outbox drain")
	}
	return drafts, nil
}

// Len counts queued entries.
func (s *OutboxStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, storeErr(err, "failed to count outbox")
	}
	return n, nil
}
