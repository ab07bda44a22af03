package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

// TypeBookmark is the t tag value of bookmark state events.
const TypeBookmark = "bookmark"

// Bookmark is the plaintext payload of a bookmark state event.
type Bookmark struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ReadLater   bool     `json:"readLater,omitempty"`
	CreatedAt   int64    `json:"createdAt,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
}

// UpdateFunc receives a decrypted bookmark state.
type UpdateFunc func(id string, b Bookmark)

// DeleteFunc receives the id of a tombstoned bookmark.
type DeleteFunc func(id string)

// QueueBookmarkUpdate records data as the latest pending state of id,
// replacing any earlier pending state, and restarts the single debounce
// timer shared by all pending bookmarks.
func (c *Coordinator) QueueBookmarkUpdate(id string, data Bookmark) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[id] = pendingUpdate{data: data, at: c.opts.Now()}
	c.resetTimerLocked()

	c.logger.Debugw("Bookmark update pending",
		logger.FieldBookmark, id,
		logger.FieldPending, len(c.pending),
	)
}

func (c *Coordinator) resetTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.Debounce, func() {
		c.flush(context.Background())
	})
}

// Pending returns the pending state for id, if any.
func (c *Coordinator) Pending(id string) (Bookmark, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	return p.data, ok
}

// PendingCount returns the number of bookmarks awaiting flush.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush publishes every pending update now.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.flush(ctx)
}

// flush snapshots and clears the pending map, then publishes one state event
// per entry. Failed entries go back into pending and ride the next debounce
// window unless a shutdown is in progress; a newer pending value for the
// same id wins over the failed one.
func (c *Coordinator) flush(ctx context.Context) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	snapshot := c.pending
	c.pending = make(map[string]pendingUpdate)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	failed := make(map[string]pendingUpdate)
	for _, id := range sortedKeys(snapshot) {
		if _, err := c.PublishBookmarkState(ctx, id, snapshot[id].data); err != nil {
			c.logger.Warnw("Failed to publish bookmark state",
				logger.FieldBookmark, id,
				logger.FieldError, err,
			)
			failed[id] = snapshot[id]
		}
	}
	if len(failed) == 0 {
		c.logger.Debugw("Flushed pending bookmark updates", logger.FieldCount, len(snapshot))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown {
		c.logger.Errorw("Dropping unpublished bookmark updates on shutdown", logger.FieldCount, len(failed))
		return
	}
	for id, p := range failed {
		if _, newer := c.pending[id]; !newer {
			c.pending[id] = p
		}
	}
	if c.timer == nil {
		c.resetTimerLocked()
	}
}

// PublishBookmarkState encrypts data and publishes it as the replaceable
// state of bookmark id. A (nil, nil) return means the event was queued.
func (c *Coordinator) PublishBookmarkState(ctx context.Context, id string, data Bookmark) (*nostr.Event, error) {
	secret, err := c.currentSecret()
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode bookmark %s", id)
	}
	content, err := Encrypt(secret, plaintext)
	if err != nil {
		c.logger.Errorw("Failed to encrypt bookmark", logger.FieldBookmark, id, logger.FieldError, err)
		return nil, err
	}

	tags := nostr.Tags{
		{nostr.TagD, id},
		{nostr.TagApp, c.opts.App},
		{nostr.TagVersion, ProtocolVersion},
		{nostr.TagType, TypeBookmark},
	}
	for _, t := range data.Tags {
		tags = append(tags, nostr.Tag{nostr.TagUser, t})
	}

	return c.Publish(ctx, nostr.Draft{Kind: nostr.KindBookmarkState, Tags: tags, Content: content})
}

// PublishBookmarkDeletion tombstones the replaceable slot of bookmark id and
// drops any pending update for it.
func (c *Coordinator) PublishBookmarkDeletion(ctx context.Context, id string) (*nostr.Event, error) {
	c.mu.Lock()
	pubkey := c.pubkey
	delete(c.pending, id)
	c.mu.Unlock()
	if pubkey == "" {
		return nil, ErrNotInitialized
	}

	addr := nostr.Address{Kind: nostr.KindBookmarkState, PubKey: pubkey, D: id}
	return c.Publish(ctx, nostr.Draft{
		Kind: nostr.KindDelete,
		Tags: nostr.Tags{
			{nostr.TagAddress, addr.String()},
			{nostr.TagApp, c.opts.App},
		},
	})
}

// BookmarkFilters returns the filters scoped to this identity's bookmark
// state and deletion events.
func (c *Coordinator) BookmarkFilters() ([]nostr.Filter, error) {
	pubkey := c.PublicKey()
	if pubkey == "" {
		return nil, ErrNotInitialized
	}
	return []nostr.Filter{{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindBookmarkState, nostr.KindDelete},
		Tags:    map[string][]string{nostr.TagApp: {c.opts.App}},
	}}, nil
}

// SubscribeToBookmarks installs a subscription for this identity's bookmark
// events, decrypts state payloads and dispatches to onUpdate or onDelete.
func (c *Coordinator) SubscribeToBookmarks(onUpdate UpdateFunc, onDelete DeleteFunc) (string, error) {
	filters, err := c.BookmarkFilters()
	if err != nil {
		return "", err
	}
	pubkey := c.PublicKey()

	return c.Subscribe(filters, func(ev nostr.Classified) {
		switch e := ev.(type) {
		case nostr.StateEvent:
			c.handleBookmarkState(e, onUpdate)
		case nostr.DeleteEvent:
			if onDelete == nil {
				return
			}
			for _, a := range e.Addresses {
				if a.Kind == nostr.KindBookmarkState && a.PubKey == pubkey {
					onDelete(a.D)
				}
			}
		}
	})
}

func (c *Coordinator) handleBookmarkState(e nostr.StateEvent, onUpdate UpdateFunc) {
	if onUpdate == nil || e.Content == "" {
		return
	}
	if e.Type != "" && e.Type != TypeBookmark {
		return
	}

	secret, err := c.currentSecret()
	if err != nil {
		return
	}
	plaintext, err := Decrypt(secret, e.Content)
	if err != nil {
		c.logger.Errorw("Failed to decrypt bookmark state",
			logger.FieldBookmark, e.D,
			logger.FieldEventID, logger.ShortID(e.ID),
			logger.FieldError, err,
		)
		return
	}

	var b Bookmark
	if err := json.Unmarshal(plaintext, &b); err != nil {
		c.logger.Warnw("Bookmark payload is not valid JSON",
			logger.FieldBookmark, e.D,
			logger.FieldError, err,
		)
		return
	}
	onUpdate(e.D, b)
}
