// Package devrelay is a small in-process store-and-forward relay for tests
// and local development. It keeps the latest event per replaceable slot,
// honours kind-5 address deletions, answers REQ with stored matches then
// EOSE, and fans new events out to every matching live subscription.
package devrelay

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

// Relay implements http.Handler; mount it on an httptest.Server or a real
// http.Server.
type Relay struct {
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	events  map[string]nostr.Event // by id
	slots   map[string]string      // replaceable address -> event id
	clients map[*client]struct{}
	tamper  func(ev *nostr.Event)
	verify  bool
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string][]nostr.Filter
}

func (c *client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// New creates an empty relay that rejects events with bad signatures.
func New(log *zap.SugaredLogger) *Relay {
	return &Relay{
		logger: logger.OrNop(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		events:  make(map[string]nostr.Event),
		slots:   make(map[string]string),
		clients: make(map[*client]struct{}),
		verify:  true,
	}
}

// SetTamper installs fn to mutate every event copy just before it is sent
// to a subscriber. Stored events are unaffected.
func (r *Relay) SetTamper(fn func(ev *nostr.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tamper = fn
}

// SetVerify toggles signature checking on ingest.
func (r *Relay) SetVerify(verify bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verify = verify
}

// Events returns the stored events ordered by created_at then id.
func (r *Relay) Events() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// Inject stores ev and forwards it to subscribers without verification.
func (r *Relay) Inject(ev nostr.Event) {
	r.store(ev)
}

// ClientCount returns the number of open client sockets.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// DropClients closes every client socket, simulating a relay restart.
func (r *Relay) DropClients() {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warnw("Relay upgrade failed", logger.FieldError, err)
		return
	}

	c := &client{conn: conn, subs: make(map[string][]nostr.Filter)}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.handle(c, data)
	}
}

func (r *Relay) handle(c *client, data []byte) {
	msg, err := nostr.ParseClientMessage(data)
	if err != nil {
		_ = c.send(nostr.NoticeMessage("invalid: " + err.Error()))
		return
	}

	switch msg.Type {
	case nostr.MsgEvent:
		r.handleEvent(c, msg.Event)
	case nostr.MsgReq:
		r.handleReq(c, msg.SubscriptionID, msg.Filters)
	case nostr.MsgClose:
		r.mu.Lock()
		delete(c.subs, msg.SubscriptionID)
		r.mu.Unlock()
	default:
		_ = c.send(nostr.NoticeMessage("unknown message type " + string(msg.Type)))
	}
}

func (r *Relay) handleEvent(c *client, raw json.RawMessage) {
	var ev nostr.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		_ = c.send(nostr.NoticeMessage("invalid: event is not an object"))
		return
	}

	r.mu.Lock()
	verify := r.verify
	r.mu.Unlock()

	if verify && !nostr.Verify(&ev) {
		_ = c.send(nostr.OKMessage(ev.ID, false, "invalid: bad signature"))
		return
	}

	r.store(ev)
	_ = c.send(nostr.OKMessage(ev.ID, true, ""))
}

// store applies replaceable and deletion semantics, then fans out.
func (r *Relay) store(ev nostr.Event) {
	r.mu.Lock()
	if _, dup := r.events[ev.ID]; dup {
		r.mu.Unlock()
		return
	}

	if ev.Kind >= 30000 && ev.Kind < 40000 {
		addr := nostr.Address{Kind: ev.Kind, PubKey: ev.PubKey, D: ev.Tags.Value(nostr.TagD)}.String()
		if prevID, ok := r.slots[addr]; ok {
			prev := r.events[prevID]
			if prev.CreatedAt > ev.CreatedAt {
				// older replacement loses; store nothing
				r.mu.Unlock()
				return
			}
			delete(r.events, prevID)
		}
		r.slots[addr] = ev.ID
	}

	if ev.Kind == nostr.KindDelete {
		for _, a := range ev.Tags.All(nostr.TagAddress) {
			addr, ok := nostr.ParseAddress(a)
			if !ok || addr.PubKey != ev.PubKey {
				continue
			}
			key := addr.String()
			if id, ok := r.slots[key]; ok && r.events[id].CreatedAt <= ev.CreatedAt {
				delete(r.events, id)
				delete(r.slots, key)
			}
		}
	}

	r.events[ev.ID] = ev

	type delivery struct {
		c     *client
		subID string
	}
	var targets []delivery
	for c := range r.clients {
		for subID, filters := range c.subs {
			if nostr.MatchesAny(filters, &ev) {
				targets = append(targets, delivery{c, subID})
			}
		}
	}
	tamper := r.tamper
	r.mu.Unlock()

	for _, d := range targets {
		out := r.outbound(ev, tamper)
		if err := d.c.send(nostr.SubEventMessage(d.subID, out)); err != nil {
			r.logger.Debugw("Relay delivery failed", logger.FieldSubscription, d.subID, logger.FieldError, err)
		}
	}
}

func (r *Relay) handleReq(c *client, subID string, filters []nostr.Filter) {
	r.mu.Lock()
	c.subs[subID] = filters
	stored := r.sortedLocked()
	tamper := r.tamper
	r.mu.Unlock()

	matched := make([]nostr.Event, 0)
	for _, f := range filters {
		var hits []nostr.Event
		for i := range stored {
			if f.Matches(&stored[i]) {
				hits = append(hits, stored[i])
			}
		}
		// limit keeps the newest matches
		if f.Limit > 0 && len(hits) > f.Limit {
			hits = hits[len(hits)-f.Limit:]
		}
		matched = append(matched, hits...)
	}

	seen := make(map[string]bool, len(matched))
	for _, ev := range matched {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		if err := c.send(nostr.SubEventMessage(subID, r.outbound(ev, tamper))); err != nil {
			return
		}
	}
	_ = c.send(nostr.EOSEMessage(subID))
}

func (r *Relay) outbound(ev nostr.Event, tamper func(*nostr.Event)) nostr.Event {
	ev.Tags = ev.Tags.Clone()
	if tamper != nil {
		tamper(&ev)
	}
	return ev
}

func (r *Relay) sortedLocked() []nostr.Event {
	out := make([]nostr.Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
