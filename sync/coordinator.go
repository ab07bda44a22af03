// Package sync keeps bookmarks consistent across devices that share one
// symmetric secret. The Coordinator derives the shared Nostr identity,
// manages the relay pool, validates inbound traffic, queues publishes while
// offline and coalesces rapid local edits into one encrypted event per
// bookmark.
package sync

import (
	"context"
	"sort"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/identity"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/validate"
)

// ErrNotInitialized is returned by operations that need an identity before
// Initialize has succeeded.
var ErrNotInitialized = errors.New("sync coordinator not initialized")

// Defaults
const (
	DefaultDebounce   = 1500 * time.Millisecond
	DefaultDedupeSize = 4096
	ProtocolVersion   = "1"

	inboxSize = 256
)

// Options configures a Coordinator.
type Options struct {
	Relays      []string
	App         string
	Debounce    time.Duration
	AutoConnect bool
	Relay       relay.Config

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer relay.Dialer

	// Validation limits; App is forced to the coordinator's App.
	Validation validate.Options

	// SkipSignatureCheck treats every inbound event as trusted.
	SkipSignatureCheck bool

	Queue      QueueStore
	DedupeSize int
	KeyTTL     time.Duration
	Now        func() time.Time
	Logger     *zap.SugaredLogger
}

// DefaultOptions returns production defaults with no relays configured.
func DefaultOptions() Options {
	return Options{
		App:         validate.DefaultApp,
		Debounce:    DefaultDebounce,
		AutoConnect: true,
		Relay:       relay.DefaultConfig(),
		Validation:  validate.DefaultOptions(),
		DedupeSize:  DefaultDedupeSize,
		KeyTTL:      identity.DefaultCacheTTL,
		Now:         time.Now,
	}
}

// Handler receives validated inbound events for one subscription. Handlers
// run one at a time on the coordinator's dispatch goroutine.
type Handler func(ev nostr.Classified)

type subscription struct {
	id      string
	filters []nostr.Filter
	handler Handler
}

type inbound struct {
	relay string
	subID string
	event nostr.Classified
}

type pendingUpdate struct {
	data Bookmark
	at   time.Time
}

// Coordinator owns all sync state for one device. Shared maps are guarded
// by mu; inbound handlers are serialized on a single dispatch goroutine.
type Coordinator struct {
	opts      Options
	logger    *zap.SugaredLogger
	pool      *relay.Pool
	validator *validate.Validator
	keys      *identity.Cache
	queue     QueueStore
	seen      *lru.Cache[string, struct{}]

	inbox    chan inbound
	done     chan struct{}
	wg       gosync.WaitGroup
	closeOne gosync.Once

	// bulkConnect is set while ConnectToRelays runs so per-relay connect
	// callbacks leave queue draining to it.
	bulkConnect atomic.Bool
	drainMu     gosync.Mutex
	flushMu     gosync.Mutex

	mu           gosync.Mutex
	secret       identity.Secret
	pubkey       string
	subs         map[string]*subscription
	pending      map[string]pendingUpdate
	timer        *time.Timer
	shuttingDown bool
}

// New creates a Coordinator and starts its dispatch goroutine. Call Close
// to stop it.
func New(opts Options) (*Coordinator, error) {
	def := DefaultOptions()
	if opts.App == "" {
		opts.App = def.App
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = def.DedupeSize
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Queue == nil {
		opts.Queue = NewMemoryQueue()
	}
	opts.Validation.App = opts.App

	validator, err := validate.New(opts.Validation)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New[string, struct{}](opts.DedupeSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dedupe cache")
	}

	c := &Coordinator{
		opts:      opts,
		logger:    logger.OrNop(opts.Logger),
		validator: validator,
		keys:      identity.NewCache(opts.KeyTTL),
		queue:     opts.Queue,
		seen:      seen,
		inbox:     make(chan inbound, inboxSize),
		done:      make(chan struct{}),
		subs:      make(map[string]*subscription),
		pending:   make(map[string]pendingUpdate),
	}
	c.pool = relay.NewPool(opts.Relay, opts.Dialer, c.onRelayMessage, c.onRelayConnect, c.logger.Named("relay"))
	for _, u := range opts.Relays {
		c.pool.Add(u)
	}

	c.wg.Add(1)
	go c.dispatch()
	return c, nil
}

// Initialize derives the device identity from secret. It fails fast on a
// missing or unusable secret and connects to the configured relays when
// AutoConnect is set.
func (c *Coordinator) Initialize(ctx context.Context, secret identity.Secret) error {
	if secret == nil {
		return identity.ErrNoSecret
	}
	kp, err := c.keys.Keypair(secret)
	if err != nil {
		c.logger.Errorw("Failed to derive sync identity", logger.FieldError, err)
		return errors.Wrap(err, "failed to derive sync identity")
	}

	c.mu.Lock()
	c.secret = secret
	c.pubkey = kp.PublicKeyHex()
	c.shuttingDown = false
	c.mu.Unlock()

	c.logger.Infow("Sync identity ready",
		logger.FieldPubkey, logger.ShortID(kp.PublicKeyHex()),
		"npub", kp.Npub,
	)

	if c.opts.AutoConnect {
		c.ConnectToRelays(ctx)
	}
	return nil
}

// PublicKey returns the x-only public key hex, or "" before Initialize.
func (c *Coordinator) PublicKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pubkey
}

// Keypair returns the derived keypair.
func (c *Coordinator) Keypair() (identity.Keypair, error) {
	secret, err := c.currentSecret()
	if err != nil {
		return identity.Keypair{}, err
	}
	return c.keys.Keypair(secret)
}

func (c *Coordinator) currentSecret() (identity.Secret, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secret == nil {
		return nil, ErrNotInitialized
	}
	return c.secret, nil
}

// ConnectToRelays dials every configured relay concurrently, then drains the
// event queue in FIFO order. Individual relay failures are recorded in the
// results and never fail the call.
func (c *Coordinator) ConnectToRelays(ctx context.Context) []relay.Result {
	c.bulkConnect.Store(true)
	results := c.pool.ConnectAll(ctx)
	c.bulkConnect.Store(false)

	c.logger.Infow("Connected to relays",
		"connected", c.pool.ConnectedCount(),
		"total", c.pool.Total(),
	)
	c.drainQueue(ctx)
	return results
}

// SetRelays replaces the relay set: removed URLs are disconnected, new ones
// are added and dialed.
func (c *Coordinator) SetRelays(ctx context.Context, urls []string) []relay.Result {
	want := make(map[string]bool, len(urls))
	for _, u := range urls {
		want[u] = true
	}

	for _, u := range c.pool.URLs() {
		if !want[u] {
			c.pool.Remove(u)
			c.logger.Infow("Relay removed", logger.FieldRelay, u)
		}
	}

	var added []string
	for _, u := range urls {
		if _, ok := c.pool.Get(u); !ok {
			added = append(added, u)
		}
	}
	if len(added) == 0 {
		return nil
	}
	c.logger.Infow("Relays added", logger.FieldCount, len(added))
	results := c.pool.Connect(ctx, added)
	c.drainQueue(ctx)
	return results
}

// Publish signs draft and sends it to every connected relay. With no relay
// connected the draft is queued and Publish returns (nil, nil): accepted but
// deferred. The returned event is sent, not necessarily acknowledged.
func (c *Coordinator) Publish(ctx context.Context, draft nostr.Draft) (*nostr.Event, error) {
	secret, err := c.currentSecret()
	if err != nil {
		return nil, err
	}
	if draft.CreatedAt == 0 {
		draft.CreatedAt = c.opts.Now().Unix()
	}

	if c.pool.ConnectedCount() == 0 {
		if err := c.enqueue(draft); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ev, err := c.sign(secret, draft)
	if err != nil {
		return nil, err
	}

	results := c.pool.Publish(*ev)
	if len(results) == 0 || len(relay.Failed(results)) == len(results) {
		// every relay dropped between the check and the send
		if err := c.enqueue(draft); err != nil {
			return nil, err
		}
		return nil, nil
	}

	c.logger.Debugw("Published event",
		logger.FieldEventID, logger.ShortID(ev.ID),
		logger.FieldKind, ev.Kind,
		"relays", len(results)-len(relay.Failed(results)),
	)
	return ev, nil
}

func (c *Coordinator) sign(secret identity.Secret, draft nostr.Draft) (*nostr.Event, error) {
	kp, err := c.keys.Keypair(secret)
	if err != nil {
		c.logger.Errorw("Failed to derive signing key", logger.FieldError, err)
		return nil, errors.Wrap(err, "failed to derive signing key")
	}
	ev := draft.ToEvent(c.opts.Now())
	if err := nostr.Sign(&ev, kp.PrivKey()); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Coordinator) enqueue(draft nostr.Draft) error {
	if err := c.queue.Enqueue(draft); err != nil {
		return errors.Wrap(err, "failed to queue event")
	}
	n, _ := c.queue.Len()
	c.logger.Debugw("No relay connected, event queued",
		logger.FieldKind, draft.Kind,
		logger.FieldQueued, n,
	)
	return nil
}

// drainQueue republishes queued drafts in order. It stops at the first
// draft no relay accepted and puts it and the rest back.
func (c *Coordinator) drainQueue(ctx context.Context) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	secret, err := c.currentSecret()
	if err != nil || c.pool.ConnectedCount() == 0 {
		return
	}

	drafts, err := c.queue.TakeAll()
	if err != nil {
		c.logger.Warnw("Failed to read event queue", logger.FieldError, err)
		return
	}
	if len(drafts) == 0 {
		return
	}

	sent := 0
	for i, d := range drafts {
		if ctx.Err() != nil {
			c.requeue(drafts[i:])
			break
		}
		ev, err := c.sign(secret, d)
		if err != nil {
			c.requeue(drafts[i:])
			break
		}
		results := c.pool.Publish(*ev)
		if len(results) == 0 || len(relay.Failed(results)) == len(results) {
			c.requeue(drafts[i:])
			break
		}
		sent++
	}

	c.logger.Infow("Drained event queue",
		logger.FieldCount, sent,
		logger.FieldQueued, len(drafts)-sent,
	)
}

func (c *Coordinator) requeue(drafts []nostr.Draft) {
	for _, d := range drafts {
		if err := c.queue.Enqueue(d); err != nil {
			c.logger.Errorw("Failed to requeue event", logger.FieldKind, d.Kind, logger.FieldError, err)
		}
	}
}

// QueueLen returns the number of deferred drafts.
func (c *Coordinator) QueueLen() int {
	n, err := c.queue.Len()
	if err != nil {
		c.logger.Warnw("Failed to read event queue length", logger.FieldError, err)
	}
	return n
}

// Subscribe registers handler for validated events matching filters and
// sends REQ to every connected relay. The subscription survives reconnects.
func (c *Coordinator) Subscribe(filters []nostr.Filter, handler Handler) (string, error) {
	if len(filters) == 0 {
		return "", errors.Wrap(errors.ErrInvalidRequest, "subscribe needs at least one filter")
	}
	if handler == nil {
		return "", errors.Wrap(errors.ErrInvalidRequest, "subscribe needs a handler")
	}

	sub := &subscription{id: uuid.NewString(), filters: filters, handler: handler}
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.pool.Broadcast(nostr.ReqMessage(sub.id, filters...))
	c.logger.Debugw("Subscribed", logger.FieldSubscription, sub.id, "filters", len(filters))
	return sub.id, nil
}

// Unsubscribe removes the subscription and sends CLOSE to connected relays.
func (c *Coordinator) Unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok {
		c.pool.Broadcast(nostr.CloseMessage(id))
		c.logger.Debugw("Unsubscribed", logger.FieldSubscription, id)
	}
}

// onRelayConnect re-issues every active subscription on a fresh socket and,
// for reconnects outside ConnectToRelays, drains the queue.
func (c *Coordinator) onRelayConnect(conn *relay.Connection) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		if err := conn.Send(nostr.ReqMessage(s.id, s.filters...)); err != nil {
			c.logger.Warnw("Failed to resubscribe",
				logger.FieldRelay, conn.URL(),
				logger.FieldSubscription, s.id,
				logger.FieldError, err,
			)
		}
	}

	if !c.bulkConnect.Load() && c.QueueLen() > 0 {
		go c.drainQueue(context.Background())
	}
}

// onRelayMessage runs on a relay read goroutine: it validates inbound
// events and hands them to the dispatcher.
func (c *Coordinator) onRelayMessage(conn *relay.Connection, msg *nostr.Message) {
	if msg.Type != nostr.MsgEvent {
		return
	}

	ev, f := validate.Structure(msg.Event)
	if f == nil {
		if err := c.validator.ValidateEvent(ev, c.opts.SkipSignatureCheck); err != nil {
			f, _ = validate.AsFailure(err)
		}
	}
	if f != nil {
		c.logger.Debugw("Dropping invalid relay event",
			append([]interface{}{logger.FieldRelay, conn.URL(), logger.FieldSubscription, msg.SubscriptionID}, f.LogFields()...)...,
		)
		return
	}

	select {
	case c.inbox <- inbound{relay: conn.URL(), subID: msg.SubscriptionID, event: nostr.Classify(ev)}:
	case <-c.done:
	}
}

func (c *Coordinator) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case in := <-c.inbox:
			c.deliver(in)
		}
	}
}

func (c *Coordinator) deliver(in inbound) {
	c.mu.Lock()
	sub, ok := c.subs[in.subID]
	c.mu.Unlock()
	if !ok {
		return
	}

	raw := in.event.Raw()
	// relays are untrusted: they may send events outside the filter
	if !nostr.MatchesAny(sub.filters, raw) {
		c.logger.Debugw("Dropping event outside subscription filter",
			logger.FieldRelay, in.relay,
			logger.FieldEventID, logger.ShortID(raw.ID),
		)
		return
	}

	key := in.subID + ":" + raw.ID
	if ok, _ := c.seen.ContainsOrAdd(key, struct{}{}); ok {
		return
	}
	sub.handler(in.event)
}

// Disconnect flushes pending updates, then tears down every relay
// connection and subscription. Queued drafts stay queued.
func (c *Coordinator) Disconnect(ctx context.Context) {
	c.mu.Lock()
	c.shuttingDown = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.flush(ctx)

	c.pool.DisconnectAll()

	c.mu.Lock()
	c.subs = make(map[string]*subscription)
	c.shuttingDown = false
	c.mu.Unlock()
	c.logger.Infow("Disconnected from relays")
}

// Close disconnects and stops the dispatch goroutine.
func (c *Coordinator) Close(ctx context.Context) {
	c.Disconnect(ctx)
	c.closeOne.Do(func() { close(c.done) })
	c.wg.Wait()
}

// Pool exposes the relay pool for status and tests.
func (c *Coordinator) Pool() *relay.Pool { return c.pool }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
