package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

// Result is the settled outcome of one relay in a fan-out.
type Result struct {
	URL string
	Err error
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Pool owns one Connection per configured relay URL. Fan-out operations run
// concurrently, wait for every relay and record each outcome independently.
type Pool struct {
	cfg       Config
	dialer    Dialer
	logger    *zap.SugaredLogger
	onMessage MessageFunc
	onConnect ConnectFunc

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewPool creates an empty pool. onMessage and onConnect are installed on
// every connection the pool creates; either may be nil.
func NewPool(cfg Config, dialer Dialer, onMessage MessageFunc, onConnect ConnectFunc, log *zap.SugaredLogger) *Pool {
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return &Pool{
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger.OrNop(log),
		onMessage: onMessage,
		onConnect: onConnect,
		conns:     make(map[string]*Connection),
	}
}

// Add registers url without connecting. Adding a known URL returns the
// existing connection.
func (p *Pool) Add(url string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[url]; ok {
		return c
	}
	c := NewConnection(url, p.cfg, p.dialer, p.onMessage, p.onConnect, p.logger)
	p.conns[url] = c
	return c
}

// Remove disconnects and forgets url.
func (p *Pool) Remove(url string) {
	p.mu.Lock()
	c, ok := p.conns[url]
	delete(p.conns, url)
	p.mu.Unlock()

	if ok {
		if err := c.Disconnect(); err != nil {
			p.logger.Debugw("Error closing removed relay", logger.FieldRelay, url, logger.FieldError, err)
		}
	}
}

// Get returns the connection for url.
func (p *Pool) Get(url string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[url]
	return c, ok
}

// URLs returns the configured relay URLs in sorted order.
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	urls := make([]string, 0, len(p.conns))
	for u := range p.conns {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func (p *Pool) all() []*Connection {
	urls := p.URLs()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(urls))
	for _, u := range urls {
		out = append(out, p.conns[u])
	}
	return out
}

// Connected returns the connections currently able to send.
func (p *Pool) Connected() []*Connection {
	var out []*Connection
	for _, c := range p.all() {
		if c.Connected() {
			out = append(out, c)
		}
	}
	return out
}

// ConnectedCount is len(Connected()).
func (p *Pool) ConnectedCount() int {
	return len(p.Connected())
}

// Total is the number of configured relays, abandoned ones included.
func (p *Pool) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// ConnectAll dials every relay concurrently and waits for all attempts.
func (p *Pool) ConnectAll(ctx context.Context) []Result {
	return p.connect(ctx, p.all())
}

// Connect dials the given relays, adding any the pool does not know yet.
func (p *Pool) Connect(ctx context.Context, urls []string) []Result {
	conns := make([]*Connection, 0, len(urls))
	for _, u := range urls {
		conns = append(conns, p.Add(u))
	}
	return p.connect(ctx, conns)
}

func (p *Pool) connect(ctx context.Context, conns []*Connection) []Result {
	results := iter.Map(conns, func(c **Connection) Result {
		return Result{URL: (*c).URL(), Err: (*c).Connect(ctx)}
	})
	p.logSettled("connect", results)
	return results
}

// Broadcast sends msg to every connected relay concurrently.
func (p *Pool) Broadcast(msg interface{}) []Result {
	results := iter.Map(p.Connected(), func(c **Connection) Result {
		return Result{URL: (*c).URL(), Err: (*c).Send(msg)}
	})
	p.logSettled("send", results)
	return results
}

// Publish sends ev to every connected relay.
func (p *Pool) Publish(ev nostr.Event) []Result {
	return p.Broadcast(nostr.EventMessage(ev))
}

// DisconnectAll closes every relay concurrently.
func (p *Pool) DisconnectAll() []Result {
	results := iter.Map(p.all(), func(c **Connection) Result {
		return Result{URL: (*c).URL(), Err: (*c).Disconnect()}
	})
	p.logSettled("disconnect", results)
	return results
}

// Status snapshots every connection, sorted by URL.
func (p *Pool) Status() []Status {
	conns := p.all()
	out := make([]Status, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Status())
	}
	return out
}

func (p *Pool) logSettled(op string, results []Result) {
	failed := Failed(results)
	if len(failed) == 0 {
		return
	}
	for _, r := range failed {
		p.logger.Debugw("Relay operation failed",
			"op", op,
			logger.FieldRelay, r.URL,
			logger.FieldError, r.Err,
		)
	}
	p.logger.Infow("Relay fan-out settled with failures",
		"op", op,
		logger.FieldCount, len(results),
		"failed", len(failed),
	)
}
