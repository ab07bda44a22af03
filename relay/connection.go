package relay

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

var (
	// ErrNotConnected is returned when sending on a relay that is not connected.
	ErrNotConnected = errors.New("relay not connected")

	// ErrAbandoned is recorded once a relay exhausts its reconnect attempts.
	ErrAbandoned = errors.New("relay abandoned after max retries")

	// ErrClosed is returned when a connection was explicitly disconnected
	// while a dial was in flight.
	ErrClosed = errors.New("relay connection closed")
)

// State is the lifecycle state of one relay connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of one connection.
type Status struct {
	URL         string
	State       State
	RetryCount  int
	LastError   string
	ConnectedAt time.Time
	Abandoned   bool
	Acked       int
	Rejected    int
}

// MessageFunc receives every parsed inbound message. It runs on the
// connection's read goroutine and must not block for long.
type MessageFunc func(c *Connection, msg *nostr.Message)

// ConnectFunc runs after every successful (re)connect, before any inbound
// message from the new socket is delivered.
type ConnectFunc func(c *Connection)

// Connection is the state machine for a single relay URL:
// Disconnected -> Connecting -> Connected | Error, Connected -> Disconnected
// on remote close, then Reconnecting -> Connecting while retries remain.
type Connection struct {
	url       string
	cfg       Config
	dialer    Dialer
	logger    *zap.SugaredLogger
	onMessage MessageFunc
	onConnect ConnectFunc
	limiter   *rate.Limiter
	random    func() float64

	mu          sync.Mutex
	state       State
	conn        Conn
	gen         uint64 // bumped per socket so stale read loops are ignored
	retryCount  int
	lastError   error
	connectedAt time.Time
	abandoned   bool
	closed      bool
	inflight    *dialAttempt
	timer       *time.Timer
	acked       int
	rejected    int
}

// NewConnection creates a disconnected connection for url.
func NewConnection(url string, cfg Config, dialer Dialer, onMessage MessageFunc, onConnect ConnectFunc, log *zap.SugaredLogger) *Connection {
	c := &Connection{
		url:       url,
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger.OrNop(log).With(logger.FieldRelay, url),
		onMessage: onMessage,
		onConnect: onConnect,
		random:    rand.Float64,
		state:     StateDisconnected,
	}
	if cfg.EventsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}
	return c
}

// URL returns the relay URL.
func (c *Connection) URL() string { return c.url }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection can send.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Status snapshots the connection.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		URL:         c.url,
		State:       c.state,
		RetryCount:  c.retryCount,
		ConnectedAt: c.connectedAt,
		Abandoned:   c.abandoned,
		Acked:       c.acked,
		Rejected:    c.rejected,
	}
	if c.lastError != nil {
		s.LastError = c.lastError.Error()
	}
	return s
}

// Connect dials the relay. An explicit Connect clears any abandoned state
// and resets the retry counter. Failures schedule a reconnect when
// AutoReconnect is set.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.abandoned = false
	c.retryCount = 0
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.dial(ctx)
}

// dialAttempt is shared by every caller that arrives while a dial is in
// flight, so one connection never opens more than one socket at a time.
type dialAttempt struct {
	done chan struct{}
	err  error
}

func (c *Connection) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if a := c.inflight; a != nil {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &dialAttempt{done: make(chan struct{})}
	c.inflight = a
	c.state = StateConnecting
	c.mu.Unlock()

	a.err = c.dialOnce(ctx)
	close(a.done)
	return a.err
}

// dialOnce performs the single in-flight dial. c.inflight is cleared before
// a reconnect is scheduled so the timer's dial starts a fresh attempt.
func (c *Connection) dialOnce(ctx context.Context) error {
	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.dialer.Dial(dialCtx, c.url)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = errors.Mark(errors.Wrapf(err, "no answer within %s", c.cfg.ConnectTimeout), errors.ErrTimeout)
		}

		c.mu.Lock()
		c.inflight = nil
		if c.closed {
			c.mu.Unlock()
			return errors.Wrapf(ErrClosed, "dial to %s failed after disconnect: %v", c.url, err)
		}
		c.state = StateError
		c.lastError = err
		retry := c.retryCount
		c.mu.Unlock()

		c.logger.Warnw("Relay connection failed",
			logger.FieldRetry, retry,
			logger.FieldError, err,
		)
		c.scheduleReconnect()
		return errors.Wrapf(err, "failed to connect to %s", c.url)
	}

	c.mu.Lock()
	c.inflight = nil
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	stale := c.conn
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = StateConnected
	c.retryCount = 0
	c.lastError = nil
	c.connectedAt = time.Now()
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	c.logger.Infow("Relay connected")

	if c.onConnect != nil {
		c.onConnect(c)
	}
	go c.readLoop(conn, gen)
	return nil
}

func (c *Connection) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}

		msg, err := nostr.ParseRelayMessage(data)
		if err != nil {
			// relays are untrusted; a bad frame never closes the socket
			c.logger.Debugw("Discarding unparseable relay message", logger.FieldError, err)
			continue
		}

		switch msg.Type {
		case nostr.MsgEvent:
			if c.limiter != nil && !c.limiter.Allow() {
				c.logger.Debugw("Inbound event rate limit exceeded, dropping",
					logger.FieldSubscription, msg.SubscriptionID,
				)
				continue
			}
		case nostr.MsgOK:
			c.mu.Lock()
			if msg.Accepted {
				c.acked++
			} else {
				c.rejected++
			}
			c.mu.Unlock()
			if msg.Accepted {
				c.logger.Debugw("Relay accepted event", logger.FieldEventID, logger.ShortID(msg.EventID))
			} else {
				c.logger.Infow("Relay rejected event",
					logger.FieldEventID, logger.ShortID(msg.EventID),
					logger.FieldReason, msg.Text,
				)
			}
		case nostr.MsgNotice:
			c.logger.Infow("Relay notice", logger.FieldReason, msg.Text)
		case nostr.MsgEOSE:
		default:
			c.logger.Debugw("Ignoring relay message", "type", msg.Type)
			continue
		}

		if c.onMessage != nil && c.current(gen) {
			c.onMessage(c, msg)
		}
	}
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// dropped handles a read failure on socket generation gen.
func (c *Connection) dropped(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.lastError = err
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Warnw("Relay connection lost", logger.FieldError, err)
	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.cfg.AutoReconnect {
		return
	}
	if c.retryCount >= c.cfg.MaxRetries {
		if !c.abandoned {
			c.abandoned = true
			c.lastError = errors.Wrapf(ErrAbandoned, "last error: %v", c.lastError)
			c.logger.Warnw("Relay abandoned", logger.FieldRetry, c.retryCount)
		}
		return
	}

	c.retryCount++
	delay := c.cfg.Delay(c.retryCount, c.random())
	c.state = StateReconnecting
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, func() {
		_ = c.dial(context.Background())
	})

	c.logger.Infow("Scheduling relay reconnect",
		logger.FieldRetry, c.retryCount,
		logger.FieldDelay, delay,
	)
}

func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Send writes one wire message.
func (c *Connection) Send(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return errors.Wrapf(ErrNotConnected, "%s is %s", c.url, state)
	}
	if err := conn.WriteJSON(v); err != nil {
		return errors.Wrapf(err, "failed to write to %s", c.url)
	}
	return nil
}

// Disconnect closes the socket and cancels any pending reconnect. The
// connection stays idle until the next explicit Connect.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Debugw("Relay disconnected")
	if err := conn.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", c.url)
	}
	return nil
}
