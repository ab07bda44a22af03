// Package relay manages connections to untrusted Nostr relays: one state
// machine per URL with exponential-backoff reconnection, and a Pool that
// fans operations out across every relay without letting one relay's
// failure affect the others.
package relay

import (
	"math"
	"time"
)

// Default connection settings
const (
	DefaultMaxRetries      = 5
	DefaultBaseDelay       = time.Second
	DefaultMaxDelay        = 30 * time.Second
	DefaultBackoffFactor   = 2.0
	DefaultJitter          = 0.1
	DefaultConnectTimeout  = 10 * time.Second
	DefaultEventsPerSecond = 50
	DefaultBurst           = 100
)

// Config controls reconnection and inbound limits for every connection in a pool.
type Config struct {
	// AutoReconnect re-dials after a remote close or failed attempt
	AutoReconnect bool

	// MaxRetries is the number of consecutive reconnect attempts before the
	// relay is abandoned
	MaxRetries int

	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Jitter is the +/- fraction applied to each delay
	Jitter float64

	ConnectTimeout time.Duration

	// EventsPerSecond and Burst bound inbound EVENT messages per relay.
	// Zero disables limiting.
	EventsPerSecond float64
	Burst           int
}

// DefaultConfig returns the default relay configuration
func DefaultConfig() Config {
	return Config{
		AutoReconnect:   true,
		MaxRetries:      DefaultMaxRetries,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		BackoffFactor:   DefaultBackoffFactor,
		Jitter:          DefaultJitter,
		ConnectTimeout:  DefaultConnectTimeout,
		EventsPerSecond: DefaultEventsPerSecond,
		Burst:           DefaultBurst,
	}
}

// Delay returns the wait before reconnect attempt retry (1-based):
// min(MaxDelay, BaseDelay*BackoffFactor^(retry-1)) scaled by a jitter factor
// in [1-Jitter, 1+Jitter). r is a uniform sample in [0,1).
func (c Config) Delay(retry int, r float64) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(retry-1))
	if ceiling := float64(c.MaxDelay); base > ceiling {
		base = ceiling
	}
	return time.Duration(base * (1 + c.Jitter*(2*r-1)))
}
