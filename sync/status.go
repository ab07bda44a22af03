package sync

import (
	"time"

	"github.com/teranos/hypermark/relay"
)

// RelayStatus is the per-relay part of Status.
type RelayStatus struct {
	URL         string    `json:"url"`
	State       string    `json:"state"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Abandoned   bool      `json:"abandoned,omitempty"`
	Acked       int       `json:"acked"`
	Rejected    int       `json:"rejected"`
}

// Status is the counters the host application renders.
type Status struct {
	Initialized   bool          `json:"initialized"`
	PublicKey     string        `json:"public_key,omitempty"`
	Relays        []RelayStatus `json:"relays"`
	Connected     int           `json:"connected"`
	Total         int           `json:"total"`
	Subscriptions int           `json:"subscriptions"`
	Queued        int           `json:"queued"`
	Pending       int           `json:"pending"`
}

// Status snapshots relay, subscription and queue counters.
func (c *Coordinator) Status() Status {
	relays := c.pool.Status()

	s := Status{
		Relays: make([]RelayStatus, 0, len(relays)),
		Total:  len(relays),
		Queued: c.QueueLen(),
	}
	for _, r := range relays {
		if r.State == relay.StateConnected {
			s.Connected++
		}
		s.Relays = append(s.Relays, RelayStatus{
			URL:         r.URL,
			State:       r.State.String(),
			RetryCount:  r.RetryCount,
			LastError:   r.LastError,
			ConnectedAt: r.ConnectedAt,
			Abandoned:   r.Abandoned,
			Acked:       r.Acked,
			Rejected:    r.Rejected,
		})
	}

	c.mu.Lock()
	s.Initialized = c.secret != nil
	s.PublicKey = c.pubkey
	s.Subscriptions = len(c.subs)
	s.Pending = len(c.pending)
	c.mu.Unlock()
	return s
}
