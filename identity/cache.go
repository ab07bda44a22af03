package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how long a derived keypair stays in memory.
const DefaultCacheTTL = 5 * time.Minute

// Cache memoizes DeriveKeypair for the most recent secret fingerprint.
// It holds a single entry, so presenting a secret with a different
// fingerprint evicts the previous keypair immediately. Cached and freshly
// derived keypairs are identical; the cache only saves the derivation.
type Cache struct {
	entries *expirable.LRU[string, Keypair]
	derive  func(Secret) (Keypair, error)
}

// NewCache creates a keypair cache with the given TTL. ttl <= 0 uses
// DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: expirable.NewLRU[string, Keypair](1, nil, ttl),
		derive:  DeriveKeypair,
	}
}

// Keypair returns the keypair for secret, deriving it on a miss.
func (c *Cache) Keypair(secret Secret) (Keypair, error) {
	fp, err := Fingerprint(secret)
	if err != nil {
		return Keypair{}, err
	}

	if kp, ok := c.entries.Get(fp); ok {
		return kp, nil
	}

	kp, err := c.derive(secret)
	if err != nil {
		return Keypair{}, err
	}
	c.entries.Add(fp, kp)
	return kp, nil
}

// Cached reports whether a live entry exists for fingerprint.
func (c *Cache) Cached(fingerprint string) bool {
	_, ok := c.entries.Peek(fingerprint)
	return ok
}

// Clear drops every cached keypair.
func (c *Cache) Clear() {
	c.entries.Purge()
}
