package am

import (
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/identity"
	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/sync"
	"github.com/teranos/hypermark/validate"
)

// SecretBytes decodes the hex shared secret.
func (c *Config) SecretBytes() ([]byte, error) {
	if c.Sync.Secret == "" {
		return nil, errors.WithHint(identity.ErrNoSecret, "set HYPERMARK_SYNC_SECRET to 64 hex characters")
	}
	raw, err := hex.DecodeString(c.Sync.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "HYPERMARK_SYNC_SECRET is not hex")
	}
	if len(raw) != identity.SecretSize {
		return nil, errors.Newf("HYPERMARK_SYNC_SECRET must decode to %d bytes, got %d", identity.SecretSize, len(raw))
	}
	return raw, nil
}

// Secret returns the shared secret as identity key material.
func (c *Config) Secret() (identity.Secret, error) {
	raw, err := c.SecretBytes()
	if err != nil {
		return nil, err
	}
	return identity.RawSecret(raw), nil
}

// RelayConfig maps the sync and inbound sections onto relay.Config.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		AutoReconnect:   c.Sync.AutoReconnect,
		MaxRetries:      c.Sync.MaxRetries,
		BaseDelay:       time.Duration(c.Sync.BaseDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(c.Sync.MaxDelayMs) * time.Millisecond,
		BackoffFactor:   c.Sync.BackoffFactor,
		Jitter:          c.Sync.Jitter,
		ConnectTimeout:  time.Duration(c.Sync.ConnectTimeoutSeconds) * time.Second,
		EventsPerSecond: c.Inbound.EventsPerSecond,
		Burst:           c.Inbound.Burst,
	}
}

// ValidationOptions maps the validation section onto validate.Options.
func (c *Config) ValidationOptions() validate.Options {
	return validate.Options{
		Now:             time.Now,
		MinCreatedAt:    c.Validation.MinCreatedAt,
		MaxFutureDrift:  time.Duration(c.Validation.MaxFutureDriftSeconds) * time.Second,
		MaxTags:         c.Validation.MaxTags,
		MaxContentBytes: c.Validation.MaxContentBytes,
		App:             c.Sync.App,
		Versions:        c.Validation.ProtocolVersions,
	}
}

// SyncOptions builds coordinator options. The queue is left nil so callers
// can supply a durable store.
func (c *Config) SyncOptions(log *zap.SugaredLogger) sync.Options {
	opts := sync.DefaultOptions()
	opts.Relays = append([]string(nil), c.Relays.URLs...)
	opts.App = c.Sync.App
	opts.Debounce = time.Duration(c.Sync.DebounceMs) * time.Millisecond
	opts.AutoConnect = c.Sync.AutoConnect
	opts.Relay = c.RelayConfig()
	opts.Validation = c.ValidationOptions()
	opts.SkipSignatureCheck = !c.Validation.VerifySignatures
	opts.DedupeSize = c.Inbound.DedupeSize
	opts.KeyTTL = time.Duration(c.Identity.CacheTTLSeconds) * time.Second
	opts.Logger = log
	return opts
}
