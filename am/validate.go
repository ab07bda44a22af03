package am

import (
	"net/url"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/hypermark/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Sync.App == "" {
		return errors.New("sync.app cannot be empty")
	}

	for _, raw := range c.Relays.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return errors.Wrapf(err, "relays.urls: cannot parse %q", raw)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.Newf("relays.urls: %q must use ws:// or wss://", raw)
		}
		if u.Host == "" {
			return errors.Newf("relays.urls: %q has no host", raw)
		}
	}

	if c.Sync.DebounceMs <= 0 {
		return errors.Newf("sync.debounce_ms must be > 0, got %d", c.Sync.DebounceMs)
	}
	if c.Sync.MaxRetries < 0 {
		return errors.Newf("sync.max_retries must be >= 0, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BaseDelayMs <= 0 {
		return errors.Newf("sync.base_delay_ms must be > 0, got %d", c.Sync.BaseDelayMs)
	}
	if c.Sync.MaxDelayMs < c.Sync.BaseDelayMs {
		return errors.Newf("sync.max_delay_ms (%d) must be >= sync.base_delay_ms (%d)", c.Sync.MaxDelayMs, c.Sync.BaseDelayMs)
	}
	if c.Sync.BackoffFactor < 1 {
		return errors.Newf("sync.backoff_factor must be >= 1, got %f", c.Sync.BackoffFactor)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter >= 1 {
		return errors.Newf("sync.jitter must be in [0, 1), got %f", c.Sync.Jitter)
	}
	if c.Sync.ConnectTimeoutSeconds <= 0 {
		return errors.Newf("sync.connect_timeout_seconds must be > 0, got %d", c.Sync.ConnectTimeoutSeconds)
	}

	if c.Validation.MaxTags <= 0 {
		return errors.Newf("validation.max_tags must be > 0, got %d", c.Validation.MaxTags)
	}
	if c.Validation.MaxContentBytes <= 0 {
		return errors.Newf("validation.max_content_bytes must be > 0, got %d", c.Validation.MaxContentBytes)
	}
	if c.Validation.MaxFutureDriftSeconds <= 0 {
		return errors.Newf("validation.max_future_drift_seconds must be > 0, got %d", c.Validation.MaxFutureDriftSeconds)
	}
	if c.Validation.MinCreatedAt < 0 {
		return errors.Newf("validation.min_created_at must be >= 0, got %d", c.Validation.MinCreatedAt)
	}
	if c.Validation.ProtocolVersions != "" {
		if _, err := semver.NewConstraint(c.Validation.ProtocolVersions); err != nil {
			return errors.Wrapf(err, "validation.protocol_versions %q is not a semver constraint", c.Validation.ProtocolVersions)
		}
	}

	if c.Identity.CacheTTLSeconds <= 0 {
		return errors.Newf("identity.cache_ttl_seconds must be > 0, got %d", c.Identity.CacheTTLSeconds)
	}

	// events_per_second 0 = unlimited
	if c.Inbound.EventsPerSecond < 0 {
		return errors.Newf("inbound.events_per_second must be >= 0, got %f", c.Inbound.EventsPerSecond)
	}
	if c.Inbound.EventsPerSecond > 0 && c.Inbound.Burst <= 0 {
		return errors.Newf("inbound.burst must be > 0 when rate limiting, got %d", c.Inbound.Burst)
	}
	if c.Inbound.DedupeSize <= 0 {
		return errors.Newf("inbound.dedupe_size must be > 0, got %d", c.Inbound.DedupeSize)
	}

	if c.Sync.Secret != "" {
		if _, err := c.SecretBytes(); err != nil {
			return err
		}
	}

	return nil
}
