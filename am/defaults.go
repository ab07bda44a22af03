package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/hypermark/identity"
	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/sync"
	"github.com/teranos/hypermark/validate"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("relays.urls", []string{})

	// Sync defaults mirror sync.DefaultOptions and relay.DefaultConfig
	v.SetDefault("sync.app", validate.DefaultApp)
	v.SetDefault("sync.debounce_ms", int(sync.DefaultDebounce/time.Millisecond))
	v.SetDefault("sync.auto_connect", true)
	v.SetDefault("sync.auto_reconnect", true)
	v.SetDefault("sync.max_retries", relay.DefaultMaxRetries)
	v.SetDefault("sync.base_delay_ms", int(relay.DefaultBaseDelay/time.Millisecond))
	v.SetDefault("sync.max_delay_ms", int(relay.DefaultMaxDelay/time.Millisecond))
	v.SetDefault("sync.backoff_factor", relay.DefaultBackoffFactor)
	v.SetDefault("sync.jitter", relay.DefaultJitter)
	v.SetDefault("sync.connect_timeout_seconds", int(relay.DefaultConnectTimeout/time.Second))

	v.SetDefault("validation.max_tags", validate.DefaultMaxTags)
	v.SetDefault("validation.max_content_bytes", validate.DefaultMaxContentBytes)
	v.SetDefault("validation.max_future_drift_seconds", int(validate.DefaultMaxFutureDrift/time.Second))
	v.SetDefault("validation.min_created_at", validate.DefaultMinCreatedAt)
	v.SetDefault("validation.verify_signatures", true)
	v.SetDefault("validation.protocol_versions", validate.DefaultVersions)

	v.SetDefault("identity.cache_ttl_seconds", int(identity.DefaultCacheTTL/time.Second))

	v.SetDefault("inbound.events_per_second", relay.DefaultEventsPerSecond)
	v.SetDefault("inbound.burst", relay.DefaultBurst)
	v.SetDefault("inbound.dedupe_size", sync.DefaultDedupeSize)

	v.SetDefault("database.path", "hypermark.db")
	v.SetDefault("database.durable_queue", true)
}

// SecretEnv carries the hex shared secret.
const SecretEnv = "HYPERMARK_SYNC_SECRET"

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// The shared secret never comes from a file
	v.BindEnv("sync.secret", SecretEnv)

	v.BindEnv("database.path", "HYPERMARK_DATABASE_PATH")
	v.BindEnv("relays.urls", "HYPERMARK_RELAYS_URLS")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "hypermark.db"
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Relays: %d, App: %s, Database: %s}",
		len(c.Relays.URLs), c.Sync.App, c.Database.Path)
}
