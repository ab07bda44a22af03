// Package am loads hypermark configuration ("I am") from the TOML cascade
// and HYPERMARK_* environment variables.
package am

// Config represents the hypermark configuration
type Config struct {
	Relays     RelaysConfig     `mapstructure:"relays"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Validation ValidationConfig `mapstructure:"validation"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Inbound    InboundConfig    `mapstructure:"inbound"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// RelaysConfig lists the relay endpoints to keep connected
type RelaysConfig struct {
	URLs []string `mapstructure:"urls"` // ws:// or wss:// endpoints
}

// SyncConfig configures the coordinator and per-relay reconnect behaviour
type SyncConfig struct {
	App                   string  `mapstructure:"app"`                     // application namespace tag (default: hypermark)
	DebounceMs            int     `mapstructure:"debounce_ms"`             // coalescing window for bookmark updates (default: 1500)
	AutoConnect           bool    `mapstructure:"auto_connect"`            // connect on initialize
	AutoReconnect         bool    `mapstructure:"auto_reconnect"`          // reconnect dropped relays with backoff
	MaxRetries            int     `mapstructure:"max_retries"`             // reconnect attempts before a relay is abandoned
	BaseDelayMs           int     `mapstructure:"base_delay_ms"`           // first backoff delay
	MaxDelayMs            int     `mapstructure:"max_delay_ms"`            // backoff ceiling
	BackoffFactor         float64 `mapstructure:"backoff_factor"`          // multiplier per retry
	Jitter                float64 `mapstructure:"jitter"`                  // +/- fraction applied to each delay
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"` // dial timeout

	// Secret is the hex shared secret; bound from HYPERMARK_SYNC_SECRET only.
	Secret string `mapstructure:"secret" json:"-" toml:"-" yaml:"-"`
}

// ValidationConfig bounds inbound relay traffic
type ValidationConfig struct {
	MaxTags               int    `mapstructure:"max_tags"`
	MaxContentBytes       int    `mapstructure:"max_content_bytes"`
	MaxFutureDriftSeconds int    `mapstructure:"max_future_drift_seconds"`
	MinCreatedAt          int64  `mapstructure:"min_created_at"`    // unix seconds (default: 2020-01-01)
	VerifySignatures      bool   `mapstructure:"verify_signatures"` // false trusts every relay
	ProtocolVersions      string `mapstructure:"protocol_versions"` // semver constraint for the v tag (empty = any)
}

// IdentityConfig configures the derived keypair cache
type IdentityConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// InboundConfig limits per-relay event rate and the dedupe window
type InboundConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"` // 0 = unlimited
	Burst           int     `mapstructure:"burst"`
	DedupeSize      int     `mapstructure:"dedupe_size"` // seen event ids remembered
}

// DatabaseConfig configures the SQLite outbox
type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	DurableQueue bool   `mapstructure:"durable_queue"` // keep deferred events on disk across restarts
}

// File system constants
const (
	DefaultDirPermissions  = 0750
	DefaultFilePermissions = 0644
)

// ConfigDirName is the per-user configuration directory under $HOME.
const ConfigDirName = ".hypermark"
