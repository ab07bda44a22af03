package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across hypermark.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Components
	FieldComponent = "component"

	// Relay transport
	FieldRelay        = "relay"
	FieldState        = "state"
	FieldRetry        = "retry"
	FieldDelay        = "delay"
	FieldSubscription = "subscription"

	// Events
	FieldEventID = "event_id"
	FieldKind    = "kind"
	FieldPubkey  = "pubkey"
	FieldReason  = "reason"

	// Sync bookkeeping
	FieldBookmark = "bookmark"
	FieldDocument = "document"
	FieldQueued   = "queued"
	FieldPending  = "pending"
	FieldCount    = "count"

	// Errors
	FieldError = "error"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	pool := relay.NewPool(cfg, dialer, logger.ComponentLogger("relay"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ShortID truncates hex ids and pubkeys to 12 chars for log lines.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
