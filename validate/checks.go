package validate

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/hypermark/nostr"
)

// Check is one independent validation step over a structurally valid event.
type Check func(ev *nostr.Event) *Failure

// Timestamp rejects events older than minCreatedAt or further than drift
// into the future relative to now().
func Timestamp(now func() time.Time, minCreatedAt int64, drift time.Duration) Check {
	return func(ev *nostr.Event) *Failure {
		if ev.CreatedAt < minCreatedAt {
			return fail(CodeTimestampTooOld, "created_at predates the minimum epoch",
				"created_at", ev.CreatedAt, "minimum", minCreatedAt)
		}
		limit := now().Add(drift).Unix()
		if ev.CreatedAt > limit {
			return fail(CodeTimestampFuture, "created_at is too far in the future",
				"created_at", ev.CreatedAt, "limit", limit)
		}
		return nil
	}
}

// TagLimits caps the tag count and requires every tag to be non-empty.
func TagLimits(maxTags int) Check {
	return func(ev *nostr.Event) *Failure {
		if len(ev.Tags) > maxTags {
			return fail(CodeTooManyTags, "too many tags", "count", len(ev.Tags), "max", maxTags)
		}
		for i, t := range ev.Tags {
			if len(t) == 0 {
				return fail(CodeInvalidTag, "tag must not be empty", "index", i)
			}
		}
		return nil
	}
}

// ContentSize caps the UTF-8 byte length of content.
func ContentSize(maxBytes int) Check {
	return func(ev *nostr.Event) *Failure {
		if n := len(ev.Content); n > maxBytes {
			return fail(CodeContentTooLarge, "content exceeds size limit", "bytes", n, "max", maxBytes)
		}
		return nil
	}
}

// BookmarkState applies the replaceable-state rules: a d tag, the exact
// app tag, and content that is empty or iv:ciphertext in base64.
func BookmarkState(app string) Check {
	return func(ev *nostr.Event) *Failure {
		if ev.Kind != nostr.KindBookmarkState {
			return nil
		}
		if _, ok := ev.Tags.Find(nostr.TagD); !ok {
			return fail(CodeMissingTag, "state event needs a d tag", "tag", nostr.TagD)
		}
		got, ok := ev.Tags.Find(nostr.TagApp)
		if !ok {
			return fail(CodeMissingTag, "state event needs an app tag", "tag", nostr.TagApp)
		}
		if got.Value() != app {
			return fail(CodeAppMismatch, "app tag does not match", "app", got.Value(), "want", app)
		}
		if ev.Content != "" && !IsEncryptedContent(ev.Content) {
			return fail(CodeInvalidContent, "content must be base64(iv):base64(ciphertext)")
		}
		return nil
	}
}

// IsEncryptedContent reports whether s is exactly two ':'-separated
// non-empty standard base64 segments.
func IsEncryptedContent(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.StdEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

// Deletion requires an a tag addressing kind:pubkey:d.
func Deletion() Check {
	return func(ev *nostr.Event) *Failure {
		if ev.Kind != nostr.KindDelete {
			return nil
		}
		a, ok := ev.Tags.Find(nostr.TagAddress)
		if !ok {
			return fail(CodeMissingTag, "delete event needs an a tag", "tag", nostr.TagAddress)
		}
		if len(strings.Split(a.Value(), ":")) < 3 {
			return fail(CodeInvalidAddress, "a tag must be kind:pubkey:d", "address", a.Value())
		}
		return nil
	}
}

// ProtocolVersion checks the v tag of state events against constraint.
// Events without a v tag pass.
func ProtocolVersion(constraint *semver.Constraints) Check {
	return func(ev *nostr.Event) *Failure {
		if constraint == nil || ev.Kind != nostr.KindBookmarkState {
			return nil
		}
		v := ev.Tags.Value(nostr.TagVersion)
		if v == "" {
			return nil
		}
		version, err := semver.NewVersion(v)
		if err != nil {
			return fail(CodeUnsupportedVersion, "v tag is not a version", "version", v)
		}
		if !constraint.Check(version) {
			return fail(CodeUnsupportedVersion, "protocol version not supported",
				"version", v, "constraint", constraint.String())
		}
		return nil
	}
}

// Signature recomputes the id and verifies the Schnorr signature.
func Signature() Check {
	return func(ev *nostr.Event) *Failure {
		if nostr.ComputeID(ev) != ev.ID {
			return fail(CodeInvalidSignature, "id does not match event content", "id", ev.ID)
		}
		if !nostr.Verify(ev) {
			return fail(CodeInvalidSignature, "signature verification failed", "id", ev.ID)
		}
		return nil
	}
}
