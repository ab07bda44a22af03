package validate

import (
	"encoding/json"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/nostr"
)

// Defaults for Options.
const (
	DefaultMinCreatedAt    int64 = 1577836800 // 2020-01-01T00:00:00Z
	DefaultMaxFutureDrift        = time.Hour
	DefaultMaxTags               = 100
	DefaultMaxContentBytes       = 100 * 1024
	DefaultApp                   = "hypermark"
	DefaultVersions              = "^1"
)

// Options configures a Validator.
type Options struct {
	Now             func() time.Time
	MinCreatedAt    int64
	MaxFutureDrift  time.Duration
	MaxTags         int
	MaxContentBytes int
	App             string
	// Versions is a semver constraint for the v tag; empty disables the check.
	Versions string
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		Now:             time.Now,
		MinCreatedAt:    DefaultMinCreatedAt,
		MaxFutureDrift:  DefaultMaxFutureDrift,
		MaxTags:         DefaultMaxTags,
		MaxContentBytes: DefaultMaxContentBytes,
		App:             DefaultApp,
		Versions:        DefaultVersions,
	}
}

// Validator runs the full pipeline.
type Validator struct {
	cheap     []Check
	signature Check
}

// New builds a Validator. Zero-valued options fall back to defaults.
func New(opts Options) (*Validator, error) {
	def := DefaultOptions()
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.MinCreatedAt == 0 {
		opts.MinCreatedAt = def.MinCreatedAt
	}
	if opts.MaxFutureDrift == 0 {
		opts.MaxFutureDrift = def.MaxFutureDrift
	}
	if opts.MaxTags == 0 {
		opts.MaxTags = def.MaxTags
	}
	if opts.MaxContentBytes == 0 {
		opts.MaxContentBytes = def.MaxContentBytes
	}
	if opts.App == "" {
		opts.App = def.App
	}

	var constraint *semver.Constraints
	if opts.Versions != "" {
		c, err := semver.NewConstraint(opts.Versions)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid protocol version constraint %q", opts.Versions)
		}
		constraint = c
	}

	return &Validator{
		cheap: []Check{
			Timestamp(opts.Now, opts.MinCreatedAt, opts.MaxFutureDrift),
			TagLimits(opts.MaxTags),
			ContentSize(opts.MaxContentBytes),
			BookmarkState(opts.App),
			ProtocolVersion(constraint),
			Deletion(),
		},
		signature: Signature(),
	}, nil
}

// Validate runs every check over a raw inbound event and returns the
// classified event. The returned error is always a *Failure.
func (v *Validator) Validate(raw json.RawMessage) (nostr.Classified, error) {
	ev, f := Structure(raw)
	if f != nil {
		return nil, f
	}
	if err := v.ValidateEvent(ev, false); err != nil {
		return nil, err
	}
	return nostr.Classify(ev), nil
}

// ValidateEvent runs the post-structural checks over a typed event.
// trusted skips signature verification for self-authored events.
func (v *Validator) ValidateEvent(ev *nostr.Event, trusted bool) error {
	for _, check := range v.cheap {
		if f := check(ev); f != nil {
			return f
		}
	}
	if trusted {
		return nil
	}
	if f := v.signature(ev); f != nil {
		return f
	}
	return nil
}

// AsFailure extracts the *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
