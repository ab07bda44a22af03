// Package nostr holds the relay wire model: events, filters, canonical
// serialization, BIP-340 signing and the JSON-array envelopes exchanged with
// relays.
package nostr

import (
	"time"
)

// Event kinds used by hypermark.
const (
	KindTextNote      = 1
	KindDelete        = 5
	KindBookmarkState = 30053
)

// Tag names.
const (
	TagD       = "d"
	TagApp     = "app"
	TagVersion = "v"
	TagType    = "t"
	TagUser    = "tag"
	TagAddress = "a"
)

// Tag is one ordered tag: name followed by values.
type Tag []string

// Name returns the tag name or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Find returns the first tag named name that carries a value.
func (tags Tags) Find(name string) (Tag, bool) {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t, true
		}
	}
	return nil, false
}

// Value returns the first value of the first tag named name.
func (tags Tags) Value(name string) string {
	t, ok := tags.Find(name)
	if !ok {
		return ""
	}
	return t[1]
}

// All returns the first value of every tag named name, in order.
func (tags Tags) All(name string) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Clone deep-copies the tag list.
func (tags Tags) Clone() Tags {
	out := make(Tags, len(tags))
	for i, t := range tags {
		out[i] = append(Tag(nil), t...)
	}
	return out
}

// Event is a signed relay event. Once signed it must not be mutated: the id
// binds every other field.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Draft is an unsigned event template. Drafts are what the publish queue
// stores; they are signed with the current identity when sent.
type Draft struct {
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// ToEvent turns the draft into an unsigned event, stamping created_at with
// now when the draft has none.
func (d Draft) ToEvent(now time.Time) Event {
	createdAt := d.CreatedAt
	if createdAt == 0 {
		createdAt = now.Unix()
	}
	tags := d.Tags.Clone()
	return Event{
		CreatedAt: createdAt,
		Kind:      d.Kind,
		Tags:      tags,
		Content:   d.Content,
	}
}

// Address is the kind:pubkey:d-tag coordinate of a replaceable slot.
type Address struct {
	Kind   int
	PubKey string
	D      string
}
