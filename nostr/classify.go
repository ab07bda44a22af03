package nostr

import (
	"strconv"
	"strings"
)

// Classified is the closed set of event shapes the sync layer handles.
// Obtain one from Classify after validation; downstream code switches on the
// concrete type instead of re-checking fields.
type Classified interface {
	Raw() *Event
	classified()
}

// StateEvent is a replaceable bookmark/document state event.
type StateEvent struct {
	*Event
	D        string
	App      string
	Version  string
	Type     string
	UserTags []string
}

// DeleteEvent tombstones a replaceable slot.
type DeleteEvent struct {
	*Event
	Addresses []Address
}

// UnknownEvent is any other kind.
type UnknownEvent struct {
	*Event
}

func (e StateEvent) Raw() *Event   { return e.Event }
func (e DeleteEvent) Raw() *Event  { return e.Event }
func (e UnknownEvent) Raw() *Event { return e.Event }

func (StateEvent) classified()   {}
func (DeleteEvent) classified()  {}
func (UnknownEvent) classified() {}

// Classify maps ev onto its tagged variant.
func Classify(ev *Event) Classified {
	switch ev.Kind {
	case KindBookmarkState:
		return StateEvent{
			Event:    ev,
			D:        ev.Tags.Value(TagD),
			App:      ev.Tags.Value(TagApp),
			Version:  ev.Tags.Value(TagVersion),
			Type:     ev.Tags.Value(TagType),
			UserTags: ev.Tags.All(TagUser),
		}
	case KindDelete:
		del := DeleteEvent{Event: ev}
		for _, a := range ev.Tags.All(TagAddress) {
			if addr, ok := ParseAddress(a); ok {
				del.Addresses = append(del.Addresses, addr)
			}
		}
		return del
	default:
		return UnknownEvent{Event: ev}
	}
}

// String renders the address as kind:pubkey:d.
func (a Address) String() string {
	return strconv.Itoa(a.Kind) + ":" + a.PubKey + ":" + a.D
}

// ParseAddress parses kind:pubkey:d. The d part may itself contain ':'.
func ParseAddress(s string) (Address, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 3 {
		return Address{}, false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind < 0 {
		return Address{}, false
	}
	return Address{Kind: kind, PubKey: parts[1], D: parts[2]}, true
}
