package nostr

import (
	"encoding/json"

	"github.com/teranos/hypermark/errors"
)

// MsgType is the first element of a wire message.
type MsgType string

// Wire message labels.
const (
	MsgEvent  MsgType = "EVENT"
	MsgReq    MsgType = "REQ"
	MsgClose  MsgType = "CLOSE"
	MsgOK     MsgType = "OK"
	MsgEOSE   MsgType = "EOSE"
	MsgNotice MsgType = "NOTICE"
)

// Outbound client messages. Each returns the JSON array ready for WriteJSON.

// EventMessage builds ["EVENT", event].
func EventMessage(ev Event) []interface{} {
	return []interface{}{MsgEvent, ev}
}

// ReqMessage builds ["REQ", subscriptionID, filter...].
func ReqMessage(subID string, filters ...Filter) []interface{} {
	msg := make([]interface{}, 0, 2+len(filters))
	msg = append(msg, MsgReq, subID)
	for _, f := range filters {
		msg = append(msg, f)
	}
	return msg
}

// CloseMessage builds ["CLOSE", subscriptionID].
func CloseMessage(subID string) []interface{} {
	return []interface{}{MsgClose, subID}
}

// Outbound relay messages.

// SubEventMessage builds ["EVENT", subscriptionID, event].
func SubEventMessage(subID string, ev Event) []interface{} {
	return []interface{}{MsgEvent, subID, ev}
}

// OKMessage builds ["OK", eventID, accepted, message].
func OKMessage(eventID string, accepted bool, message string) []interface{} {
	return []interface{}{MsgOK, eventID, accepted, message}
}

// EOSEMessage builds ["EOSE", subscriptionID].
func EOSEMessage(subID string) []interface{} {
	return []interface{}{MsgEOSE, subID}
}

// NoticeMessage builds ["NOTICE", message].
func NoticeMessage(message string) []interface{} {
	return []interface{}{MsgNotice, message}
}

// Message is a decoded wire message. Only the fields relevant to Type are set.
// Event stays raw so the validator can check field presence and types before
// anything trusts its shape.
type Message struct {
	Type           MsgType
	SubscriptionID string
	Event          json.RawMessage
	EventID        string
	Accepted       bool
	Text           string
	Filters        []Filter
}

// ErrMalformedMessage marks frames that are not a recognisable wire message.
var ErrMalformedMessage = errors.New("malformed relay message")

// ParseRelayMessage decodes a frame received from a relay. Unknown labels
// are returned with their Type set so callers can log and ignore them.
func ParseRelayMessage(data []byte) (*Message, error) {
	parts, label, err := split(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{Type: label}
	switch label {
	case MsgEvent:
		if len(parts) < 3 {
			return nil, errors.Wrap(ErrMalformedMessage, "EVENT needs subscription id and event")
		}
		if err := json.Unmarshal(parts[1], &msg.SubscriptionID); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "EVENT subscription id"), ErrMalformedMessage)
		}
		msg.Event = parts[2]
	case MsgOK:
		if len(parts) < 3 {
			return nil, errors.Wrap(ErrMalformedMessage, "OK needs event id and status")
		}
		if err := json.Unmarshal(parts[1], &msg.EventID); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "OK event id"), ErrMalformedMessage)
		}
		if err := json.Unmarshal(parts[2], &msg.Accepted); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "OK status"), ErrMalformedMessage)
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &msg.Text)
		}
	case MsgEOSE:
		if len(parts) < 2 {
			return nil, errors.Wrap(ErrMalformedMessage, "EOSE needs subscription id")
		}
		if err := json.Unmarshal(parts[1], &msg.SubscriptionID); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "EOSE subscription id"), ErrMalformedMessage)
		}
	case MsgNotice:
		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &msg.Text)
		}
	}
	return msg, nil
}

// ParseClientMessage decodes a frame sent by a client to a relay.
func ParseClientMessage(data []byte) (*Message, error) {
	parts, label, err := split(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{Type: label}
	switch label {
	case MsgEvent:
		if len(parts) < 2 {
			return nil, errors.Wrap(ErrMalformedMessage, "EVENT needs an event")
		}
		msg.Event = parts[1]
	case MsgReq:
		if len(parts) < 2 {
			return nil, errors.Wrap(ErrMalformedMessage, "REQ needs a subscription id")
		}
		if err := json.Unmarshal(parts[1], &msg.SubscriptionID); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "REQ subscription id"), ErrMalformedMessage)
		}
		for _, raw := range parts[2:] {
			var f Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, errors.Mark(err, ErrMalformedMessage)
			}
			msg.Filters = append(msg.Filters, f)
		}
	case MsgClose:
		if len(parts) < 2 {
			return nil, errors.Wrap(ErrMalformedMessage, "CLOSE needs a subscription id")
		}
		if err := json.Unmarshal(parts[1], &msg.SubscriptionID); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "CLOSE subscription id"), ErrMalformedMessage)
		}
	}
	return msg, nil
}

func split(data []byte) ([]json.RawMessage, MsgType, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "frame is not a JSON array"), ErrMalformedMessage)
	}
	if len(parts) == 0 {
		return nil, "", errors.Wrap(ErrMalformedMessage, "empty frame")
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "frame label is not a string"), ErrMalformedMessage)
	}
	return parts, MsgType(label), nil
}
