package validate

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/teranos/hypermark/nostr"
)

var (
	hex64  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	hex128 = regexp.MustCompile(`^[0-9a-f]{128}$`)
)

// RequiredFields lists the seven event fields, in wire order.
var RequiredFields = []string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

// Structure checks that raw is a JSON object carrying all seven event
// fields with the right types and formats, and returns the typed event.
func Structure(raw json.RawMessage) (*nostr.Event, *Failure) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fail(CodeInvalidType, "event is not a JSON object")
	}

	for _, name := range RequiredFields {
		if _, ok := fields[name]; !ok {
			return nil, fail(CodeMissingField, "missing required field "+name, "field", name)
		}
	}

	ev := &nostr.Event{}

	if f := hexField(fields["id"], "id", hex64, &ev.ID); f != nil {
		return nil, f
	}
	if f := hexField(fields["pubkey"], "pubkey", hex64, &ev.PubKey); f != nil {
		return nil, f
	}
	if f := hexField(fields["sig"], "sig", hex128, &ev.Sig); f != nil {
		return nil, f
	}

	createdAt, ok := integer(fields["created_at"])
	if !ok {
		return nil, fail(CodeInvalidType, "created_at must be an integer", "field", "created_at")
	}
	ev.CreatedAt = createdAt

	kind, ok := integer(fields["kind"])
	if !ok || kind < 0 {
		return nil, fail(CodeInvalidType, "kind must be a non-negative integer", "field", "kind")
	}
	ev.Kind = int(kind)

	if !isString(fields["content"]) {
		return nil, fail(CodeInvalidType, "content must be a string", "field", "content")
	}
	_ = json.Unmarshal(fields["content"], &ev.Content)

	tags, f := tagList(fields["tags"])
	if f != nil {
		return nil, f
	}
	ev.Tags = tags

	return ev, nil
}

func hexField(raw json.RawMessage, name string, pattern *regexp.Regexp, dst *string) *Failure {
	if !isString(raw) {
		return fail(CodeInvalidType, name+" must be a string", "field", name)
	}
	_ = json.Unmarshal(raw, dst)
	if !pattern.MatchString(*dst) {
		return fail(CodeInvalidFormat, name+" must be lowercase hex of the right length", "field", name, "length", len(*dst))
	}
	return nil
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return false
	}
	var s string
	return json.Unmarshal(raw, &s) == nil
}

func integer(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

func tagList(raw json.RawMessage) (nostr.Tags, *Failure) {
	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fail(CodeInvalidType, "tags must be an array", "field", "tags")
	}

	tags := make(nostr.Tags, 0, len(outer))
	for i, entry := range outer {
		var elems []json.RawMessage
		if err := json.Unmarshal(entry, &elems); err != nil || elems == nil {
			return nil, fail(CodeInvalidTag, "tag must be an array", "index", i)
		}
		if len(elems) == 0 {
			return nil, fail(CodeInvalidTag, "tag must not be empty", "index", i)
		}
		tag := make(nostr.Tag, len(elems))
		for j, e := range elems {
			if !isString(e) {
				return nil, fail(CodeInvalidTag, "tag elements must be strings", "index", i, "element", j)
			}
			_ = json.Unmarshal(e, &tag[j])
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
