package validate

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hypermark/nostr"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	v, err := New(opts)
	require.NoError(t, err)
	return v
}

func testKey() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x5a}, 32))
	return priv
}

func stateEvent(t *testing.T, mutate func(ev *nostr.Event)) nostr.Event {
	t.Helper()
	ev := nostr.Event{
		CreatedAt: testNow.Unix(),
		Kind:      nostr.KindBookmarkState,
		Tags: nostr.Tags{
			{nostr.TagD, "bm-1"},
			{nostr.TagApp, "hypermark"},
			{nostr.TagVersion, "1"},
			{nostr.TagType, "bookmark"},
		},
		Content: "AAAAAAAAAAAAAAAA:c2VjcmV0",
	}
	if mutate != nil {
		mutate(&ev)
	}
	require.NoError(t, nostr.Sign(&ev, testKey()))
	return ev
}

func toRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok, "error is not a *Failure: %v", err)
	assert.Equal(t, code, f.Code, f.Message)
}

func TestValidateAcceptsWellFormedState(t *testing.T) {
	ev := stateEvent(t, nil)
	classified, err := testValidator(t).Validate(toRaw(t, ev))
	require.NoError(t, err)

	state, ok := classified.(nostr.StateEvent)
	require.True(t, ok)
	assert.Equal(t, "bm-1", state.D)
	assert.Equal(t, ev.ID, state.ID)
}

func TestStructureMissingEachField(t *testing.T) {
	ev := stateEvent(t, nil)
	var full map[string]interface{}
	require.NoError(t, json.Unmarshal(toRaw(t, ev), &full))

	for _, field := range RequiredFields {
		t.Run(field, func(t *testing.T) {
			partial := make(map[string]interface{}, len(full))
			for k, v := range full {
				if k != field {
					partial[k] = v
				}
			}
			_, f := Structure(toRaw(t, partial))
			require.NotNil(t, f)
			assert.Equal(t, CodeMissingField, f.Code)
			assert.Equal(t, field, f.Details["field"])
		})
	}
}

func TestStructureTypeErrors(t *testing.T) {
	ev := stateEvent(t, nil)

	tests := []struct {
		name  string
		field string
		value interface{}
		code  Code
	}{
		{"uppercase id", "id", strings.ToUpper(ev.ID), CodeInvalidFormat},
		{"short pubkey", "pubkey", ev.PubKey[:10], CodeInvalidFormat},
		{"short sig", "sig", ev.Sig[:64], CodeInvalidFormat},
		{"numeric id", "id", 12, CodeInvalidType},
		{"negative kind", "kind", -1, CodeInvalidType},
		{"fractional kind", "kind", 1.5, CodeInvalidType},
		{"string created_at", "created_at", "1700000000", CodeInvalidType},
		{"fractional created_at", "created_at", 1.25, CodeInvalidType},
		{"numeric content", "content", 5, CodeInvalidType},
		{"null content", "content", nil, CodeInvalidType},
		{"tags object", "tags", map[string]string{}, CodeInvalidType},
		{"tags null", "tags", nil, CodeInvalidType},
		{"empty tag", "tags", [][]string{{}}, CodeInvalidTag},
		{"non-string tag element", "tags", []interface{}{[]interface{}{"d", 1}}, CodeInvalidTag},
		{"tag not array", "tags", []interface{}{"d"}, CodeInvalidTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(toRaw(t, ev), &m))
			m[tt.field] = tt.value
			_, f := Structure(toRaw(t, m))
			require.NotNil(t, f)
			assert.Equal(t, tt.code, f.Code, f.Message)
		})
	}
}

func TestStructureRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[]`, `"x"`, `null`, `{`} {
		_, f := Structure(json.RawMessage(raw))
		require.NotNil(t, f, raw)
		assert.Equal(t, CodeInvalidType, f.Code)
	}
}

func TestTimestampWindow(t *testing.T) {
	check := Timestamp(func() time.Time { return testNow }, DefaultMinCreatedAt, time.Hour)

	ok := stateEvent(t, func(ev *nostr.Event) { ev.CreatedAt = testNow.Unix() + 3600 })
	assert.Nil(t, check(&ok))

	future := stateEvent(t, func(ev *nostr.Event) { ev.CreatedAt = testNow.Unix() + 3601 })
	f := check(&future)
	require.NotNil(t, f)
	assert.Equal(t, CodeTimestampFuture, f.Code)

	old := stateEvent(t, func(ev *nostr.Event) { ev.CreatedAt = DefaultMinCreatedAt - 1 })
	f = check(&old)
	require.NotNil(t, f)
	assert.Equal(t, CodeTimestampTooOld, f.Code)

	edge := stateEvent(t, func(ev *nostr.Event) { ev.CreatedAt = DefaultMinCreatedAt })
	assert.Nil(t, check(&edge))
}

func TestTagLimit(t *testing.T) {
	v := testValidator(t)

	atLimit := stateEvent(t, func(ev *nostr.Event) {
		for len(ev.Tags) < DefaultMaxTags {
			ev.Tags = append(ev.Tags, nostr.Tag{"tag", "x"})
		}
	})
	assert.NoError(t, v.ValidateEvent(&atLimit, false))

	over := stateEvent(t, func(ev *nostr.Event) {
		for len(ev.Tags) <= DefaultMaxTags {
			ev.Tags = append(ev.Tags, nostr.Tag{"tag", "x"})
		}
	})
	requireCode(t, v.ValidateEvent(&over, false), CodeTooManyTags)
}

func TestContentSizeLimit(t *testing.T) {
	check := ContentSize(DefaultMaxContentBytes)

	fits := nostr.Event{Content: strings.Repeat("a", DefaultMaxContentBytes)}
	assert.Nil(t, check(&fits))

	big := nostr.Event{Content: strings.Repeat("a", DefaultMaxContentBytes+1)}
	f := check(&big)
	require.NotNil(t, f)
	assert.Equal(t, CodeContentTooLarge, f.Code)

	// multi-byte runes count as bytes, not characters
	multi := nostr.Event{Content: strings.Repeat("é", DefaultMaxContentBytes/2+1)}
	assert.NotNil(t, check(&multi))
}

func TestBookmarkStateRules(t *testing.T) {
	v := testValidator(t)

	noD := stateEvent(t, func(ev *nostr.Event) { ev.Tags = ev.Tags[1:] })
	requireCode(t, v.ValidateEvent(&noD, false), CodeMissingTag)

	noApp := stateEvent(t, func(ev *nostr.Event) {
		ev.Tags = nostr.Tags{{nostr.TagD, "bm-1"}}
	})
	requireCode(t, v.ValidateEvent(&noApp, false), CodeMissingTag)

	otherApp := stateEvent(t, func(ev *nostr.Event) { ev.Tags[1][1] = "hypermark-fork" })
	requireCode(t, v.ValidateEvent(&otherApp, false), CodeAppMismatch)

	empty := stateEvent(t, func(ev *nostr.Event) { ev.Content = "" })
	assert.NoError(t, v.ValidateEvent(&empty, false))

	for _, content := range []string{"plain", "a:b:c", ":abc", "abc:", "!!!:abc"} {
		bad := stateEvent(t, func(ev *nostr.Event) { ev.Content = content })
		requireCode(t, v.ValidateEvent(&bad, false), CodeInvalidContent)
	}
}

func TestProtocolVersion(t *testing.T) {
	v := testValidator(t)

	v2 := stateEvent(t, func(ev *nostr.Event) { ev.Tags[2][1] = "2" })
	requireCode(t, v.ValidateEvent(&v2, false), CodeUnsupportedVersion)

	garbage := stateEvent(t, func(ev *nostr.Event) { ev.Tags[2][1] = "one" })
	requireCode(t, v.ValidateEvent(&garbage, false), CodeUnsupportedVersion)

	minor := stateEvent(t, func(ev *nostr.Event) { ev.Tags[2][1] = "1.3" })
	assert.NoError(t, v.ValidateEvent(&minor, false))

	missing := stateEvent(t, func(ev *nostr.Event) { ev.Tags = append(ev.Tags[:2], ev.Tags[3:]...) })
	assert.NoError(t, v.ValidateEvent(&missing, false))

	_, err := New(Options{Versions: "not a constraint"})
	assert.Error(t, err)
}

func TestDeletionRules(t *testing.T) {
	v := testValidator(t)
	sign := func(tags nostr.Tags) nostr.Event {
		ev := nostr.Event{CreatedAt: testNow.Unix(), Kind: nostr.KindDelete, Tags: tags}
		require.NoError(t, nostr.Sign(&ev, testKey()))
		return ev
	}

	good := sign(nostr.Tags{{nostr.TagAddress, "30053:pk:bm-1"}})
	classified, err := v.Validate(toRaw(t, good))
	require.NoError(t, err)
	_, ok := classified.(nostr.DeleteEvent)
	assert.True(t, ok)

	missing := sign(nostr.Tags{{nostr.TagD, "bm-1"}})
	requireCode(t, v.ValidateEvent(&missing, false), CodeMissingTag)

	short := sign(nostr.Tags{{nostr.TagAddress, "30053:pk"}})
	requireCode(t, v.ValidateEvent(&short, false), CodeInvalidAddress)
}

func TestSignatureIsLastAndSkippable(t *testing.T) {
	v := testValidator(t)
	ev := stateEvent(t, nil)
	ev.Sig = strings.Repeat("0", 128)

	requireCode(t, v.ValidateEvent(&ev, false), CodeInvalidSignature)
	assert.NoError(t, v.ValidateEvent(&ev, true))

	// a cheaper failure wins over a bad signature
	ev.CreatedAt = 1
	requireCode(t, v.ValidateEvent(&ev, false), CodeTimestampTooOld)
}

func TestSignatureRejectsContentTamper(t *testing.T) {
	v := testValidator(t)
	ev := stateEvent(t, nil)
	ev.Content = "BBBBBBBBBBBBBBBB:c2VjcmV0"

	_, err := v.Validate(toRaw(t, ev))
	requireCode(t, err, CodeInvalidSignature)
}

func TestFailureFormatting(t *testing.T) {
	f := fail(CodeTooManyTags, "too many", "count", 101)
	assert.Equal(t, "TOO_MANY_TAGS: too many", f.Error())
	assert.Contains(t, f.LogFields(), "count")
	assert.Equal(t, 101, f.Details["count"])
}
