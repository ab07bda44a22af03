package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"unicode/utf8"
)

// Serialize returns the canonical commitment bytes of an event:
//
//	[0,<pubkey>,<created_at>,<kind>,<tags>,<content>]
//
// with no whitespace and JSON string escaping limited to what JSON.stringify
// emits. encoding/json cannot be used here because it escapes <, >, & and
// U+2028/U+2029, which would change the hash other clients compute.
func Serialize(ev *Event) []byte {
	var b bytes.Buffer
	b.Grow(64 + len(ev.Content) + 32*len(ev.Tags))

	b.WriteString(`[0,"`)
	b.WriteString(ev.PubKey)
	b.WriteString(`",`)
	b.WriteString(strconv.FormatInt(ev.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(ev.Kind))
	b.WriteString(",[")
	for i, tag := range ev.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, s := range tag {
			if j > 0 {
				b.WriteByte(',')
			}
			writeString(&b, s)
		}
		b.WriteByte(']')
	}
	b.WriteString("],")
	writeString(&b, ev.Content)
	b.WriteByte(']')
	return b.Bytes()
}

// ComputeID returns the lowercase hex SHA-256 of the canonical serialization.
func ComputeID(ev *Event) string {
	sum := sha256.Sum256(Serialize(ev))
	return hex.EncodeToString(sum[:])
}

const hexDigits = "0123456789abcdef"

func writeString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			case '\b':
				b.WriteString(`\b`)
			case '\f':
				b.WriteString(`\f`)
			default:
				if c < 0x20 {
					b.WriteString(`\u00`)
					b.WriteByte(hexDigits[c>>4])
					b.WriteByte(hexDigits[c&0xf])
				} else {
					b.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteString("�")
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}
