package devrelay

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hypermark/nostr"
)

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	r := New(zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *nostr.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := nostr.ParseRelayMessage(data)
	require.NoError(t, err)
	return msg
}

func signed(t *testing.T, kind int, createdAt int64, tags nostr.Tags, content string) nostr.Event {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x21}, 32))
	ev := nostr.Event{Kind: kind, CreatedAt: createdAt, Tags: tags, Content: content}
	require.NoError(t, nostr.Sign(&ev, priv))
	return ev
}

func publish(t *testing.T, conn *websocket.Conn, ev nostr.Event) *nostr.Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(nostr.EventMessage(ev)))
	return read(t, conn)
}

func decodeEvent(t *testing.T, msg *nostr.Message) nostr.Event {
	t.Helper()
	var ev nostr.Event
	require.NoError(t, json.Unmarshal(msg.Event, &ev))
	return ev
}

func TestPublishReplaceableAndQuery(t *testing.T) {
	r, url := startRelay(t)
	conn := dial(t, url)

	v1 := signed(t, nostr.KindBookmarkState, 1700000000, nostr.Tags{{"d", "bm-1"}, {"app", "hypermark"}}, "")
	v2 := signed(t, nostr.KindBookmarkState, 1700000100, nostr.Tags{{"d", "bm-1"}, {"app", "hypermark"}}, "")

	ok := publish(t, conn, v1)
	assert.Equal(t, nostr.MsgOK, ok.Type)
	assert.True(t, ok.Accepted)
	assert.True(t, publish(t, conn, v2).Accepted)

	// older replacement is acknowledged but does not win
	assert.True(t, publish(t, conn, v1).Accepted)

	stored := r.Events()
	require.Len(t, stored, 1)
	assert.Equal(t, v2.ID, stored[0].ID)

	require.NoError(t, conn.WriteJSON(nostr.ReqMessage("s1", nostr.Filter{
		Kinds: []int{nostr.KindBookmarkState},
		Tags:  map[string][]string{"d": {"bm-1"}},
	})))
	ev := read(t, conn)
	assert.Equal(t, nostr.MsgEvent, ev.Type)
	assert.Equal(t, v2.ID, decodeEvent(t, ev).ID)
	assert.Equal(t, nostr.MsgEOSE, read(t, conn).Type)
}

func TestRejectsBadSignature(t *testing.T) {
	r, url := startRelay(t)
	conn := dial(t, url)

	ev := signed(t, nostr.KindTextNote, 1700000000, nil, "hi")
	ev.Content = "tampered"
	ok := publish(t, conn, ev)
	assert.False(t, ok.Accepted)
	assert.Contains(t, ok.Text, "invalid")
	assert.Empty(t, r.Events())
}

func TestDeleteRemovesAddressedSlot(t *testing.T) {
	r, url := startRelay(t)
	conn := dial(t, url)

	state := signed(t, nostr.KindBookmarkState, 1700000000, nostr.Tags{{"d", "bm-1"}}, "")
	require.True(t, publish(t, conn, state).Accepted)

	addr := nostr.Address{Kind: nostr.KindBookmarkState, PubKey: state.PubKey, D: "bm-1"}
	del := signed(t, nostr.KindDelete, 1700000050, nostr.Tags{{"a", addr.String()}}, "")
	require.True(t, publish(t, conn, del).Accepted)

	stored := r.Events()
	require.Len(t, stored, 1)
	assert.Equal(t, nostr.KindDelete, stored[0].Kind)
}

func TestLiveFanOutWithTamper(t *testing.T) {
	r, url := startRelay(t)
	sub := dial(t, url)
	pub := dial(t, url)

	require.NoError(t, sub.WriteJSON(nostr.ReqMessage("live", nostr.Filter{Kinds: []int{nostr.KindTextNote}})))
	assert.Equal(t, nostr.MsgEOSE, read(t, sub).Type)

	r.SetTamper(func(ev *nostr.Event) { ev.Sig = strings.Repeat("0", 128) })
	ev := signed(t, nostr.KindTextNote, 1700000000, nil, "hello")
	require.True(t, publish(t, pub, ev).Accepted)

	got := decodeEvent(t, read(t, sub))
	assert.Equal(t, ev.ID, got.ID)
	assert.False(t, nostr.Verify(&got))
	// stored copy is untouched
	assert.True(t, nostr.Verify(&r.Events()[0]))
}

func TestCloseStopsDelivery(t *testing.T) {
	r, url := startRelay(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(nostr.ReqMessage("s", nostr.Filter{})))
	assert.Equal(t, nostr.MsgEOSE, read(t, conn).Type)
	require.NoError(t, conn.WriteJSON(nostr.CloseMessage("s")))

	// REQ/CLOSE are processed in order, so a NOTICE round trip proves CLOSE landed
	require.NoError(t, conn.WriteJSON([]interface{}{"PING"}))
	assert.Equal(t, nostr.MsgNotice, read(t, conn).Type)

	r.Inject(signed(t, nostr.KindTextNote, 1700000000, nil, "x"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestLimitKeepsNewest(t *testing.T) {
	r, url := startRelay(t)
	conn := dial(t, url)

	for i := int64(0); i < 3; i++ {
		r.Inject(signed(t, nostr.KindTextNote, 1700000000+i, nil, "n"))
	}
	require.NoError(t, conn.WriteJSON(nostr.ReqMessage("s", nostr.Filter{Limit: 1})))
	got := decodeEvent(t, read(t, conn))
	assert.Equal(t, int64(1700000002), got.CreatedAt)
	assert.Equal(t, nostr.MsgEOSE, read(t, conn).Type)
}
