package main

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinode/pairchat/server/auth"
	"github.com/tinode/pairchat/server/db/memory"
	"github.com/tinode/pairchat/server/live"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	"github.com/tinode/pairchat/server/store/types"
)

const waitTime = 3 * time.Second

func TestMain(m *testing.M) {
	adp := memory.New()
	if err := adp.Open(nil); err != nil {
		logs.Error.Fatal(err)
	}
	st, err := store.New(adp, store.Options{UidKey: []byte("0123456789abcdef"), RetryBackoff: time.Millisecond})
	if err != nil {
		logs.Error.Fatal(err)
	}
	globals.store = st
	globals.hub = live.NewHub(st)
	globals.sessionStore = NewSessionStore()
	globals.maxMessageSize = defaultMaxMessageSize
	globals.requestTimeout = defaultRequestTimeout
	globals.authenticator, err = auth.New(json.RawMessage(
		`{"key": "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=", "expire_in": 3600}`))
	if err != nil {
		logs.Error.Fatal(err)
	}

	code := m.Run()

	globals.hub.Shutdown(time.Second)
	st.Close()
	os.Exit(code)
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newMux(defaultApiPath, defaultMetricsPath, nil))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + defaultApiPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg *ClientComMessage) {
	c.t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatal(err)
	}
}

// expect reads messages until one matches. Messages which do not match are skipped.
func (c *testClient) expect(what string, match func(*ServerComMessage) bool) *ServerComMessage {
	c.t.Helper()
	deadline := time.Now().Add(waitTime)
	for {
		c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("%s: %v", what, err)
		}
		var msg ServerComMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.t.Fatalf("%s: unexpected message '%s': %v", what, raw, err)
		}
		if match(&msg) {
			return &msg
		}
	}
}

// nextOn reads messages until one concerns the topic.
func (c *testClient) nextOn(topic string) *ServerComMessage {
	c.t.Helper()
	return c.expect("message on "+topic, func(msg *ServerComMessage) bool {
		return (msg.Ctrl != nil && msg.Ctrl.Topic == topic) || (msg.Meta != nil && msg.Meta.Topic == topic)
	})
}

func (c *testClient) expectCtrl(id string) *MsgServerCtrl {
	c.t.Helper()
	return c.expect("ctrl "+id, func(msg *ServerComMessage) bool {
		return msg.Ctrl != nil && msg.Ctrl.Id == id
	}).Ctrl
}

func (c *testClient) login(user types.UserToken) {
	c.t.Helper()
	secret, _, err := globals.authenticator.GenSecret(user, 0)
	if err != nil {
		c.t.Fatal(err)
	}
	c.send(&ClientComMessage{Hi: &MsgClientHi{Id: "hi", Secret: secret, Name: string(user)}})
	if ctrl := c.expectCtrl("hi"); ctrl.Code != 200 {
		c.t.Fatalf("login %s failed: %d %s", user, ctrl.Code, ctrl.Text)
	}
}

func (c *testClient) openChannel(peer types.UserToken) string {
	c.t.Helper()
	c.send(&ClientComMessage{Chan: &MsgClientChan{Id: "chan", With: string(peer)}})
	ctrl := c.expectCtrl("chan")
	if ctrl.Code != 200 {
		c.t.Fatalf("chan with %s failed: %d %s", peer, ctrl.Code, ctrl.Text)
	}
	return ctrl.Topic
}

func TestAuthRequired(t *testing.T) {
	c := dial(t, newTestServer(t))

	c.send(&ClientComMessage{Get: &MsgClientGet{Id: "1", Topic: topicMe}})
	if ctrl := c.expectCtrl("1"); ctrl.Code != 401 {
		t.Error("expected 401, got", ctrl.Code)
	}

	c.send(&ClientComMessage{Hi: &MsgClientHi{Id: "2", Secret: []byte("garbage")}})
	if ctrl := c.expectCtrl("2"); ctrl.Code != 401 {
		t.Error("bad token: expected 401, got", ctrl.Code)
	}
}

func TestAlreadyAuthenticated(t *testing.T) {
	c := dial(t, newTestServer(t))
	c.login("auth-twice")

	secret, _, _ := globals.authenticator.GenSecret("auth-twice", 0)
	c.send(&ClientComMessage{Hi: &MsgClientHi{Id: "again", Secret: secret}})
	if ctrl := c.expectCtrl("again"); ctrl.Code != 409 {
		t.Error("expected 409, got", ctrl.Code)
	}
}

func TestProbeAndMalformed(t *testing.T) {
	c := dial(t, newTestServer(t))

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("1")); err != nil {
		t.Fatal(err)
	}
	c.conn.SetReadDeadline(time.Now().Add(waitTime))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "0" {
		t.Errorf("probe response: got '%s'", raw)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	msg := c.expect("malformed", func(msg *ServerComMessage) bool { return msg.Ctrl != nil })
	if msg.Ctrl.Code != 400 {
		t.Error("expected 400, got", msg.Ctrl.Code)
	}
}

func TestChannelWithUnknownPeer(t *testing.T) {
	c := dial(t, newTestServer(t))
	c.login("lonely")

	c.send(&ClientComMessage{Chan: &MsgClientChan{Id: "c1", With: "nobody-here"}})
	if ctrl := c.expectCtrl("c1"); ctrl.Code != 404 {
		t.Error("expected 404, got", ctrl.Code)
	}
	c.send(&ClientComMessage{Chan: &MsgClientChan{Id: "c2", With: "lonely"}})
	if ctrl := c.expectCtrl("c2"); ctrl.Code != 400 {
		t.Error("self channel: expected 400, got", ctrl.Code)
	}
}

func TestConversation(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	alice.login("alice")
	bob.login("bob")

	// Live channel list of bob.
	bob.send(&ClientComMessage{Sub: &MsgClientSub{Id: "sub-me", Topic: topicMe}})
	if ctrl := bob.expectCtrl("sub-me"); ctrl.Code != 200 {
		t.Fatal("sub me:", ctrl.Code, ctrl.Text)
	}

	topic := alice.openChannel("bob")
	if topic != string(types.ChannelKeyOf("alice", "bob")) {
		t.Fatal("unexpected channel key", topic)
	}
	if again := bob.openChannel("alice"); again != topic {
		t.Fatal("channel key differs for the peer", again)
	}

	bob.expect("channel list", func(msg *ServerComMessage) bool {
		return msg.Meta != nil && msg.Meta.Topic == topicMe && len(msg.Meta.Chans) == 1 && msg.Meta.Chans[0] == topic
	})

	// Live messages of the channel for alice.
	alice.send(&ClientComMessage{Sub: &MsgClientSub{Id: "sub-chan", Topic: topic}})
	if ctrl := alice.expectCtrl("sub-chan"); ctrl.Code != 200 {
		t.Fatal("sub channel:", ctrl.Code, ctrl.Text)
	}
	alice.send(&ClientComMessage{Sub: &MsgClientSub{Id: "sub-dup", Topic: topic}})
	if ctrl := alice.expectCtrl("sub-dup"); ctrl.Code != 409 {
		t.Error("duplicate sub: expected 409, got", ctrl.Code)
	}

	bob.send(&ClientComMessage{Pub: &MsgClientPub{Id: "pub", Topic: topic, Content: "hello alice"}})
	ctrl := bob.expectCtrl("pub")
	if ctrl.Code != 202 {
		t.Fatal("pub:", ctrl.Code, ctrl.Text)
	}
	if params, ok := ctrl.Params.(map[string]interface{}); !ok || params["seq"] != float64(1) {
		t.Error("pub: unexpected params", ctrl.Params)
	}

	msg := alice.expect("messages", func(msg *ServerComMessage) bool {
		return msg.Meta != nil && msg.Meta.Topic == topic && len(msg.Meta.Msgs) == 1
	})
	got := msg.Meta.Msgs[0]
	if got.From != "bob" || got.To != "alice" || got.Content != "hello alice" || got.SeqId != 1 {
		t.Errorf("unexpected message %+v", got)
	}

	alice.send(&ClientComMessage{Get: &MsgClientGet{Id: "get", Topic: topic}})
	msg = alice.expect("get", func(msg *ServerComMessage) bool {
		return msg.Meta != nil && msg.Meta.Id == "get"
	})
	if len(msg.Meta.Msgs) != 1 || msg.Meta.Msgs[0].Content != "hello alice" {
		t.Errorf("get: unexpected messages %+v", msg.Meta.Msgs)
	}

	alice.send(&ClientComMessage{Leave: &MsgClientLeave{Id: "leave", Topic: topic}})
	if ctrl := alice.expectCtrl("leave"); ctrl.Code != 200 {
		t.Error("leave:", ctrl.Code)
	}
	alice.send(&ClientComMessage{Leave: &MsgClientLeave{Id: "leave2", Topic: topic}})
	if ctrl := alice.expectCtrl("leave2"); ctrl.Code != 409 {
		t.Error("second leave: expected 409, got", ctrl.Code)
	}
}

func TestSubscribeRespondsBeforeSnapshot(t *testing.T) {
	srv := newTestServer(t)
	carol := dial(t, srv)
	dave := dial(t, srv)
	carol.login("carol")
	dave.login("dave")
	topic := carol.openChannel("dave")

	for _, sub := range []string{topicMe, topic} {
		carol.send(&ClientComMessage{Sub: &MsgClientSub{Id: "sub " + sub, Topic: sub}})
		first := carol.nextOn(sub)
		if first.Ctrl == nil || first.Ctrl.Id != "sub "+sub || first.Ctrl.Code != 200 {
			t.Fatalf("sub %s: expected {ctrl} 200 first, got %+v", sub, first)
		}
		second := carol.nextOn(sub)
		if second.Meta == nil || second.Meta.Topic != sub {
			t.Fatalf("sub %s: expected {meta} snapshot, got %+v", sub, second)
		}
	}
}

func TestNotParticipant(t *testing.T) {
	srv := newTestServer(t)
	dave := dial(t, srv)
	erin := dial(t, srv)
	mallory := dial(t, srv)
	dave.login("dave")
	erin.login("erin")
	mallory.login("mallory")

	topic := dave.openChannel("erin")

	mallory.send(&ClientComMessage{Get: &MsgClientGet{Id: "get", Topic: topic}})
	if ctrl := mallory.expectCtrl("get"); ctrl.Code != 403 {
		t.Error("get: expected 403, got", ctrl.Code)
	}
	mallory.send(&ClientComMessage{Pub: &MsgClientPub{Id: "pub", Topic: topic, Content: "spam"}})
	if ctrl := mallory.expectCtrl("pub"); ctrl.Code != 403 {
		t.Error("pub: expected 403, got", ctrl.Code)
	}
	mallory.send(&ClientComMessage{Sub: &MsgClientSub{Id: "sub", Topic: "not-a-key"}})
	if ctrl := mallory.expectCtrl("sub"); ctrl.Code != 400 {
		t.Error("sub: expected 400, got", ctrl.Code)
	}
}

func TestDecodeStoreError(t *testing.T) {
	now := types.TimeNow()
	cases := []struct {
		err  error
		code int
	}{
		{nil, 200},
		{types.ErrMalformed, 400},
		{types.ErrPeerNotFound, 404},
		{types.ErrChannelNotFound, 404},
		{types.ErrRegistryInconsistent, 500},
		{types.ErrStoreUnavailable, 503},
		{live.ErrShutdown, 503},
		{auth.ErrExpired, 401},
	}
	for _, tc := range cases {
		if got := decodeStoreError(tc.err, "id", "topic", now); got.Ctrl.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, got.Ctrl.Code)
		}
	}
}
