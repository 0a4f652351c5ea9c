package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medishare/module/chat/model"
	"medishare/module/chat/store"
	"medishare/service/chat"
	"medishare/tools/errs"
	"medishare/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	testListing = "listing-1"
	readBudget  = 3 * time.Second
)

type testEnv struct {
	srv   *chat.Server
	web   *httptest.Server
	jwt   security.Options
	store *store.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtOpts := security.DefaultOptions([]byte("handlers-test-secret"))
	st := store.NewMemoryStore()
	srv := chat.NewServer(chat.ServerConf{NodeID: "node-test", JWT: jwtOpts}, st)
	RegisterAll(srv)

	r := gin.New()
	r.GET("/ws", srv.HandleWS)
	web := httptest.NewServer(r)
	t.Cleanup(func() {
		web.Close()
		srv.Close()
	})

	if _, err := st.CreateRoom(context.Background(), testListing,
		model.Participant{UserID: "owner", Name: "Olive"},
		model.Participant{UserID: "requester", Name: "Rita"},
	); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	return &testEnv{srv: srv, web: web, jwt: jwtOpts, store: st}
}

func (e *testEnv) dial(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()
	token, _, err := security.Generate(e.jwt, userID, name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(e.web.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f *chat.Frame) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, f.Encode()); err != nil {
		t.Fatalf("write %s frame: %v", f.Type, err)
	}
}

// waitFrame reads until a frame of one of the wanted types arrives,
// skipping unrelated events (presence chatter mostly).
func waitFrame(t *testing.T, conn *websocket.Conn, types ...string) *chat.Frame {
	t.Helper()
	deadline := time.Now().Add(readBudget)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %v: %v", types, err)
		}
		f, err := chat.ParseFrameJSON(data)
		if err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		for _, want := range types {
			if f.Type == want {
				return f
			}
		}
	}
}

// expectSilence asserts that no frame arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(window))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected silence, got frame %q", data)
	}
}

func join(t *testing.T, conn *websocket.Conn, listingID string) *chat.Frame {
	t.Helper()
	sendFrame(t, conn, &chat.Frame{Type: chat.EvtJoinRoom, ListingID: listingID})
	f := waitFrame(t, conn, chat.EvtJoinSuccess, chat.EvtError)
	if f.Type == chat.EvtError {
		t.Fatalf("join rejected: code=%d %s", f.Code, f.ErrMsg)
	}
	return f
}

func TestJoinAndExchangeMessages(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	requester := env.dial(t, "requester", "Rita")

	js := join(t, owner, testListing)
	if js.ChatID != testListing || len(js.Participants) != 2 {
		t.Fatalf("joinSuccess payload: chatId=%q participants=%v", js.ChatID, js.Participants)
	}
	join(t, requester, testListing)
	if f := waitFrame(t, owner, chat.EvtUserJoined); f.UserID != "requester" {
		t.Fatalf("userJoined for %q, want requester", f.UserID)
	}

	sendFrame(t, owner, &chat.Frame{
		Type:      chat.EvtSendMessage,
		AckID:     "tmp-1",
		ListingID: testListing,
		Text:      "Hello, is this still available?",
	})

	ack := waitFrame(t, owner, chat.EvtAck)
	if !ack.Success || ack.Message == nil {
		t.Fatalf("ack = success=%v message=%v err=%s", ack.Success, ack.Message, ack.ErrMsg)
	}
	if ack.AckID != "tmp-1" {
		t.Fatalf("ack correlates %q, want tmp-1", ack.AckID)
	}
	if ack.Message.ID == "" || ack.Message.Timestamp.IsZero() {
		t.Fatalf("ack message missing server stamps: %+v", ack.Message)
	}

	got := waitFrame(t, owner, chat.EvtReceiveMessage)
	peerGot := waitFrame(t, requester, chat.EvtReceiveMessage)
	for _, f := range []*chat.Frame{got, peerGot} {
		if f.MsgID != ack.Message.ID {
			t.Fatalf("broadcast id %q, ack id %q", f.MsgID, ack.Message.ID)
		}
		if f.SenderID != "owner" || f.SenderName != "Olive" {
			t.Fatalf("broadcast sender %s/%s", f.SenderID, f.SenderName)
		}
		if f.Text != "Hello, is this still available?" {
			t.Fatalf("broadcast text %q", f.Text)
		}
		if f.Timestamp != ack.Message.Timestamp.UnixMilli() {
			t.Fatalf("broadcast ts %d, ack ts %d", f.Timestamp, ack.Message.Timestamp.UnixMilli())
		}
	}

	history, err := env.store.History(context.Background(), testListing)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != ack.Message.ID {
		t.Fatalf("history = %+v, want the one persisted message", history)
	}
}

func TestJoinDeniedForOutsider(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	join(t, owner, testListing)

	outsider := env.dial(t, "mallory", "Mallory")
	sendFrame(t, outsider, &chat.Frame{Type: chat.EvtJoinRoom, ListingID: testListing})
	f := waitFrame(t, outsider, chat.EvtJoinSuccess, chat.EvtError)
	if f.Type != chat.EvtError || f.Code != errs.ErrAccessDenied.Code {
		t.Fatalf("outsider join: type=%s code=%d", f.Type, f.Code)
	}

	// the denial must not leak into the room
	expectSilence(t, owner, 300*time.Millisecond)

	// sends from the outsider are rejected at the persistence boundary too
	sendFrame(t, outsider, &chat.Frame{
		Type: chat.EvtSendMessage, AckID: "tmp-x", ListingID: testListing, Text: "let me in",
	})
	ack := waitFrame(t, outsider, chat.EvtAck)
	if ack.Success || ack.Code != errs.ErrAccessDenied.Code {
		t.Fatalf("outsider send ack: success=%v code=%d", ack.Success, ack.Code)
	}
	history, _ := env.store.History(context.Background(), testListing)
	if len(history) != 0 {
		t.Fatalf("outsider send persisted: %+v", history)
	}
}

func TestJoinUnknownListing(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")

	sendFrame(t, owner, &chat.Frame{Type: chat.EvtJoinRoom, ListingID: "no-such-listing"})
	f := waitFrame(t, owner, chat.EvtJoinSuccess, chat.EvtError)
	if f.Type != chat.EvtError || f.Code != errs.ErrRoomNotFound.Code {
		t.Fatalf("unknown listing join: type=%s code=%d", f.Type, f.Code)
	}
}

func TestSendValidationAndSanitization(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	join(t, owner, testListing)

	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \t\n  "},
		{"too long", strings.Repeat("a", 1001)},
		{"script only", "<script>alert('x')</script>"},
	}
	for _, tc := range cases {
		sendFrame(t, owner, &chat.Frame{
			Type: chat.EvtSendMessage, AckID: "tmp-" + tc.name, ListingID: testListing, Text: tc.text,
		})
		ack := waitFrame(t, owner, chat.EvtAck)
		if ack.Success || ack.Code != errs.ErrValidation.Code {
			t.Fatalf("%s: ack success=%v code=%d msg=%s", tc.name, ack.Success, ack.Code, ack.ErrMsg)
		}
	}
	if history, _ := env.store.History(context.Background(), testListing); len(history) != 0 {
		t.Fatalf("rejected sends were persisted: %+v", history)
	}

	// markup is stripped, surviving text goes through
	sendFrame(t, owner, &chat.Frame{
		Type: chat.EvtSendMessage, AckID: "tmp-ok", ListingID: testListing,
		Text: "<script>alert('x')</script>still interested",
	})
	ack := waitFrame(t, owner, chat.EvtAck)
	if !ack.Success {
		t.Fatalf("sanitized send rejected: code=%d %s", ack.Code, ack.ErrMsg)
	}
	if ack.Message.Text != "still interested" {
		t.Fatalf("sanitized text = %q", ack.Message.Text)
	}
	history, _ := env.store.History(context.Background(), testListing)
	if len(history) != 1 || history[0].Text != "still interested" {
		t.Fatalf("history after sanitized send = %+v", history)
	}
}

func TestTypingRelayedToPeerOnly(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	requester := env.dial(t, "requester", "Rita")
	join(t, owner, testListing)
	join(t, requester, testListing)
	waitFrame(t, owner, chat.EvtUserJoined)

	sendFrame(t, requester, &chat.Frame{Type: chat.EvtTyping, ListingID: testListing})
	if f := waitFrame(t, owner, chat.EvtUserTyping); f.UserID != "requester" {
		t.Fatalf("userTyping from %q", f.UserID)
	}
	expectSilence(t, requester, 300*time.Millisecond) // never echoed to the sender

	sendFrame(t, requester, &chat.Frame{Type: chat.EvtStopTyping, ListingID: testListing})
	if f := waitFrame(t, owner, chat.EvtUserStopTyping); f.UserID != "requester" {
		t.Fatalf("userStoppedTyping from %q", f.UserID)
	}

	// indicators from a non-member are dropped on the floor
	outsider := env.dial(t, "mallory", "Mallory")
	sendFrame(t, outsider, &chat.Frame{Type: chat.EvtTyping, ListingID: testListing})
	expectSilence(t, owner, 300*time.Millisecond)
}

func TestLeaveStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	requester := env.dial(t, "requester", "Rita")
	join(t, owner, testListing)
	join(t, requester, testListing)
	waitFrame(t, owner, chat.EvtUserJoined)

	sendFrame(t, requester, &chat.Frame{Type: chat.EvtLeaveRoom, ListingID: testListing})
	if f := waitFrame(t, owner, chat.EvtUserLeft); f.UserID != "requester" {
		t.Fatalf("userLeft from %q", f.UserID)
	}

	sendFrame(t, owner, &chat.Frame{
		Type: chat.EvtSendMessage, AckID: "tmp-1", ListingID: testListing, Text: "anyone there?",
	})
	waitFrame(t, owner, chat.EvtReceiveMessage)
	expectSilence(t, requester, 300*time.Millisecond)

	// the message still persisted; the peer reads it from history later
	history, _ := env.store.History(context.Background(), testListing)
	if len(history) != 1 {
		t.Fatalf("history = %+v", history)
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	env := newTestEnv(t)
	owner := env.dial(t, "owner", "Olive")
	requester := env.dial(t, "requester", "Rita")
	join(t, owner, testListing)
	join(t, requester, testListing)
	waitFrame(t, owner, chat.EvtUserJoined)

	_ = requester.Close()
	if f := waitFrame(t, owner, chat.EvtUserLeft); f.UserID != "requester" {
		t.Fatalf("userLeft from %q", f.UserID)
	}
}

// slowAppendStore lets a test hold one sender's Handle between the store
// append and the broadcast, to exercise concurrent sends to one room.
type slowAppendStore struct {
	store.RoomStore
	slowSender string
	persisted  chan struct{} // closed once the slow sender's append lands
	release    chan struct{}
}

func (s *slowAppendStore) AppendMessage(ctx context.Context, listingID, senderID, senderName, text string) (*model.Message, error) {
	msg, err := s.RoomStore.AppendMessage(ctx, listingID, senderID, senderName, text)
	if err == nil && senderID == s.slowSender {
		close(s.persisted)
		<-s.release
	}
	return msg, err
}

func drainReceived(t *testing.T, sess *chat.Session, n int) []string {
	t.Helper()
	var texts []string
	for len(texts) < n {
		select {
		case data := <-sess.Send:
			f, err := chat.ParseFrameJSON(data)
			if err != nil {
				t.Fatalf("bad frame %q: %v", data, err)
			}
			if f.Type == chat.EvtReceiveMessage {
				texts = append(texts, f.Text)
			}
		case <-time.After(readBudget):
			t.Fatalf("timed out after %d of %d broadcasts", len(texts), n)
		}
	}
	return texts
}

func TestConcurrentSendsKeepWireOrderEqualToLog(t *testing.T) {
	mem := store.NewMemoryStore()
	if _, err := mem.CreateRoom(context.Background(), testListing,
		model.Participant{UserID: "owner", Name: "Olive"},
		model.Participant{UserID: "requester", Name: "Rita"},
	); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	st := &slowAppendStore{
		RoomStore:  mem,
		slowSender: "owner",
		persisted:  make(chan struct{}),
		release:    make(chan struct{}),
	}
	srv := chat.NewServer(chat.ServerConf{NodeID: "node-test"}, st)
	t.Cleanup(srv.Close)

	owner := &chat.Session{SID: "sid-a", UserID: "owner", UserName: "Olive", Send: make(chan []byte, 16)}
	requester := &chat.Session{SID: "sid-b", UserID: "requester", UserName: "Rita", Send: make(chan []byte, 16)}
	srv.Rooms().Join(owner, testListing)
	srv.Rooms().Join(requester, testListing)

	h := NewSendHandler()
	done := make(chan error, 2)
	go func() {
		done <- h.Handle(&chat.Context{S: srv}, &chat.Frame{
			Type: chat.EvtSendMessage, AckID: "a1", ListingID: testListing, Text: "first",
		}, owner)
	}()
	<-st.persisted // owner's message is in the log, its broadcast still pending

	go func() {
		done <- h.Handle(&chat.Context{S: srv}, &chat.Frame{
			Type: chat.EvtSendMessage, AckID: "b1", ListingID: testListing, Text: "second",
		}, requester)
	}()
	time.Sleep(50 * time.Millisecond) // give the second send every chance to jump the queue
	close(st.release)

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	history, err := mem.History(context.Background(), testListing)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var logged []string
	for _, m := range history {
		logged = append(logged, m.Text)
	}
	if len(logged) != 2 || logged[0] != "first" {
		t.Fatalf("persisted log = %v", logged)
	}

	for _, sess := range []*chat.Session{owner, requester} {
		wire := drainReceived(t, sess, 2)
		for i := range logged {
			if wire[i] != logged[i] {
				t.Fatalf("%s observed %v, persisted log is %v", sess.UserID, wire, logged)
			}
		}
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.web.URL, "http") + "/ws?token=not-a-jwt"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake status = %v, want 401", resp)
	}
}
