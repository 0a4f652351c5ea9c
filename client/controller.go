package client

import (
	"sync"
	"time"

	"medishare/module/chat/model"
	"medishare/service/chat"
	"medishare/tools/errs"

	"github.com/google/uuid"
)

const (
	// SendTimeout bounds how long a send waits for its ack before the
	// optimistic entry is rolled back. No automatic retry.
	SendTimeout = 10 * time.Second

	// joinTimeout bounds the join round trip.
	joinTimeout = 10 * time.Second

	// TypingExpiry auto-clears a peer's typing indicator when no stop
	// event or refresh arrives.
	TypingExpiry = 3 * time.Second
)

// Controller bridges a UI to a connection session for one room at a time:
// join lifecycle, optimistic sends, reconciliation, typing display.
type Controller struct {
	sessions *SessionManager

	userID   string
	userName string

	mu           sync.Mutex
	conn         *Conn
	wired        *Conn // connection whose events are already subscribed
	roomID       string
	view         *View
	peerTyping   string // display name of the peer currently typing
	typingTimer  *time.Timer
	typingExpiry time.Duration

	// OnMessages receives the merged view after every change. OnTyping
	// receives the peer's name and whether the indicator is shown.
	// Optional; set before Open.
	OnMessages func([]model.Message)
	OnTyping   func(name string, active bool)
}

func NewController(sessions *SessionManager, userID, userName string) *Controller {
	return &Controller{
		sessions:     sessions,
		userID:       userID,
		userName:     userName,
		view:         NewView(),
		typingExpiry: TypingExpiry,
	}
}

// Open acquires the shared connection, joins the room and subscribes to
// its events. A previously open room on the same connection is released
// first; the transport is reused, not re-dialed.
func (ct *Controller) Open(credential, roomID string) error {
	conn, err := ct.sessions.AcquireConnection(credential)
	if err != nil {
		return err
	}

	ct.mu.Lock()
	prev := ct.roomID
	subscribe := ct.wired != conn
	ct.conn = conn
	ct.wired = conn
	ct.roomID = roomID
	ct.view = NewView()
	ct.mu.Unlock()

	if prev != "" && prev != roomID {
		ct.sessions.ReleaseRoom(conn, prev)
	}

	if subscribe {
		conn.On(chat.EvtReceiveMessage, ct.onReceive)
		conn.On(chat.EvtUserTyping, ct.onTyping)
		conn.On(chat.EvtUserStopTyping, ct.onStopTyping)
	}

	return conn.JoinRoom(roomID, ct.userID, ct.userName, joinTimeout)
}

// Send inserts an optimistic entry, emits sendMessage and waits for the
// ack. On ack failure or timeout the entry is rolled back and the error
// returned, so the UI can restore the input text.
func (ct *Controller) Send(text string) error {
	ct.mu.Lock()
	conn := ct.conn
	roomID := ct.roomID
	ct.mu.Unlock()

	if conn == nil || conn.State() != StateConnected {
		return errs.ErrNotConnected
	}
	if roomID == "" || !conn.Joined(roomID) {
		// Rejected locally, the server is not contacted.
		return errs.ErrRoomNotJoined
	}

	tempID := uuid.NewString()
	ct.mu.Lock()
	ct.view.AddPending(tempID, ct.userID, ct.userName, text, time.Now())
	ct.mu.Unlock()
	ct.notifyMessages()

	ack, err := conn.EmitWithAck(&chat.Frame{
		Type:      chat.EvtSendMessage,
		AckID:     tempID,
		ListingID: roomID,
		Text:      text,
		UserID:    ct.userID,
		UserName:  ct.userName,
	}, SendTimeout)

	if err != nil || !ack.Success {
		// Every failure path terminates the pending UI state.
		ct.mu.Lock()
		ct.view.DropPending(tempID)
		ct.mu.Unlock()
		ct.notifyMessages()
		if err != nil {
			return err
		}
		return errs.NewCodeError(ack.Code, ack.ErrMsg)
	}

	if ack.Message != nil {
		ct.mu.Lock()
		ct.view.Apply(*ack.Message)
		ct.mu.Unlock()
		ct.notifyMessages()
	}
	return nil
}

// Typing signals the peer that this user is composing. Best effort.
func (ct *Controller) Typing() {
	ct.emitTyping(chat.EvtTyping)
}

// StopTyping clears the peer's indicator early.
func (ct *Controller) StopTyping() {
	ct.emitTyping(chat.EvtStopTyping)
}

func (ct *Controller) emitTyping(evt string) {
	ct.mu.Lock()
	conn := ct.conn
	roomID := ct.roomID
	ct.mu.Unlock()
	if conn == nil || roomID == "" {
		return
	}
	_ = conn.Emit(&chat.Frame{Type: evt, ListingID: roomID, UserID: ct.userID, UserName: ct.userName})
}

// SetHistory seeds the confirmed baseline from the HTTP history endpoint.
func (ct *Controller) SetHistory(history []model.Message) {
	ct.mu.Lock()
	ct.view.SetHistory(history)
	ct.mu.Unlock()
	ct.notifyMessages()
}

// Messages snapshots the merged view.
func (ct *Controller) Messages() []model.Message {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.view.Messages()
}

// PeerTyping returns the name of the peer currently typing, or "".
func (ct *Controller) PeerTyping() string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.peerTyping
}

// Close releases the room but keeps the shared connection alive for the
// next room; SessionManager.Teardown owns transport shutdown.
func (ct *Controller) Close() {
	ct.mu.Lock()
	conn := ct.conn
	roomID := ct.roomID
	ct.roomID = ""
	ct.mu.Unlock()
	if conn != nil && roomID != "" {
		ct.sessions.ReleaseRoom(conn, roomID)
	}
}

func (ct *Controller) onReceive(f *chat.Frame) {
	ct.mu.Lock()
	if f.ListingID != ct.roomID {
		ct.mu.Unlock()
		return
	}
	changed := ct.view.Apply(*f.AsMessage())
	ct.mu.Unlock()
	if changed {
		ct.notifyMessages()
	}
}

func (ct *Controller) onTyping(f *chat.Frame) {
	if f.UserID == ct.userID {
		return
	}
	ct.mu.Lock()
	ct.peerTyping = f.UserName
	if ct.typingTimer != nil {
		ct.typingTimer.Stop()
	}
	ct.typingTimer = time.AfterFunc(ct.typingExpiry, func() {
		ct.mu.Lock()
		ct.peerTyping = ""
		ct.mu.Unlock()
		ct.notifyTyping("", false)
	})
	name := ct.peerTyping
	ct.mu.Unlock()
	ct.notifyTyping(name, true)
}

func (ct *Controller) onStopTyping(f *chat.Frame) {
	if f.UserID == ct.userID {
		return
	}
	ct.mu.Lock()
	ct.peerTyping = ""
	if ct.typingTimer != nil {
		ct.typingTimer.Stop()
		ct.typingTimer = nil
	}
	ct.mu.Unlock()
	ct.notifyTyping("", false)
}

func (ct *Controller) notifyMessages() {
	if ct.OnMessages == nil {
		return
	}
	ct.OnMessages(ct.Messages())
}

func (ct *Controller) notifyTyping(name string, active bool) {
	if ct.OnTyping != nil {
		ct.OnTyping(name, active)
	}
}
