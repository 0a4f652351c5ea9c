// Package client is the Go SDK for the chat core: a session-managed
// websocket connection plus a controller that keeps an optimistic,
// deduplicated view of one room's messages.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	"medishare/logger"
	"medishare/service/chat"
	"medishare/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// ConnState is the transport lifecycle:
// disconnected -> connecting -> connected -> (reconnecting <-> connected)
// -> disconnected (terminal after the retry budget is spent).
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type SessionConfig struct {
	URL string // ws:// or wss:// endpoint

	BaseDelay   time.Duration // reconnect backoff base (default 500ms)
	MaxDelay    time.Duration // reconnect backoff cap (default 5s)
	MaxAttempts int           // reconnect attempts before giving up (default 5)

	Dialer  *websocket.Dialer
	OnState func(ConnState) // optional state-change notifications
}

func (c *SessionConfig) norm() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// SessionManager guarantees at most one live transport connection per
// process, reused across room switches, recreated only when the
// credential changes or the prior connection became unusable.
type SessionManager struct {
	cfg  SessionConfig
	mu   sync.Mutex
	conn *Conn
}

func NewSessionManager(cfg SessionConfig) *SessionManager {
	cfg.norm()
	return &SessionManager{cfg: cfg}
}

// AcquireConnection returns the existing connection unchanged when it was
// authenticated with the same credential and is still usable. A missing
// credential means "not ready", not a retryable error.
func (m *SessionManager) AcquireConnection(credential string) (*Conn, error) {
	if credential == "" {
		return nil, errs.ErrNotConnected.WithDetail("missing credential")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && m.conn.credential == credential && m.conn.State() != StateDisconnected {
		return m.conn, nil
	}
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}

	conn, err := dialConn(m.cfg, credential)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	return conn, nil
}

// ReleaseRoom leaves the given room without closing the connection, so the
// transport can be reused for the next room. No-op when the connection is
// not in that room.
func (m *SessionManager) ReleaseRoom(conn *Conn, roomID string) {
	if conn == nil || roomID == "" {
		return
	}
	conn.leaveRoom(roomID)
}

// Teardown closes the connection and clears all subscriptions. Application
// shutdown only; room switches must go through ReleaseRoom so navigation
// does not thrash the transport.
func (m *SessionManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
}

// Conn is one live authenticated transport link.
type Conn struct {
	cfg        SessionConfig
	credential string

	state atomic.Int32

	mu       sync.Mutex // guards ws writes, handlers, room/join state, waiters
	ws       *websocket.Conn
	handlers map[string][]func(*chat.Frame)
	pending  map[string]chan *chat.Frame // ackId -> waiter
	joinWait chan *chat.Frame            // single in-flight join
	room     string                      // room to rejoin after a drop
	joined   bool

	closed    chan struct{}
	closeOnce sync.Once
}

func dialConn(cfg SessionConfig, credential string) (*Conn, error) {
	c := &Conn{
		cfg:        cfg,
		credential: credential,
		handlers:   make(map[string][]func(*chat.Frame)),
		pending:    make(map[string]chan *chat.Frame),
		closed:     make(chan struct{}),
	}
	c.setState(StateConnecting)
	ws, err := c.dial()
	if err != nil {
		c.setState(StateDisconnected)
		return nil, errs.ErrNotConnected.WithDetail(err.Error())
	}
	c.ws = ws
	c.setState(StateConnected)
	go c.readLoop()
	return c, nil
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ws, _, err := c.cfg.Dialer.Dial(c.cfg.URL+"?token="+c.credential, nil)
	return ws, err
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) {
	if ConnState(c.state.Swap(int32(s))) != s && c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// On subscribes to a server event type. Callbacks run on the read loop, so
// they interleave cooperatively with sends, never concurrently.
func (c *Conn) On(evt string, fn func(*chat.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[evt] = append(c.handlers[evt], fn)
}

// Emit writes one frame. Fails fast when the transport is not connected.
func (c *Conn) Emit(f *chat.Frame) error {
	if c.State() != StateConnected {
		return errs.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errs.ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, f.Encode())
}

// EmitWithAck writes a frame carrying an ackId and waits for the matching
// ack, bounded by timeout. There is no mid-flight cancellation; the
// timeout is the only bound.
func (c *Conn) EmitWithAck(f *chat.Frame, timeout time.Duration) (*chat.Frame, error) {
	if f.AckID == "" {
		return nil, errs.ErrValidation.WithDetail("ackId is required")
	}
	ch := make(chan *chat.Frame, 1)
	c.mu.Lock()
	c.pending[f.AckID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.AckID)
		c.mu.Unlock()
	}()

	if err := c.Emit(f); err != nil {
		return nil, err
	}

	select {
	case ack := <-ch:
		if ack == nil { // waiter failed by a terminal disconnect
			return nil, errs.ErrNotConnected
		}
		return ack, nil
	case <-time.After(timeout):
		return nil, errs.ErrSendTimeout
	case <-c.closed:
		return nil, errs.ErrNotConnected
	}
}

// JoinRoom emits joinRoom and waits for the confirmation (or the gateway's
// error event). The room is remembered for automatic rejoin after a drop.
func (c *Conn) JoinRoom(roomID, userID, userName string, timeout time.Duration) error {
	ch := make(chan *chat.Frame, 1)
	c.mu.Lock()
	c.joinWait = ch
	c.room = roomID
	c.joined = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.joinWait = nil
		c.mu.Unlock()
	}()

	err := c.Emit(&chat.Frame{Type: chat.EvtJoinRoom, ListingID: roomID, UserID: userID, UserName: userName})
	if err != nil {
		return err
	}

	select {
	case f := <-ch:
		if f.Type == chat.EvtError {
			c.mu.Lock()
			c.room, c.joined = "", false
			c.mu.Unlock()
			return errs.NewCodeError(f.Code, f.ErrMsg)
		}
		return nil
	case <-time.After(timeout):
		return errs.ErrSendTimeout.WithDetail("join not confirmed")
	case <-c.closed:
		return errs.ErrNotConnected
	}
}

// Joined reports whether the current room membership is confirmed.
func (c *Conn) Joined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && c.room == roomID
}

func (c *Conn) leaveRoom(roomID string) {
	c.mu.Lock()
	inRoom := c.room == roomID
	if inRoom {
		c.room, c.joined = "", false
	}
	c.mu.Unlock()
	if inRoom {
		_ = c.Emit(&chat.Frame{Type: chat.EvtLeaveRoom, ListingID: roomID})
	}
}

func (c *Conn) readLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if !c.reconnect() {
				// Retry budget spent: terminal, surfaced as fatal.
				c.setState(StateDisconnected)
				c.failWaiters()
				c.fire(chat.EvtError, chat.BuildErrorFrame(errs.ErrConnectionLost))
				return
			}
			continue
		}

		f, perr := chat.ParseFrameJSON(data)
		if perr != nil {
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f *chat.Frame) {
	switch f.Type {
	case chat.EvtAck:
		c.mu.Lock()
		ch := c.pending[f.AckID]
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	case chat.EvtJoinSuccess:
		c.mu.Lock()
		if f.ListingID == c.room {
			c.joined = true
		}
		ch := c.joinWait
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- f:
			default:
			}
		}
	case chat.EvtError:
		c.mu.Lock()
		ch := c.joinWait
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- f:
			default:
			}
		}
	}
	c.fire(f.Type, f)
}

func (c *Conn) fire(evt string, f *chat.Frame) {
	c.mu.Lock()
	fns := append([]func(*chat.Frame){}, c.handlers[evt]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}

// reconnect re-dials with bounded exponential backoff and, on success,
// rejoins whatever room was active before the drop. Returns false once the
// attempt cap is exceeded.
func (c *Conn) reconnect() bool {
	c.setState(StateReconnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // attempts are the cap, not wall time
	bo.Reset()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-c.closed:
			return false
		case <-time.After(bo.NextBackOff()):
		}

		ws, err := c.dial()
		if err != nil {
			logger.Infof("[client] reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)
			continue
		}

		c.mu.Lock()
		old := c.ws
		c.ws = ws
		room := c.room
		c.joined = false
		c.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		c.setState(StateConnected)

		if room != "" {
			// Rejoin without user action; messages sent by the peer
			// during the drop are not replayed, history has to be
			// refetched for that.
			_ = c.Emit(&chat.Frame{Type: chat.EvtJoinRoom, ListingID: room})
		}
		return true
	}
	return false
}

func (c *Conn) failWaiters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.handlers = map[string][]func(*chat.Frame){}
		c.room, c.joined = "", false
		c.mu.Unlock()
		c.setState(StateDisconnected)
	})
}
