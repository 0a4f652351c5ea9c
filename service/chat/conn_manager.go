package chat

import (
	"net"
	"sync"
	"time"

	"medishare/tools/safe"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ===== configuration =====

type ManagerConf struct {
	SessionTTL time.Duration    // liveness window, refreshed by pong (e.g. 2m)
	SweepEvery time.Duration    // sweeper period (e.g. 10s)
	SendQueue  int              // per-session outbound queue length
	Clock      func() time.Time // injectable clock (tests); nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 2 * time.Minute
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
}

// ===== data structures =====

// Session is one live, authenticated websocket attachment. Identity is
// fixed at handshake; Room holds the current (at most one) joined room and
// is only touched by the session's own read loop.
type Session struct {
	SID      string // snowflake connection id
	UserID   string
	UserName string

	Conn   *websocket.Conn
	Remote net.Addr
	Send   chan []byte // per-session outbound queue

	CreatedAt time.Time
	Heartbeat time.Time
	TTL       time.Duration
	ExpireAt  time.Time

	closeOnce sync.Once
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.Send)
		_ = s.Conn.Close()
	})
}

// Enqueue queues a payload for the write pump; a slow consumer loses the
// frame rather than blocking the gateway.
func (s *Session) Enqueue(payload []byte) bool {
	defer func() { recover() }() // racing a close is tolerated
	select {
	case s.Send <- payload:
		return true
	default:
		return false
	}
}

// writePump drains Send onto the wire. One goroutine per session.
func (s *Session) writePump() {
	for payload := range s.Send {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}
	_ = s.Conn.Close()
}

type ConnManager struct {
	mu     sync.RWMutex
	bySID  map[string]*Session            // primary index: sid -> session
	byUser map[string]map[string]*Session // secondary: userID -> (sid -> session)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	nodeID   string
}

// ===== construction / shutdown =====

func NewConnManager(nodeID string) *ConnManager {
	return NewConnManagerWithConf(ManagerConf{}, nodeID)
}

func NewConnManagerWithConf(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySID:  make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		conf:   conf,
		nodeID: nodeID,
		stopCh: make(chan struct{}),
	}
	safe.Go(m.sweeper)
	return m
}

func (m *ConnManager) NodeID() string { return m.nodeID }

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.bySID {
		s.close()
	}
	m.bySID = map[string]*Session{}
	m.byUser = map[string]map[string]*Session{}
}

// ===== registration =====

// Add registers an authenticated session and starts its write pump.
func (m *ConnManager) Add(sid, userID, userName string, conn *websocket.Conn) (*Session, error) {
	if sid == "" || userID == "" || conn == nil {
		return nil, errors.New("sid/user/conn empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySID[sid]; exists {
		return nil, errors.New("sid exists")
	}

	s := &Session{
		SID:       sid,
		UserID:    userID,
		UserName:  userName,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		Send:      make(chan []byte, m.conf.SendQueue),
		CreatedAt: now,
		Heartbeat: now,
		TTL:       m.conf.SessionTTL,
		ExpireAt:  now.Add(m.conf.SessionTTL),
	}
	m.bySID[sid] = s
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][sid] = s

	safe.Go(s.writePump)
	return s, nil
}

func (m *ConnManager) Get(sid string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySID[sid]
	return s, ok
}

// RefreshHeartbeat renews a session's expiry (pong or inbound frame).
func (m *ConnManager) RefreshHeartbeat(sid string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySID[sid]
	if !ok {
		return errors.New("sid not found")
	}
	s.Heartbeat = now
	s.ExpireAt = now.Add(s.TTL)
	return nil
}

// AttachPongHandler binds the gorilla PongHandler so pongs renew the TTL.
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, sid string) {
	if conn == nil || sid == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		_ = m.RefreshHeartbeat(sid) // session may have been swept already
		return nil
	})
}

// Remove closes and deregisters the session.
func (m *ConnManager) Remove(sid string) {
	m.mu.Lock()
	s, ok := m.bySID[sid]
	if ok {
		delete(m.bySID, sid)
		if mm := m.byUser[s.UserID]; mm != nil {
			delete(mm, sid)
			if len(mm) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
	}
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// SessionCount returns the number of live sessions on this node.
func (m *ConnManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySID)
}

// UserSessions lists the live sessions of one user on this node.
func (m *ConnManager) UserSessions(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

// ===== sweeper =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*Session

	m.mu.Lock()
	for sid, s := range m.bySID {
		if now.After(s.ExpireAt) {
			// collect and close outside the lock
			expired = append(expired, s)
			delete(m.bySID, sid)
			if mm := m.byUser[s.UserID]; mm != nil {
				delete(mm, sid)
				if len(mm) == 0 {
					delete(m.byUser, s.UserID)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
}
