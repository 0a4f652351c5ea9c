package chat

import (
	"hash/fnv"
	"sync"
	"time"

	"medishare/module/chat/store"
	"medishare/tools/safe"
	"medishare/tools/security"
)

type ServerConf struct {
	NodeID      string
	JWT         security.Options
	PresenceTTL time.Duration // presence record lifetime, 0 disables presence
	Workers     int
	Queue       int
}

func (c *ServerConf) norm() {
	if c.NodeID == "" {
		c.NodeID = "gateway_01"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Queue <= 0 {
		c.Queue = 256
	}
}

// Server is the gateway-side authority for room membership, persistence
// ordering and fan-out. One instance per process.
type Server struct {
	conf    ServerConf
	store   store.RoomStore
	connMgr *ConnManager
	rooms   *Rooms
	fanout  *Fanout
	disp    *Dispatcher
	bridge  *Bridge // nil when single-node

	// Striped per-room order locks; see SyncRoom.
	orderMu [64]sync.Mutex
}

func NewServer(conf ServerConf, st store.RoomStore) *Server {
	conf.norm()
	safe.MustNotNil(st, "room store")
	return &Server{
		conf:    conf,
		store:   st,
		connMgr: NewConnManager(conf.NodeID),
		rooms:   NewRooms(),
		fanout:  NewFanout(conf.Workers, conf.Queue),
		disp:    NewDispatcher(),
	}
}

func (s *Server) Conf() ServerConf       { return s.conf }
func (s *Server) Store() store.RoomStore { return s.store }
func (s *Server) ConnMgr() *ConnManager  { return s.connMgr }
func (s *Server) Rooms() *Rooms          { return s.rooms }
func (s *Server) Disp() *Dispatcher      { return s.disp }

// AttachBridge enables cross-node fan-out; call before serving traffic.
func (s *Server) AttachBridge(b *Bridge) { s.bridge = b }

// SyncRoom runs fn under the room's order lock. The send path holds it
// across persist and broadcast: the store append is atomic on its own, but
// without the lock two connections' handlers can interleave between append
// and broadcast, and subscribers would observe a wire order that disagrees
// with the persisted log.
func (s *Server) SyncRoom(listingID string, fn func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(listingID))
	mu := &s.orderMu[h.Sum32()%uint32(len(s.orderMu))]
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// Emit writes one frame to one session.
func (s *Server) Emit(sess *Session, f *Frame) bool {
	return sess.Enqueue(f.Encode())
}

// BroadcastRoom fans a frame out to the room's local subscribers and, when
// a bridge is attached, to the room's subscribers on other nodes. Pass
// exceptSID="" to include everyone.
func (s *Server) BroadcastRoom(listingID string, f *Frame, exceptSID string) {
	s.DeliverLocal(listingID, f, exceptSID)
	if s.bridge != nil {
		s.bridge.Publish(listingID, f, exceptSID)
	}
}

// DeliverLocal delivers to this node's subscribers only. The bridge uses
// it when replaying frames from other nodes, so nothing loops back.
func (s *Server) DeliverLocal(listingID string, f *Frame, exceptSID string) {
	members := s.rooms.Members(listingID)
	if exceptSID != "" {
		kept := members[:0]
		for _, m := range members {
			if m.SID != exceptSID {
				kept = append(kept, m)
			}
		}
		members = kept
	}
	s.fanout.Broadcast(listingID, members, f.Encode())
}

// Close tears down the bridge, the worker pool and all sessions.
func (s *Server) Close() {
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.fanout.Close()
	s.connMgr.Close()
}
