package chat

import "sync"

// Rooms tracks which sessions are subscribed to which room's fan-out
// group. A session is a member of at most one room at a time.
type Rooms struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]*Session // listingID -> sid -> session
	bySID  map[string]string              // sid -> listingID
}

func NewRooms() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]*Session),
		bySID:  make(map[string]string),
	}
}

// Join subscribes the session. Returns false if the session is already a
// member of a different room; callers must leave first.
func (r *Rooms) Join(s *Session, listingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.bySID[s.SID]; ok && cur != listingID {
		return false
	}
	m := r.byRoom[listingID]
	if m == nil {
		m = make(map[string]*Session)
		r.byRoom[listingID] = m
	}
	m[s.SID] = s
	r.bySID[s.SID] = listingID
	return true
}

// Leave unsubscribes the session from the given room. Returns false if it
// was not a member.
func (r *Rooms) Leave(s *Session, listingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bySID[s.SID] != listingID {
		return false
	}
	r.dropLocked(s.SID, listingID)
	return true
}

// DropSession removes the session from whatever room it is in (transport
// disconnect path). Returns the room it was in, or "".
func (r *Rooms) DropSession(sid string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	listingID, ok := r.bySID[sid]
	if !ok {
		return ""
	}
	r.dropLocked(sid, listingID)
	return listingID
}

func (r *Rooms) dropLocked(sid, listingID string) {
	if m := r.byRoom[listingID]; m != nil {
		delete(m, sid)
		if len(m) == 0 {
			delete(r.byRoom, listingID)
		}
	}
	delete(r.bySID, sid)
}

// RoomOf returns the room the session is currently in, or "".
func (r *Rooms) RoomOf(sid string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySID[sid]
}

// Members lists the sessions currently subscribed to a room.
func (r *Rooms) Members(listingID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byRoom[listingID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
