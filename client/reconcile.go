package client

import (
	"time"

	"medishare/module/chat/model"
)

// ReconcileWindow is how close in time a pending entry and an incoming
// authoritative message must be to count as the same send. The sender's
// own optimistic insert and the server's broadcast-to-self can arrive in
// either order, so matching falls back from id to (sender, text, window).
const ReconcileWindow = 2 * time.Second

// Entry is one row of the merged message view: either a confirmed message
// or a client-local optimistic one awaiting its server echo.
type Entry struct {
	Message model.Message
	Pending bool
	TempID  string // set only while Pending
}

// View maintains the merged, deduplicated, chronologically-ordered message
// list for one room. It is a plain data structure; the controller
// serializes access.
type View struct {
	entries []Entry
	byID    map[string]int // authoritative id -> index
}

func NewView() *View {
	return &View{byID: make(map[string]int)}
}

// SetHistory replaces the confirmed baseline (initial history fetch).
// Pending entries are kept at the tail.
func (v *View) SetHistory(history []model.Message) {
	var pending []Entry
	for _, e := range v.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}
	v.entries = make([]Entry, 0, len(history)+len(pending))
	v.byID = make(map[string]int, len(history))
	for _, m := range history {
		v.byID[m.ID] = len(v.entries)
		v.entries = append(v.entries, Entry{Message: m})
	}
	v.entries = append(v.entries, pending...)
}

// AddPending inserts an optimistic entry at the tail, visible immediately.
func (v *View) AddPending(tempID, senderID, senderName, text string, now time.Time) {
	v.entries = append(v.entries, Entry{
		Message: model.Message{
			ID:         tempID,
			SenderID:   senderID,
			SenderName: senderName,
			Text:       text,
			Timestamp:  now,
		},
		Pending: true,
		TempID:  tempID,
	})
}

// DropPending removes an optimistic entry (ack failure or timeout).
// Returns false if it was already reconciled away.
func (v *View) DropPending(tempID string) bool {
	for i, e := range v.entries {
		if e.Pending && e.TempID == tempID {
			v.removeAt(i)
			return true
		}
	}
	return false
}

// Apply merges one authoritative message. Duplicate delivery is a no-op.
// A pending entry from the same sender with the same text inside the
// reconcile window is replaced in place; otherwise the message is
// appended. Returns true if the view changed.
func (v *View) Apply(msg model.Message) bool {
	if _, known := v.byID[msg.ID]; known {
		return false
	}
	for i, e := range v.entries {
		if !e.Pending || e.Message.SenderID != msg.SenderID || e.Message.Text != msg.Text {
			continue
		}
		if delta := msg.Timestamp.Sub(e.Message.Timestamp); delta < -ReconcileWindow || delta > ReconcileWindow {
			continue
		}
		v.entries[i] = Entry{Message: msg}
		v.byID[msg.ID] = i
		return true
	}
	v.byID[msg.ID] = len(v.entries)
	v.entries = append(v.entries, Entry{Message: msg})
	return true
}

// Messages snapshots the merged list in display order.
func (v *View) Messages() []model.Message {
	out := make([]model.Message, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.Message
	}
	return out
}

// PendingCount reports how many optimistic entries are still unreconciled.
func (v *View) PendingCount() int {
	n := 0
	for _, e := range v.entries {
		if e.Pending {
			n++
		}
	}
	return n
}

func (v *View) removeAt(i int) {
	v.entries = append(v.entries[:i], v.entries[i+1:]...)
	for id, idx := range v.byID {
		if idx > i {
			v.byID[id] = idx - 1
		}
	}
}
