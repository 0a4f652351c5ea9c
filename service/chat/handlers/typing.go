package handlers

import "medishare/service/chat"

// Typing indicators are best-effort UI hints: no persistence, no ack, no
// ordering guarantee, and never echoed back to the sender.

type TypingHandler struct{}

func NewTypingHandler() chat.Handler  { return &TypingHandler{} }
func (h *TypingHandler) Type() string { return chat.EvtTyping }

func (h *TypingHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	relayTyping(ctx.S, chat.EvtUserTyping, f, sess)
	return nil
}

type StopTypingHandler struct{}

func NewStopTypingHandler() chat.Handler  { return &StopTypingHandler{} }
func (h *StopTypingHandler) Type() string { return chat.EvtStopTyping }

func (h *StopTypingHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	relayTyping(ctx.S, chat.EvtUserStopTyping, f, sess)
	return nil
}

func relayTyping(s *chat.Server, evt string, f *chat.Frame, sess *chat.Session) {
	// Dropped silently unless the sender is actually in the room.
	if f.ListingID == "" || s.Rooms().RoomOf(sess.SID) != f.ListingID {
		return
	}
	s.BroadcastRoom(f.ListingID,
		chat.BuildPresence(evt, f.ListingID, sess.UserID, sess.UserName),
		sess.SID)
}
