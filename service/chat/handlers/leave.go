package handlers

import (
	"medishare/logger"
	"medishare/service/chat"
)

type LeaveHandler struct{}

func NewLeaveHandler() chat.Handler  { return &LeaveHandler{} }
func (h *LeaveHandler) Type() string { return chat.EvtLeaveRoom }

// Handle unsubscribes the session from the room's fan-out group without
// touching the underlying connection, so it can be reused for the next
// room. No-op when the session is not a member.
func (h *LeaveHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S
	if f.ListingID == "" {
		return nil
	}
	if !s.Rooms().Leave(sess, f.ListingID) {
		return nil
	}
	s.BroadcastRoom(f.ListingID,
		chat.BuildPresence(chat.EvtUserLeft, f.ListingID, sess.UserID, sess.UserName),
		sess.SID)
	logger.Infof("[leave] user=%s listing=%s sid=%s", sess.UserID, f.ListingID, sess.SID)
	return nil
}

// RegisterAll wires every inbound event handler onto the server's
// dispatcher.
func RegisterAll(s *chat.Server) {
	s.Disp().Register(NewJoinHandler())
	s.Disp().Register(NewSendHandler())
	s.Disp().Register(NewTypingHandler())
	s.Disp().Register(NewStopTypingHandler())
	s.Disp().Register(NewLeaveHandler())
}
