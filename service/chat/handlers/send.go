package handlers

import (
	"context"

	"medishare/logger"
	"medishare/module/chat/model"
	"medishare/service/chat"
	"medishare/tools/errs"
	"medishare/tools/sanitize"
)

type SendHandler struct{}

func NewSendHandler() chat.Handler  { return &SendHandler{} }
func (h *SendHandler) Type() string { return chat.EvtSendMessage }

// Handle validates, sanitizes, persists and then fans out. Persistence
// strictly precedes the broadcast, and the sender gets an ack carrying the
// same persisted message every subscriber receives, so both sides converge
// on identical message identity and ordering.
func (h *SendHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S

	if err := validateSend(f); err != nil {
		s.Emit(sess, chat.BuildAckError(f.AckID, err))
		return nil
	}

	text := sanitize.Text(f.Text)
	if sanitize.IsBlank(text) {
		s.Emit(sess, chat.BuildAckError(f.AckID, errs.ErrValidation.WithDetail("message is empty after sanitization")))
		return nil
	}

	var (
		msg *model.Message
		err error
	)
	// Persist and broadcast as one unit under the room's order lock, so
	// the order subscribers see on the wire is the persisted log order
	// even when both participants send at once.
	s.SyncRoom(f.ListingID, func() {
		cctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		msg, err = s.Store().AppendMessage(cctx, f.ListingID, sess.UserID, sess.UserName, text)
		if err != nil {
			return
		}
		s.Emit(sess, chat.BuildAckOK(f.AckID, msg))
		// Broadcast to everyone in the room, the sender included.
		s.BroadcastRoom(f.ListingID, chat.BuildReceiveMessage(f.ListingID, msg), "")
	})
	if err != nil {
		// Persistence failures become ack errors, never silence.
		logger.Errorf("[send] append user=%s listing=%s err=%v", sess.UserID, f.ListingID, err)
		s.Emit(sess, chat.BuildAckError(f.AckID, err))
	}
	return nil
}

func validateSend(f *chat.Frame) error {
	if f.ListingID == "" {
		return errs.ErrValidation.WithDetail("listingId is required")
	}
	if sanitize.IsBlank(f.Text) {
		return errs.ErrValidation.WithDetail("message text is empty")
	}
	if len([]rune(f.Text)) > sanitize.MaxMessageLen {
		return errs.ErrValidation.WithDetail("message text exceeds length cap")
	}
	return nil
}
