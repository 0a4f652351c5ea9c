// Package handlers implements the gateway's inbound event handlers. They
// are registered on the server's dispatcher at boot.
package handlers

import (
	"context"
	"time"

	"medishare/logger"
	"medishare/service/chat"
	"medishare/tools/errs"
)

const storeTimeout = 5 * time.Second

type JoinHandler struct{}

func NewJoinHandler() chat.Handler  { return &JoinHandler{} }
func (h *JoinHandler) Type() string { return chat.EvtJoinRoom }

func (h *JoinHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S
	if f.ListingID == "" {
		return errs.ErrValidation.WithDetail("listingId is required")
	}

	cctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	room, err := s.Store().GetRoom(cctx, f.ListingID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(sess.UserID) {
		logger.Infof("[join] denied user=%s listing=%s", sess.UserID, f.ListingID)
		return errs.ErrAccessDenied
	}

	if !s.Rooms().Join(sess, f.ListingID) {
		return errs.ErrValidation.WithDetail("already joined another room, leave it first")
	}

	s.Emit(sess, chat.BuildJoinSuccess(room))
	s.BroadcastRoom(f.ListingID,
		chat.BuildPresence(chat.EvtUserJoined, f.ListingID, sess.UserID, sess.UserName),
		sess.SID)
	logger.Infof("[join] user=%s listing=%s sid=%s", sess.UserID, f.ListingID, sess.SID)
	return nil
}
