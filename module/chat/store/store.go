// Package store owns the persisted room/message state. The gateway is the
// only writer of messages; the CRUD layer creates rooms when a request is
// approved.
package store

import (
	"context"

	"medishare/module/chat/model"
)

// RoomStore is the authorization and persistence boundary of the chat
// core. AppendMessage must be atomic with respect to concurrent appends to
// the same room; the returned message carries the server-assigned id and
// timestamp.
type RoomStore interface {
	// CreateRoom registers the one room for a listing. Fails if a room
	// for the listing already exists or the participants are not exactly
	// two distinct identities.
	CreateRoom(ctx context.Context, listingID string, owner, requester model.Participant) (*model.Room, error)

	// GetRoom returns the room for a listing, or errs.ErrRoomNotFound.
	GetRoom(ctx context.Context, listingID string) (*model.Room, error)

	// AppendMessage appends one message to the room's log and bumps the
	// room's last-activity timestamp in the same update.
	AppendMessage(ctx context.Context, listingID, senderID, senderName, text string) (*model.Message, error)

	// History returns the room's messages in persisted (chronological)
	// order.
	History(ctx context.Context, listingID string) ([]model.Message, error)

	// ListForUser returns one summary per room the user participates in,
	// most recently active first.
	ListForUser(ctx context.Context, userID string) ([]model.ChatSummary, error)

	// DeleteRoom removes a room; used when the owning listing is deleted.
	DeleteRoom(ctx context.Context, listingID string) error
}

func summarize(r *model.Room, userID string) model.ChatSummary {
	peer := r.Other(userID)
	s := model.ChatSummary{
		ListingID:       r.ListingID,
		ParticipantID:   peer.UserID,
		ParticipantName: peer.Name,
		Avatar:          peer.Avatar,
		UpdatedAt:       r.UpdatedAt,
	}
	if n := len(r.Messages); n > 0 {
		s.LastMessage = r.Messages[n-1].Text
	}
	return s
}
