package model

import "time"

const RoomTableName = "chat_rooms"

// Participant is a denormalized snapshot of one side of a room.
type Participant struct {
	UserID string `bson:"user_id" json:"userId"`
	Name   string `bson:"name" json:"name"`
	Avatar string `bson:"avatar,omitempty" json:"avatar,omitempty"`
}

// Message is one entry of a room's append-only log. Immutable once
// persisted; ID and Timestamp are server-assigned.
type Message struct {
	ID         string    `bson:"_id" json:"_id"`
	SenderID   string    `bson:"sender_id" json:"senderId"`
	SenderName string    `bson:"sender_name" json:"senderName"`
	Text       string    `bson:"text" json:"text"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

// Room is the persisted 2-party channel for one listing. The participant
// set is fixed at creation by the request-approval flow; messages are only
// ever appended, so array order is chronological order.
type Room struct {
	ListingID    string        `bson:"listing_id" json:"listingId"`
	Participants []Participant `bson:"participants" json:"participants"`
	Messages     []Message     `bson:"messages" json:"messages"`
	CreatedAt    time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updatedAt"`
}

func (*Room) TableName() string { return RoomTableName }

// IsParticipant reports whether userID is one of the room's two parties.
func (r *Room) IsParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID. Falls back to the
// first participant when userID is not a member.
func (r *Room) Other(userID string) Participant {
	for _, p := range r.Participants {
		if p.UserID != userID {
			return p
		}
	}
	if len(r.Participants) > 0 {
		return r.Participants[0]
	}
	return Participant{}
}

// ChatSummary is one row of a user's chat list: the room plus the peer
// seen from the caller's side.
type ChatSummary struct {
	ListingID       string    `json:"listingId"`
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Avatar          string    `json:"avatar,omitempty"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
