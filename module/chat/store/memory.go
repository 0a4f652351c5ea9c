package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"medishare/module/chat/model"
	"medishare/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is a map-backed RoomStore for tests and local development.
// The mutex stands in for Mongo's document-level atomicity.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*model.Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*model.Room)}
}

func (s *MemoryStore) CreateRoom(_ context.Context, listingID string, owner, requester model.Participant) (*model.Room, error) {
	if listingID == "" {
		return nil, errs.ErrValidation.WithDetail("listing id is required")
	}
	if owner.UserID == "" || requester.UserID == "" || owner.UserID == requester.UserID {
		return nil, errs.ErrValidation.WithDetail("a room needs two distinct participants")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[listingID]; exists {
		return nil, errs.ErrValidation.WithDetail("room already exists for listing " + listingID)
	}
	now := time.Now().UTC()
	room := &model.Room{
		ListingID:    listingID,
		Participants: []model.Participant{owner, requester},
		Messages:     []model.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.rooms[listingID] = room
	return cloneRoom(room), nil
}

func (s *MemoryStore) GetRoom(_ context.Context, listingID string) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[listingID]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, listingID, senderID, senderName, text string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[listingID]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	if !room.IsParticipant(senderID) {
		return nil, errs.ErrAccessDenied
	}
	msg := model.Message{
		ID:         primitive.NewObjectID().Hex(),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}
	room.Messages = append(room.Messages, msg)
	room.UpdatedAt = msg.Timestamp
	return &msg, nil
}

func (s *MemoryStore) History(_ context.Context, listingID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[listingID]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	out := make([]model.Message, len(room.Messages))
	copy(out, room.Messages)
	return out, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]model.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatSummary
	for _, room := range s.rooms {
		if room.IsParticipant(userID) {
			out = append(out, summarize(room, userID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, listingID)
	return nil
}

func cloneRoom(r *model.Room) *model.Room {
	out := *r
	out.Participants = append([]model.Participant(nil), r.Participants...)
	out.Messages = append([]model.Message(nil), r.Messages...)
	return &out
}
