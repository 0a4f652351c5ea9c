package store

import (
	"context"
	"time"

	"medishare/module/chat/model"
	"medishare/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps each room as one document with an embedded message
// array. A single $push is the only mutation of the log, so the driver's
// document-level atomicity serializes near-simultaneous sends.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(model.RoomTableName)}
}

// EnsureIndexes creates the uniqueness constraint: at most one room per
// listing.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "listing_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "participants.user_id", Value: 1}},
		},
	})
	return errors.Wrap(err, "create chat_rooms indexes")
}

func (s *MongoStore) CreateRoom(ctx context.Context, listingID string, owner, requester model.Participant) (*model.Room, error) {
	if listingID == "" {
		return nil, errs.ErrValidation.WithDetail("listing id is required")
	}
	if owner.UserID == "" || requester.UserID == "" || owner.UserID == requester.UserID {
		return nil, errs.ErrValidation.WithDetail("a room needs two distinct participants")
	}
	now := time.Now().UTC()
	room := &model.Room{
		ListingID:    listingID,
		Participants: []model.Participant{owner, requester},
		Messages:     []model.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.coll.InsertOne(ctx, room); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrValidation.WithDetail("room already exists for listing " + listingID)
		}
		return nil, errs.ErrStorageFailure.WrapMsg("insert room", "listingId", listingID, "err", err)
	}
	return room, nil
}

func (s *MongoStore) GetRoom(ctx context.Context, listingID string) (*model.Room, error) {
	var room model.Room
	err := s.coll.FindOne(ctx, bson.M{"listing_id": listingID}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrRoomNotFound
	}
	if err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("find room", "listingId", listingID, "err", err)
	}
	return &room, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, listingID, senderID, senderName, text string) (*model.Message, error) {
	msg := model.Message{
		ID:         primitive.NewObjectID().Hex(),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"listing_id": listingID, "participants.user_id": senderID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set":  bson.M{"updated_at": msg.Timestamp},
		},
	)
	if err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("append message", "listingId", listingID, "err", err)
	}
	if res.MatchedCount == 0 {
		// Either the room is gone or the sender is not a member; the
		// filter cannot tell the two apart, so probe once more.
		if _, gerr := s.GetRoom(ctx, listingID); gerr != nil {
			return nil, gerr
		}
		return nil, errs.ErrAccessDenied
	}
	return &msg, nil
}

func (s *MongoStore) History(ctx context.Context, listingID string) ([]model.Message, error) {
	room, err := s.GetRoom(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return room.Messages, nil
}

func (s *MongoStore) ListForUser(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"participants.user_id": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	if err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("list rooms", "userId", userID, "err", err)
	}
	defer cur.Close(ctx)

	var out []model.ChatSummary
	for cur.Next(ctx) {
		var room model.Room
		if err := cur.Decode(&room); err != nil {
			return nil, errs.ErrStorageFailure.WrapMsg("decode room", "err", err)
		}
		out = append(out, summarize(&room, userID))
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("iterate rooms", "err", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteRoom(ctx context.Context, listingID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"listing_id": listingID})
	return errors.Wrap(err, "delete room")
}
