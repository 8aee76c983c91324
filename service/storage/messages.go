package storage

import (
	"context"

	mongoc "ChatWave/service/storage/mongo"
	"ChatWave/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MessageStore persists read markers. Markers are keyed by user identity,
// not session identity — a user reading on one device marks the chat read
// for every device.
type MessageStore struct {
	coll *mongo.Collection
}

const messageCollection = "messages"

func NewMessageStore() *MessageStore {
	return &MessageStore{coll: mongoc.DB().Collection(messageCollection)}
}

// MarkRead adds userID to readBy on every message of the chat that the user
// has not read yet. $addToSet keeps the operation idempotent under replayed
// read events.
func (s *MessageStore) MarkRead(ctx context.Context, chatID, userID string) error {
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"chatId": chatID, "readBy": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"readBy": userID}},
	)
	return errs.WrapMsg(err, "messages mark read")
}
