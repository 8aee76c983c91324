package storage

import (
	"context"
	"time"

	mongoc "ChatWave/service/storage/mongo"
	"ChatWave/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserStore owns the durable online/last-seen projection on the users
// collection. It is written only on presence edges, never per heartbeat.
type UserStore struct {
	coll *mongo.Collection
}

const userCollection = "users"

func NewUserStore() *UserStore {
	return &UserStore{coll: mongoc.DB().Collection(userCollection)}
}

func (s *UserStore) SetOnline(ctx context.Context, userID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"isOnline": true}},
		options.Update().SetUpsert(true),
	)
	return errs.WrapMsg(err, "users set online")
}

func (s *UserStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"isOnline": false, "lastSeen": lastSeen.UnixMilli()}},
		options.Update().SetUpsert(true),
	)
	return errs.WrapMsg(err, "users set offline")
}

func (s *UserStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"isOnline": true},
		options.Find().SetProjection(bson.M{"userId": 1}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "users find online")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []string
	for cur.Next(ctx) {
		var doc struct {
			UserID string `bson:"userId"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.WrapMsg(err, "users decode online")
		}
		if doc.UserID != "" {
			out = append(out, doc.UserID)
		}
	}
	return out, errs.Wrap(cur.Err())
}
