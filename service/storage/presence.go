package storage

import (
	"context"
	"time"

	"ChatWave/logger"
	redisc "ChatWave/service/storage/redis"
	"ChatWave/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Presence projection in Redis, updated only at 0->1 / 1->0 edges.
//
// cw:presence:<user> -> gateway_id   (TTL bounds staleness if a node dies)
// cw:online          -> set of user ids currently online anywhere

func presenceKey(user string) string { return "cw:presence:" + user }

const onlineSetKey = "cw:online"

// Presence combines the fast Redis projection with the durable user store.
// The gateway consults it once per setup to seed the online list and writes
// it only on presence edges; the in-memory registry stays authoritative for
// the live process.
type Presence struct {
	users     *UserStore
	gatewayID string
	ttl       time.Duration
}

func NewPresence(users *UserStore, gatewayID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Presence{users: users, gatewayID: gatewayID, ttl: ttl}
}

// SetOnline records the 0->1 edge: projection first (cheap, bounds the race
// window for other gateways), durable flag second.
func (p *Presence) SetOnline(ctx context.Context, userID string) error {
	pipe := redisc.Get().TxPipeline()
	pipe.Set(ctx, presenceKey(userID), p.gatewayID, p.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence projection online")
	}
	if err := p.users.SetOnline(ctx, userID); err != nil {
		return err
	}
	return nil
}

// SetOffline records the 1->0 edge together with the last-seen timestamp
// captured at disconnect time.
func (p *Presence) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	pipe := redisc.Get().TxPipeline()
	pipe.Del(ctx, presenceKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence projection offline")
	}
	if err := p.users.SetOffline(ctx, userID, lastSeen); err != nil {
		return err
	}
	return nil
}

// OnlineUserIDs seeds a fresh session's presence view. The Redis set is the
// fast path; on any Redis trouble the durable flags in Mongo answer instead.
func (p *Presence) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids, err := redisc.Get().SMembers(ctx, onlineSetKey).Result()
	if err != nil && err != redis.Nil {
		logger.Warnf("[presence] redis seed failed, falling back to mongo: %v", err)
		return p.users.OnlineUserIDs(ctx)
	}
	return ids, nil
}

// LookupGateway answers which gateway a user is attached to, for targeted
// cross-node delivery. Empty string means not online anywhere.
func LookupGateway(ctx context.Context, userID string) (string, error) {
	val, err := redisc.Get().Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errs.WrapMsg(err, "presence lookup")
	}
	return val, nil
}
