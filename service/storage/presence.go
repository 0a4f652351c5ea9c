// Package storage tracks which users are currently attached to a gateway
// node, so the CRUD layer can show availability next to a chat entry.
package storage

import (
	"context"
	"time"

	rds "medishare/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: chat:presence:<user>
// Value: gateway node id, TTL controls the online validity period.
func presenceKey(user string) string { return "chat:presence:" + user }

// Online sets the user as online on the given node and renews the TTL.
func Online(ctx context.Context, user, nodeID string, ttl time.Duration) error {
	return rds.Get().Set(ctx, presenceKey(user), nodeID, ttl).Err()
}

// Offline actively sets the user offline (deletes the key).
func Offline(ctx context.Context, user string) error {
	return rds.Get().Del(ctx, presenceKey(user)).Err()
}

// Lookup checks whether the user is online and on which node.
func Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := rds.Get().Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
