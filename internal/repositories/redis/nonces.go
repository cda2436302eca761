package redis

import (
	"context"
	"errors"
	"time"
)

// NonceStore records callback nonces with SET NX and a TTL so replays are rejected across instances.
type NonceStore struct {
	client *Client
	now    func() time.Time
}

func NewNonceStore(client *Client) *NonceStore {
	return &NonceStore{client: client, now: time.Now}
}

func (s *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("redis: scope and nonce are required")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("redis: nonce expiry is in the past")
	}
	return s.client.rdb.SetNX(ctx, s.client.Key("nonces", scope, nonce), 1, ttl).Result()
}
