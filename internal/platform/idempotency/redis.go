package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisMaxAttempts = 5

// RedisStore reserves keys with SET NX and lets Redis expire them. SaveResponse uses WATCH so a
// concurrent reservation for another fingerprint is never overwritten.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisStore(rdb *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "orderflow:idempotency:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + storageKey(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}
	redisKey := s.key(key)
	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		created, err := s.rdb.SetNX(ctx, redisKey, payload, ttlOrDefault(ttl)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		existing, found, err := s.get(ctx, redisKey)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return reservationFor(existing, fingerprint)
		}
		// expired between SETNX and GET
	}
	return Reservation{}, errors.New("idempotency: reserve: key kept expiring")
}

func (s *RedisStore) get(ctx context.Context, redisKey string) (Record, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	redisKey := s.key(key)
	save := func(tx *goredis.Tx) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		payload, err := json.Marshal(completeRecord(record, resp, now, ttl))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, ttlOrDefault(ttl))
			return nil
		})
		return err
	}
	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, save, redisKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.New("idempotency: save response: too much contention")
}

func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// CleanupExpired is a no-op: keys carry a TTL.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
