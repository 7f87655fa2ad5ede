package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps presence:{user} keys. Online records expire after ttl unless
// refreshed, so a crashed client drops to unknown on its own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(userID string) string { return "presence:" + userID }

func (s *RedisStore) Lookup(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return StateUnknown, ErrInvalidUser
	}
	v, err := s.rdb.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, err
	}
	switch State(v) {
	case StateOnline:
		return StateOnline, nil
	case StateOffline:
		return StateOffline, nil
	default:
		return StateUnknown, nil
	}
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	return s.rdb.Set(ctx, key(userID), string(StateOnline), s.ttl).Err()
}

// MarkOffline records an explicit disconnect. The record does not expire.
func (s *RedisStore) MarkOffline(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	return s.rdb.Set(ctx, key(userID), string(StateOffline), 0).Err()
}
