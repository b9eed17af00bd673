package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm-dialogs/internal/common/errors"
)

const (
	stackKeyPrefix = "dialog:stack:"
	dataKeyPrefix  = "dialog:data:"
	lockKeyPrefix  = "dialog:lock:"

	DefaultLockTTL = 2 * time.Minute
)

// releaseLock deletes the lock only when it still holds the caller's token.
const releaseLock = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisStore keeps each conversation's stack as a JSON string and its data as a
// hash. Both keys expire after ttl of inactivity. Turn locks are SET NX keys
// that expire after lockTTL so a crashed holder cannot wedge a conversation.
type RedisStore struct {
	client  redis.Cmdable
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, lockTTL: DefaultLockTTL}
}

// WithLockTTL overrides how long an unreleased turn lock survives.
func (s *RedisStore) WithLockTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func stackKey(conversationID string) string { return stackKeyPrefix + conversationID }

func dataKey(conversationID string) string { return dataKeyPrefix + conversationID }

func lockKey(conversationID string) string { return lockKeyPrefix + conversationID }

func (s *RedisStore) Lock(ctx context.Context, conversationID string) (Unlock, error) {
	key := lockKey(conversationID)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, storeErr(fmt.Errorf("lock conversation: %w", err))
	}
	if !ok {
		return nil, errors.NewConversationBusyError(conversationID)
	}

	return func(ctx context.Context) error {
		if err := s.client.Eval(ctx, releaseLock, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return storeErr(fmt.Errorf("unlock conversation: %w", err))
		}
		return nil
	}, nil
}

func (s *RedisStore) LoadStack(ctx context.Context, conversationID string) ([]Frame, error) {
	raw, err := s.client.Get(ctx, stackKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("load stack: %w", err))
	}

	var frames []Frame
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil, storeErr(fmt.Errorf("decode stack: %w", err))
	}
	return frames, nil
}

func (s *RedisStore) SaveStack(ctx context.Context, conversationID string, frames []Frame) error {
	raw, err := json.Marshal(frames)
	if err != nil {
		return storeErr(fmt.Errorf("encode stack: %w", err))
	}
	if err := s.client.Set(ctx, stackKey(conversationID), raw, s.ttl).Err(); err != nil {
		return storeErr(fmt.Errorf("save stack: %w", err))
	}
	return nil
}

func (s *RedisStore) DeleteStack(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, stackKey(conversationID)).Err(); err != nil {
		return storeErr(fmt.Errorf("delete stack: %w", err))
	}
	return nil
}

func (s *RedisStore) SetData(ctx context.Context, conversationID, key string, value []byte) error {
	k := dataKey(conversationID)
	if err := s.client.HSet(ctx, k, key, value).Err(); err != nil {
		return storeErr(fmt.Errorf("set %s: %w", key, err))
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
			return storeErr(fmt.Errorf("expire data: %w", err))
		}
	}
	return nil
}

func (s *RedisStore) GetData(ctx context.Context, conversationID, key string) ([]byte, bool, error) {
	raw, err := s.client.HGet(ctx, dataKey(conversationID), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr(fmt.Errorf("get %s: %w", key, err))
	}
	return raw, true, nil
}
