package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/types"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "presence"

// removeConnScript removes a connection and, when it was the user's last,
// drops the marker and the online index entry in the same step.
// Returns -1 when the connection was not in the set.
var removeConnScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 0 then
	return -1
end
local remaining = redis.call('SCARD', KEYS[1])
if remaining == 0 then
	redis.call('DEL', KEYS[2])
	redis.call('HDEL', KEYS[3], ARGV[2])
end
return remaining
`)

// pruneScript claims an expired user. Only one caller gets the profile back.
var pruneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return false
end
local profile = redis.call('HGET', KEYS[2], ARGV[1])
if not profile then
	return false
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
return profile
`)

// RedisStore is a Store shared by every server process through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) connsKey(userId string) string {
	return fmt.Sprintf("%s:conns:%s", s.prefix, userId)
}

func (s *RedisStore) aliveKey(userId string) string {
	return fmt.Sprintf("%s:alive:%s", s.prefix, userId)
}

func (s *RedisStore) onlineKey() string {
	return s.prefix + ":online"
}

func encodeProfile(user types.PresenceUser) (string, error) {
	user.Status = ""
	b, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return string(b), nil
}

func decodeProfile(userId, raw string) types.PresenceUser {
	var u types.PresenceUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.UserId == "" {
		u = types.PresenceUser{UserId: userId}
	}
	return u
}

func (s *RedisStore) AddConnection(ctx context.Context, user types.PresenceUser, connId string) (int64, error) {
	profile, err := encodeProfile(user)
	if err != nil {
		return 0, err
	}

	var count *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.connsKey(user.UserId), connId)
		pipe.Expire(ctx, s.connsKey(user.UserId), s.ttl)
		pipe.Set(ctx, s.aliveKey(user.UserId), "1", s.ttl)
		pipe.HSet(ctx, s.onlineKey(), user.UserId, profile)
		count = pipe.SCard(ctx, s.connsKey(user.UserId))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add connection: %w", err)
	}

	return count.Val(), nil
}

func (s *RedisStore) RemoveConnection(ctx context.Context, userId, connId string) (int64, error) {
	keys := []string{s.connsKey(userId), s.aliveKey(userId), s.onlineKey()}
	remaining, err := removeConnScript.Run(ctx, s.client, keys, connId, userId).Int64()
	if err != nil {
		return 0, fmt.Errorf("remove connection: %w", err)
	}

	if remaining < 0 {
		return 0, ErrConnectionNotFound
	}

	return remaining, nil
}

func (s *RedisStore) Refresh(ctx context.Context, user types.PresenceUser, connId string) (bool, error) {
	profile, err := encodeProfile(user)
	if err != nil {
		return false, err
	}

	var indexed *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.connsKey(user.UserId), connId)
		pipe.Expire(ctx, s.connsKey(user.UserId), s.ttl)
		pipe.Set(ctx, s.aliveKey(user.UserId), "1", s.ttl)
		indexed = pipe.HSetNX(ctx, s.onlineKey(), user.UserId, profile)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refresh presence: %w", err)
	}

	return indexed.Val(), nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]types.PresenceUser, error) {
	profiles, err := s.client.HGetAll(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("get online index: %w", err)
	}

	if len(profiles) == 0 {
		return []types.PresenceUser{}, nil
	}

	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.aliveKey(id)
	}

	markers, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get presence markers: %w", err)
	}

	users := make([]types.PresenceUser, 0, len(ids))
	for i, id := range ids {
		if markers[i] == nil {
			// expired, left for PruneExpired
			continue
		}
		u := decodeProfile(id, profiles[id])
		u.Status = types.StatusOnline
		users = append(users, u)
	}

	return users, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userId string) (bool, error) {
	n, err := s.client.Exists(ctx, s.aliveKey(userId)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) PruneExpired(ctx context.Context) ([]types.PresenceUser, error) {
	ids, err := s.client.HKeys(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list online index: %w", err)
	}

	var pruned []types.PresenceUser
	for _, id := range ids {
		keys := []string{s.aliveKey(id), s.onlineKey(), s.connsKey(id)}
		raw, err := pruneScript.Run(ctx, s.client, keys, id).Text()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return pruned, fmt.Errorf("prune %s: %w", id, err)
		}

		u := decodeProfile(id, raw)
		u.Status = types.StatusOffline
		pruned = append(pruned, u)
	}

	return pruned, nil
}
