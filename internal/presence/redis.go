package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "presence:"
	onlineSetKey     = "online"
)

var registerScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
if added == 1 and redis.call('SCARD', KEYS[1]) == 1 then
	return 1
end
return 0
`)

var unregisterScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 and redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisRegistry keeps the same per-connection semantics as MemoryRegistry in
// Redis sets: one set of connection ids per user plus one set of online
// user ids.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (r *RedisRegistry) userKey(userID int64) string {
	return r.prefix + "user:" + strconv.FormatInt(userID, 10)
}

func (r *RedisRegistry) onlineKey() string {
	return r.prefix + onlineSetKey
}

func (r *RedisRegistry) Register(ctx context.Context, userID int64, connID string) (bool, error) {
	keys := []string{r.userKey(userID), r.onlineKey()}
	res, err := registerScript.Run(ctx, r.client, keys, connID, userID).Int()
	if err != nil {
		return false, fmt.Errorf("register presence: %w", err)
	}
	return res == 1, nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, userID int64, connID string) (bool, error) {
	keys := []string{r.userKey(userID), r.onlineKey()}
	res, err := unregisterScript.Run(ctx, r.client, keys, connID, userID).Int()
	if err != nil {
		return false, fmt.Errorf("unregister presence: %w", err)
	}
	return res == 1, nil
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID int64) (bool, error) {
	online, err := r.client.SIsMember(ctx, r.onlineKey(), userID).Result()
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return online, nil
}

func (r *RedisRegistry) OnlineUsers(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, r.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	users := make([]int64, 0, len(members))
	for _, member := range members {
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// Reset clears every presence key under the registry prefix. The server calls
// it on startup so a restart begins with everyone offline.
func (r *RedisRegistry) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan presence keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
