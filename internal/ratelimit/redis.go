package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixed-window INCR: bump the counter, stamp the expiry only when the key
// is fresh, and report both so callers can compute retry-after.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisStore shares window counters across gateway instances. It is the
// pluggable alternative to the default in-memory store for multi-instance
// deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing redis client. Keys are namespaced under
// prefix (default "rl:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Incr bumps the shared counter for key, starting the window on first use.
func (s *RedisStore) Incr(ctx context.Context, key string, d time.Duration) (int64, time.Time, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, d.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, redis.Nil
	}
	count, ttlMS := res[0], res[1]
	expiresAt := time.Now().Add(time.Duration(ttlMS) * time.Millisecond)
	return count, expiresAt, nil
}
