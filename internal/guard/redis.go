package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock values are "<token>:<unix ms of last touch>".
var refreshScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. ':' then
	redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. ':' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisGuard shares locks between worker processes with SET NX PX.
// Redis expiry provides the staleness bound, so a crashed holder frees the key after the TTL.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard storing keys under prefix.
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "docverify:lock:"
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func lockValue(token string) string {
	return token + ":" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (*Lease, bool, error) {
	lease := newLease(key)
	ok, err := g.client.SetNX(ctx, g.prefix+key, lockValue(lease.Token), g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return lease, true, nil
}

func (g *RedisGuard) Refresh(ctx context.Context, lease *Lease) (bool, error) {
	n, err := refreshScript.Run(ctx, g.client, []string{g.prefix + lease.Key},
		lease.Token, time.Now().UnixMilli(), g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock %s: %w", lease.Key, err)
	}
	return n == 1, nil
}

func (g *RedisGuard) Release(ctx context.Context, lease *Lease) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.prefix + lease.Key}, lease.Token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lease.Key, err)
	}
	return nil
}

// Age reports how long ago key was locked or last refreshed.
func (g *RedisGuard) Age(ctx context.Context, key string) (time.Duration, bool) {
	val, err := g.client.Get(ctx, g.prefix+key).Result()
	if err != nil {
		return 0, false
	}
	_, touched, found := strings.Cut(val, ":")
	if !found {
		return 0, false
	}
	ms, err := strconv.ParseInt(touched, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(ms)), true
}
