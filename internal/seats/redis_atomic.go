package seats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease grants exclusive, time-bounded ownership of a named job so that only
// one instance runs it per tick.
type Lease interface {
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// RedisLease implements Lease with SET NX PX plus Lua compare-and-delete,
// so an instance can only extend or drop a lease it still owns.
type RedisLease struct {
	redis  *redis.Client
	prefix string
}

func NewRedisLease(redisClient *redis.Client, prefix string) *RedisLease {
	return &RedisLease{
		redis:  redisClient,
		prefix: prefix,
	}
}

// KEYS[1] = lease key, ARGV[1] = owner, ARGV[2] = ttl in milliseconds
const luaLeaseAcquire = `
local current = redis.call("GET", KEYS[1])
if not current then
    redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
    return 1
end
if current == ARGV[1] then
    redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
    return 1
end
return 0
`

// KEYS[1] = lease key, ARGV[1] = owner
const luaLeaseRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

func (l *RedisLease) key(name string) string {
	return l.prefix + ":lease:" + name
}

func (l *RedisLease) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if l.redis == nil {
		return false, fmt.Errorf("redis client not available")
	}

	args := []interface{}{owner, ttl.Milliseconds()}
	result, err := l.redis.EvalSha(ctx, scriptSHA(luaLeaseAcquire), []string{l.key(name)}, args...).Result()
	if err != nil {
		// Script not cached on this server yet
		result, err = l.redis.Eval(ctx, luaLeaseAcquire, []string{l.key(name)}, args...).Result()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
		}
	}

	acquired, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result format from lease script")
	}
	return acquired == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, name, owner string) error {
	if l.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	_, err := l.redis.EvalSha(ctx, scriptSHA(luaLeaseRelease), []string{l.key(name)}, owner).Result()
	if err != nil {
		if _, err = l.redis.Eval(ctx, luaLeaseRelease, []string{l.key(name)}, owner).Result(); err != nil {
			return fmt.Errorf("failed to release lease %s: %w", name, err)
		}
	}
	return nil
}

// PreloadScripts loads the lease scripts so later calls hit EVALSHA
func (l *RedisLease) PreloadScripts(ctx context.Context) error {
	if l.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	if _, err := l.redis.ScriptLoad(ctx, luaLeaseAcquire).Result(); err != nil {
		return fmt.Errorf("failed to load lease acquire script: %w", err)
	}
	if _, err := l.redis.ScriptLoad(ctx, luaLeaseRelease).Result(); err != nil {
		return fmt.Errorf("failed to load lease release script: %w", err)
	}
	return nil
}

func scriptSHA(src string) string {
	return redis.NewScript(src).Hash()
}

// LocalLease is the single-instance Lease used when Redis is not configured
type LocalLease struct {
	mu      sync.Mutex
	holders map[string]localHolder
	now     func() time.Time
}

type localHolder struct {
	owner   string
	expires time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{
		holders: make(map[string]localHolder),
		now:     time.Now,
	}
}

func (l *LocalLease) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holders[name]; ok && h.owner != owner && now.Before(h.expires) {
		return false, nil
	}
	l.holders[name] = localHolder{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *LocalLease) Release(ctx context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.holders[name]; ok && h.owner == owner {
		delete(l.holders, name)
	}
	return nil
}
