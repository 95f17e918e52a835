package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants exclusive ownership of a queue entry to one dispatcher
// worker. Acquisition hands back a fencing token; renewal and release only
// succeed while the token still matches, so an expired owner cannot stomp a
// successor.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the lease key only when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only when the caller still owns the lease
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLease implements Lease on top of redis SET NX PX
type RedisLease struct {
	client *redis.Client
	prefix string
}

func NewRedisLease(client *redis.Client, prefix string) *RedisLease {
	return &RedisLease{client: client, prefix: prefix}
}

func (l *RedisLease) keyFor(key string) string {
	return fmt.Sprintf("%s:lease:%s", l.prefix, key)
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyFor(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLease) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, l.client, []string{l.keyFor(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", key, err)
	}
	return res == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.keyFor(key)}, token).Result(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// LocalLease is an in-process Lease for single-node deployments and tests
type LocalLease struct {
	mu     sync.Mutex
	owners map[string]localLeaseEntry
}

type localLeaseEntry struct {
	token   string
	expires time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{owners: make(map[string]localLeaseEntry)}
}

func (l *LocalLease) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if cur, held := l.owners[key]; held && cur.expires.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.owners[key] = localLeaseEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLease) Renew(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, held := l.owners[key]
	if !held || cur.token != token || !cur.expires.After(time.Now()) {
		return false, nil
	}
	cur.expires = time.Now().Add(ttl)
	l.owners[key] = cur
	return true, nil
}

func (l *LocalLease) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, held := l.owners[key]; held && cur.token == token {
		delete(l.owners, key)
	}
	return nil
}
