package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lock key only if its value matches the caller's
// holder ID. This prevents one process from releasing another's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua refreshes the lease TTL only while the stored value still matches
// the caller's holder ID. The value itself is never rewritten during renewal.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaderLock implements domain.LeaderLock using Redis SET NX with a TTL and
// Lua-based conditional renew/release.
type LeaderLock struct {
	rdb       *redis.Client
	renewSc   *redis.Script
	releaseSc *redis.Script
}

// NewLeaderLock creates a LeaderLock backed by the given Client.
func NewLeaderLock(c *Client) *LeaderLock {
	return &LeaderLock{
		rdb:       c.Underlying(),
		renewSc:   redis.NewScript(renewLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts the atomic check-and-set of the lock key. It returns true
// when this holder won the lease; false means another holder has it, which is
// not an error.
func (l *LeaderLock) Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(key), holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Renew refreshes the lease TTL without changing the value. It returns false
// when the key has expired or belongs to a different holder.
func (l *LeaderLock) Renew(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	res, err := l.renewSc.Run(ctx, l.rdb, []string{lockKey(key)}, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: renew lock %s: %w", key, err)
	}
	return res == 1, nil
}

// Release deletes the lock key only while this holder still owns it. It is
// safe to call when the lease has already been lost.
func (l *LeaderLock) Release(ctx context.Context, key, holderID string) error {
	if err := l.releaseSc.Run(ctx, l.rdb, []string{lockKey(key)}, holderID).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderLock = (*LeaderLock)(nil)
