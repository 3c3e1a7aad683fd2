package domain

import (
	"context"
	"time"
)

// LatestPriceCache holds the most recent broadcast message per game. It is a
// best-effort read accelerator, never a correctness dependency.
type LatestPriceCache interface {
	Set(ctx context.Context, msg PriceMessage) error
	Get(ctx context.Context, gameID string) (PriceMessage, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LeaderLock is the cluster mutual-exclusion primitive. Acquire succeeds only
// when no other holder has the key; Renew refreshes the TTL without changing
// the value and reports false once the key belongs to someone else; Release
// deletes the key only while this holder still owns it.
type LeaderLock interface {
	Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holderID string) error
}
