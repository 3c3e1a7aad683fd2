package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultPriceTTL bounds how long a cached price survives without a refresh.
// The flush path rewrites live games far more often than this.
const defaultPriceTTL = time.Hour

// PriceCache implements domain.LatestPriceCache. The latest broadcast message
// for each game is stored as JSON at "price:{gameID}" with a TTL, written
// best-effort after every committed flush.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: defaultPriceTTL}
}

func priceKey(gameID string) string {
	return "price:" + gameID
}

// Set stores the latest message for msg.GameID.
func (pc *PriceCache) Set(ctx context.Context, msg domain.PriceMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: marshal price %s: %w", msg.GameID, err)
	}
	if err := pc.rdb.Set(ctx, priceKey(msg.GameID), raw, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", msg.GameID, err)
	}
	return nil
}

// Get retrieves the latest message for a game. It returns domain.ErrNotFound
// when no entry exists.
func (pc *PriceCache) Get(ctx context.Context, gameID string) (domain.PriceMessage, error) {
	raw, err := pc.rdb.Get(ctx, priceKey(gameID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceMessage{}, domain.ErrNotFound
		}
		return domain.PriceMessage{}, fmt.Errorf("redis: get price %s: %w", gameID, err)
	}

	var msg domain.PriceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceMessage{}, fmt.Errorf("redis: unmarshal price %s: %w", gameID, err)
	}
	return msg, nil
}

// Compile-time interface check.
var _ domain.LatestPriceCache = (*PriceCache)(nil)
