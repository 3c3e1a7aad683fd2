package domain

import (
	"context"
	"time"
)

// GamePriceRow is the authoritative per-game display price.
type GamePriceRow struct {
	GameID    string
	Slug      string
	Sport     string
	AwayBuy   int
	AwaySell  int
	HomeBuy   int
	HomeSell  int
	UpdatedAt time.Time
}

// MarketQuoteRow is the authoritative per-market quote.
type MarketQuoteRow struct {
	Ticker    string
	GameID    string
	YesBid    int
	YesAsk    int
	NoBid     int
	NoAsk     int
	Volume    int64
	UpdatedAt time.Time
}

// GamePriceStore reads game display prices.
type GamePriceStore interface {
	Get(ctx context.Context, gameID string) (GamePriceRow, error)
}

// MarketQuoteStore reads per-market quotes.
type MarketQuoteStore interface {
	Get(ctx context.Context, ticker string) (MarketQuoteRow, error)
	ListByGame(ctx context.Context, gameID string) ([]MarketQuoteRow, error)
}

// MappingStore persists ticker mappings for the mapper snapshot.
type MappingStore interface {
	LoadAll(ctx context.Context) ([]TickerMapping, error)
	Upsert(ctx context.Context, m TickerMapping) error
}

// BatchWriter commits one flush batch in a single transaction. Games with
// only one known side update only that side's columns. Any error rolls the
// whole batch back; callers discard the batch rather than re-queue it.
type BatchWriter interface {
	WriteBatch(ctx context.Context, games []GameQuote, quotes []PriceUpdate) error
}
