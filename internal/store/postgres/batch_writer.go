package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// BatchWriter implements domain.BatchWriter: one flush batch becomes one
// transaction carrying one upsert per staged game and market. A game with
// only one known side updates only that side's columns, so a later partial
// update never wipes the other side's last committed price.
type BatchWriter struct {
	pool *pgxpool.Pool
}

// NewBatchWriter creates a BatchWriter over the given pool.
func NewBatchWriter(pool *pgxpool.Pool) *BatchWriter {
	return &BatchWriter{pool: pool}
}

var _ domain.BatchWriter = (*BatchWriter)(nil)

const upsertGameFull = `
	INSERT INTO game_prices (
		game_id, slug, sport, away_buy, away_sell, home_buy, home_sell, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, NOW()
	)
	ON CONFLICT (game_id) DO UPDATE SET
		slug       = EXCLUDED.slug,
		sport      = EXCLUDED.sport,
		away_buy   = EXCLUDED.away_buy,
		away_sell  = EXCLUDED.away_sell,
		home_buy   = EXCLUDED.home_buy,
		home_sell  = EXCLUDED.home_sell,
		updated_at = NOW()`

const upsertGameAway = `
	INSERT INTO game_prices (
		game_id, slug, sport, away_buy, away_sell, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, NOW()
	)
	ON CONFLICT (game_id) DO UPDATE SET
		slug       = EXCLUDED.slug,
		sport      = EXCLUDED.sport,
		away_buy   = EXCLUDED.away_buy,
		away_sell  = EXCLUDED.away_sell,
		updated_at = NOW()`

const upsertGameHome = `
	INSERT INTO game_prices (
		game_id, slug, sport, home_buy, home_sell, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, NOW()
	)
	ON CONFLICT (game_id) DO UPDATE SET
		slug       = EXCLUDED.slug,
		sport      = EXCLUDED.sport,
		home_buy   = EXCLUDED.home_buy,
		home_sell  = EXCLUDED.home_sell,
		updated_at = NOW()`

const upsertMarketQuote = `
	INSERT INTO market_quotes (
		ticker, game_id, yes_bid, yes_ask, no_bid, no_ask, volume, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, NOW()
	)
	ON CONFLICT (ticker) DO UPDATE SET
		game_id    = EXCLUDED.game_id,
		yes_bid    = EXCLUDED.yes_bid,
		yes_ask    = EXCLUDED.yes_ask,
		no_bid     = EXCLUDED.no_bid,
		no_ask     = EXCLUDED.no_ask,
		volume     = EXCLUDED.volume,
		updated_at = NOW()`

// buildFlushBatch queues one upsert per staged entry, picking the full or
// single-side game statement from the known flags.
func buildFlushBatch(games []domain.GameQuote, quotes []domain.PriceUpdate) *pgx.Batch {
	batch := &pgx.Batch{}

	for _, g := range games {
		switch {
		case g.AwayKnown && g.HomeKnown:
			batch.Queue(upsertGameFull,
				g.GameID, g.Slug, g.Sport,
				g.Away.Buy, g.Away.Sell, g.Home.Buy, g.Home.Sell)
		case g.AwayKnown:
			batch.Queue(upsertGameAway,
				g.GameID, g.Slug, g.Sport, g.Away.Buy, g.Away.Sell)
		case g.HomeKnown:
			batch.Queue(upsertGameHome,
				g.GameID, g.Slug, g.Sport, g.Home.Buy, g.Home.Sell)
		}
	}
	for _, q := range quotes {
		batch.Queue(upsertMarketQuote,
			q.Ticker, q.GameID,
			q.YesBid, q.YesAsk, q.NoBid, q.NoAsk, q.Volume)
	}
	return batch
}

// WriteBatch upserts the staged games and quotes in a single transaction.
// Any statement error rolls the whole batch back and surfaces to the caller,
// which discards the batch.
func (w *BatchWriter) WriteBatch(ctx context.Context, games []domain.GameQuote, quotes []domain.PriceUpdate) error {
	batch := buildFlushBatch(games, quotes)
	if batch.Len() == 0 {
		return nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin flush tx: %w", err)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: flush batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: close flush batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit flush tx: %w", err)
	}
	return nil
}
