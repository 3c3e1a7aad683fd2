package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// MarketQuoteStore implements domain.MarketQuoteStore using PostgreSQL.
type MarketQuoteStore struct {
	pool *pgxpool.Pool
}

// NewMarketQuoteStore creates a MarketQuoteStore backed by the given pool.
func NewMarketQuoteStore(pool *pgxpool.Pool) *MarketQuoteStore {
	return &MarketQuoteStore{pool: pool}
}

var _ domain.MarketQuoteStore = (*MarketQuoteStore)(nil)

const marketQuoteCols = `ticker, game_id,
	yes_bid, yes_ask, no_bid, no_ask, volume, updated_at`

func scanMarketQuote(row pgx.Row) (domain.MarketQuoteRow, error) {
	var r domain.MarketQuoteRow
	err := row.Scan(
		&r.Ticker, &r.GameID,
		&r.YesBid, &r.YesAsk, &r.NoBid, &r.NoAsk,
		&r.Volume, &r.UpdatedAt,
	)
	return r, err
}

// Get retrieves the quote for one market ticker.
func (s *MarketQuoteStore) Get(ctx context.Context, ticker string) (domain.MarketQuoteRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketQuoteCols+` FROM market_quotes WHERE ticker = $1`, ticker)
	r, err := scanMarketQuote(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketQuoteRow{}, domain.ErrNotFound
		}
		return domain.MarketQuoteRow{}, fmt.Errorf("postgres: get market quote %s: %w", ticker, err)
	}
	return r, nil
}

// ListByGame returns every market quote attached to a game, newest first.
func (s *MarketQuoteStore) ListByGame(ctx context.Context, gameID string) ([]domain.MarketQuoteRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketQuoteCols+` FROM market_quotes
		 WHERE game_id = $1 ORDER BY updated_at DESC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market quotes for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []domain.MarketQuoteRow
	for rows.Next() {
		var r domain.MarketQuoteRow
		if err := rows.Scan(
			&r.Ticker, &r.GameID,
			&r.YesBid, &r.YesAsk, &r.NoBid, &r.NoAsk,
			&r.Volume, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market quote: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market quotes rows: %w", err)
	}
	return out, nil
}
