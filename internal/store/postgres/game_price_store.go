package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// GamePriceStore implements domain.GamePriceStore using PostgreSQL.
type GamePriceStore struct {
	pool *pgxpool.Pool
}

// NewGamePriceStore creates a GamePriceStore backed by the given pool.
func NewGamePriceStore(pool *pgxpool.Pool) *GamePriceStore {
	return &GamePriceStore{pool: pool}
}

var _ domain.GamePriceStore = (*GamePriceStore)(nil)

const gamePriceCols = `game_id, slug, sport,
	away_buy, away_sell, home_buy, home_sell, updated_at`

func scanGamePrice(row pgx.Row) (domain.GamePriceRow, error) {
	var r domain.GamePriceRow
	err := row.Scan(
		&r.GameID, &r.Slug, &r.Sport,
		&r.AwayBuy, &r.AwaySell, &r.HomeBuy, &r.HomeSell,
		&r.UpdatedAt,
	)
	return r, err
}

// Get retrieves the display price for one game.
func (s *GamePriceStore) Get(ctx context.Context, gameID string) (domain.GamePriceRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+gamePriceCols+` FROM game_prices WHERE game_id = $1`, gameID)
	r, err := scanGamePrice(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.GamePriceRow{}, domain.ErrNotFound
		}
		return domain.GamePriceRow{}, fmt.Errorf("postgres: get game price %s: %w", gameID, err)
	}
	return r, nil
}
