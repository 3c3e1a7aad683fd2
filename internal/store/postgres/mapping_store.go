package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// MappingStore implements domain.MappingStore using PostgreSQL.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a MappingStore backed by the given pool.
func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

var _ domain.MappingStore = (*MappingStore)(nil)

// LoadAll returns every active ticker mapping.
func (s *MappingStore) LoadAll(ctx context.Context) ([]domain.TickerMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, game_id, slug, sport, home_abbr, away_abbr
		 FROM ticker_mappings WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load ticker mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.TickerMapping
	for rows.Next() {
		var m domain.TickerMapping
		if err := rows.Scan(
			&m.Ticker, &m.GameID, &m.Slug, &m.Sport,
			&m.HomeAbbr, &m.AwayAbbr,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan ticker mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load ticker mappings rows: %w", err)
	}
	return out, nil
}

// Upsert inserts or updates one mapping and marks it active.
func (s *MappingStore) Upsert(ctx context.Context, m domain.TickerMapping) error {
	const query = `
		INSERT INTO ticker_mappings (
			ticker, game_id, slug, sport, home_abbr, away_abbr, active
		) VALUES (
			$1, $2, $3, $4, $5, $6, TRUE
		)
		ON CONFLICT (ticker) DO UPDATE SET
			game_id   = EXCLUDED.game_id,
			slug      = EXCLUDED.slug,
			sport     = EXCLUDED.sport,
			home_abbr = EXCLUDED.home_abbr,
			away_abbr = EXCLUDED.away_abbr,
			active    = TRUE`

	_, err := s.pool.Exec(ctx, query,
		m.Ticker, m.GameID, m.Slug, m.Sport, m.HomeAbbr, m.AwayAbbr,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert ticker mapping %s: %w", m.Ticker, err)
	}
	return nil
}
