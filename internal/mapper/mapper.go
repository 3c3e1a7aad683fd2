// Package mapper maintains the in-memory ticker-to-game mapping snapshot the
// ingestion engine resolves against.
package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// Mapper serves lookups from an immutable snapshot map swapped wholesale on
// each refresh. Lookups never block on a refresh in progress.
type Mapper struct {
	store  domain.MappingStore
	logger *slog.Logger

	mu       sync.RWMutex
	byTicker map[string]domain.TickerMapping

	notifyMu sync.Mutex
	notify   []func()
}

// New builds a mapper over the store. The snapshot starts empty; call
// Refresh before serving lookups.
func New(store domain.MappingStore, logger *slog.Logger) *Mapper {
	return &Mapper{
		store:    store,
		logger:   logger.With(slog.String("component", "mapper")),
		byTicker: make(map[string]domain.TickerMapping),
	}
}

var _ domain.TickerMapper = (*Mapper)(nil)

// MappingFor returns the mapping for a ticker, or nil when the ticker is
// unknown. The returned value is a copy.
func (m *Mapper) MappingFor(ticker string) *domain.TickerMapping {
	m.mu.RLock()
	mp, ok := m.byTicker[ticker]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return &mp
}

// AllTickers returns every mapped ticker in sorted order.
func (m *Mapper) AllTickers() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.byTicker))
	for t := range m.byTicker {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Size reports the number of mapped tickers.
func (m *Mapper) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTicker)
}

// OnRefresh registers a callback fired after every successful refresh, on the
// refreshing goroutine. The feeder uses it to re-subscribe new tickers.
func (m *Mapper) OnRefresh(fn func()) {
	m.notifyMu.Lock()
	m.notify = append(m.notify, fn)
	m.notifyMu.Unlock()
}

// Refresh reloads the snapshot from the store. On error the previous
// snapshot stays in place.
func (m *Mapper) Refresh(ctx context.Context) error {
	mappings, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("mapper: load mappings: %w", err)
	}

	next := make(map[string]domain.TickerMapping, len(mappings))
	for _, mp := range mappings {
		next[mp.Ticker] = mp
	}

	m.mu.Lock()
	m.byTicker = next
	m.mu.Unlock()

	m.logger.Debug("ticker mappings refreshed", slog.Int("mappings", len(next)))

	m.notifyMu.Lock()
	callbacks := make([]func(), len(m.notify))
	copy(callbacks, m.notify)
	m.notifyMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// RunRefresh refreshes the snapshot on an interval until the context is
// cancelled. A failed reload logs a warning and keeps serving the previous
// snapshot.
func (m *Mapper) RunRefresh(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mapping refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("mapping refresh failed, keeping previous snapshot",
					slog.String("error", err.Error()))
			}
		}
	}
}
