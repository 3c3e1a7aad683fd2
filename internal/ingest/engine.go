package ingest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// defaultDedupTTL bounds how long silent tickers and finished games are
// tracked before Cleanup evicts them.
const defaultDedupTTL = 6 * time.Hour

// Sink receives processed updates. The batch queues implement it.
type Sink interface {
	PutGame(q domain.GameQuote)
	PutMarket(u domain.PriceUpdate)
}

// Stats is a point-in-time snapshot of engine counters for the status
// endpoint.
type Stats struct {
	TicksSeen     int64 `json:"ticks_seen"`
	TicksInvalid  int64 `json:"ticks_invalid"`
	TicksUnmapped int64 `json:"ticks_unmapped"`
	TicksRepeated int64 `json:"ticks_repeated"`
	UpdatesQueued int64 `json:"updates_queued"`
	TrackedGames  int   `json:"tracked_games"`
}

// Engine validates raw feed ticks, resolves them to game sides through the
// ticker mapper and hands the results to the batch sink. One engine instance
// serves the whole feed; HandleTick is safe for concurrent use.
type Engine struct {
	mapper domain.TickerMapper
	sink   Sink
	dedup  *Dedup
	logger *slog.Logger

	mu          sync.Mutex
	games       map[string]domain.GameQuote
	firstTicker map[string]string

	ticksSeen     atomic.Int64
	ticksInvalid  atomic.Int64
	ticksUnmapped atomic.Int64
	ticksRepeated atomic.Int64
	updatesQueued atomic.Int64
}

// NewEngine builds an engine over the given mapper and sink.
func NewEngine(mapper domain.TickerMapper, sink Sink, logger *slog.Logger) *Engine {
	return &Engine{
		mapper:      mapper,
		sink:        sink,
		dedup:       NewDedup(defaultDedupTTL),
		logger:      logger.With(slog.String("component", "ingest")),
		games:       make(map[string]domain.GameQuote),
		firstTicker: make(map[string]string),
	}
}

// HandleTick runs one raw tick through validation, mapping, dedup and side
// resolution, then queues the resulting updates. Ticks that fail a step are
// dropped and counted; the feed never sees an error.
func (e *Engine) HandleTick(t domain.RawTick) {
	e.ticksSeen.Add(1)

	if !validQuote(t.YesBid) || !validQuote(t.YesAsk) || t.YesBid > t.YesAsk {
		e.ticksInvalid.Add(1)
		e.logger.Debug("dropping untradable quote",
			slog.String("ticker", t.Ticker),
			slog.Int("yes_bid", t.YesBid),
			slog.Int("yes_ask", t.YesAsk))
		return
	}

	m := e.mapper.MappingFor(t.Ticker)
	if m == nil {
		e.ticksUnmapped.Add(1)
		e.logger.Debug("dropping tick for unmapped ticker", slog.String("ticker", t.Ticker))
		return
	}

	if !e.dedup.Changed(t.Ticker, t.YesBid, t.YesAsk) {
		e.ticksRepeated.Add(1)
		return
	}

	noBid := 100 - t.YesAsk
	noAsk := 100 - t.YesBid

	moneyline := IsMoneyline(t.Ticker)
	update := domain.PriceUpdate{
		Ticker:    t.Ticker,
		GameID:    m.GameID,
		Slug:      m.Slug,
		Sport:     m.Sport,
		YesBid:    t.YesBid,
		YesAsk:    t.YesAsk,
		NoBid:     noBid,
		NoAsk:     noAsk,
		Moneyline: moneyline,
		Volume:    t.Volume,
		Timestamp: t.Timestamp,
	}

	if moneyline {
		isAway, isHome := e.resolveSide(m, t.Ticker)
		update.IsAway = isAway
		update.IsHome = isHome
		e.sink.PutGame(e.mergeGame(m, t, isAway))
		e.updatesQueued.Add(1)
	}

	e.sink.PutMarket(update)
	e.updatesQueued.Add(1)
}

// resolveSide decides which side of the game a moneyline ticker prices.
// Name matching wins when it is unambiguous; double-entrant sports whose
// competitor codes collide fall back to arrival order, where the first
// ticker seen for a game is the away side.
func (e *Engine) resolveSide(m *domain.TickerMapping, ticker string) (isAway, isHome bool) {
	if away, home, ok := ResolveSide(m, TrailingCode(ticker)); ok {
		return away, home
	}

	e.mu.Lock()
	first, seen := e.firstTicker[m.GameID]
	if !seen {
		e.firstTicker[m.GameID] = ticker
		first = ticker
	}
	e.mu.Unlock()

	if ticker == first {
		return true, false
	}
	return false, true
}

// mergeGame folds the tick into the game's running quote. Single-ticker
// sports fill both sides at once, the unmatched side priced as the no
// complement. Double-entrant sports fill only the tick's own side and keep
// whatever the other side last reported.
func (e *Engine) mergeGame(m *domain.TickerMapping, t domain.RawTick, isAway bool) domain.GameQuote {
	side := domain.SidePrices{Buy: t.YesAsk, Sell: t.YesBid}
	complement := domain.SidePrices{Buy: 100 - t.YesBid, Sell: 100 - t.YesAsk}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.games[m.GameID]
	if !ok {
		q = domain.GameQuote{GameID: m.GameID, Slug: m.Slug, Sport: m.Sport}
	}
	q.Ticker = t.Ticker
	q.Timestamp = t.Timestamp

	if IsTwoTickerSport(m.Sport) {
		if isAway {
			q.Away = side
			q.AwayKnown = true
		} else {
			q.Home = side
			q.HomeKnown = true
		}
	} else {
		if isAway {
			q.Away = side
			q.Home = complement
		} else {
			q.Home = side
			q.Away = complement
		}
		q.AwayKnown = true
		q.HomeKnown = true
	}

	e.games[m.GameID] = q
	return q
}

// Cleanup evicts finished games and silent tickers. The application runs it
// on a slow timer.
func (e *Engine) Cleanup() {
	e.dedup.Cleanup()

	cutoff := time.Now().Add(-defaultDedupTTL).UnixMilli()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, q := range e.games {
		if q.Timestamp < cutoff {
			delete(e.games, id)
			delete(e.firstTicker, id)
		}
	}
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	tracked := len(e.games)
	e.mu.Unlock()

	return Stats{
		TicksSeen:     e.ticksSeen.Load(),
		TicksInvalid:  e.ticksInvalid.Load(),
		TicksUnmapped: e.ticksUnmapped.Load(),
		TicksRepeated: e.ticksRepeated.Load(),
		UpdatesQueued: e.updatesQueued.Load(),
		TrackedGames:  tracked,
	}
}

func validQuote(v int) bool {
	return v > 0 && v < 100
}
