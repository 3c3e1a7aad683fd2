package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// writeTimeout bounds one storage transaction. A flush that cannot commit
// within it is discarded like any other failed batch.
const writeTimeout = 10 * time.Second

// Archiver receives committed market updates for cold storage. Enqueue must
// not block; implementations drop when their buffer is full.
type Archiver interface {
	Enqueue(updates []domain.PriceUpdate)
}

// Stats is a point-in-time snapshot of flusher counters for the status
// endpoint.
type Stats struct {
	Flushes        int64 `json:"flushes"`
	Failures       int64 `json:"failures"`
	PendingGames   int   `json:"pending_games"`
	PendingMarkets int   `json:"pending_markets"`
}

// Flusher drains the staging queues into storage on fixed timers and
// broadcasts what it committed. The game and market timers run half a period
// out of phase so their transactions do not land on the database together;
// a queue crossing its ceiling forces an immediate combined flush of both
// queues in one transaction.
type Flusher struct {
	queues   *Queues
	writer   domain.BatchWriter
	bus      domain.BroadcastBus
	cache    domain.LatestPriceCache
	archiver Archiver
	interval time.Duration
	logger   *slog.Logger

	mu              sync.Mutex
	inProgress      bool
	deferredGames   bool
	deferredMarkets bool

	flushes   atomic.Int64
	failures  atomic.Int64
	onFailure func(error)
}

// NewFlusher builds a flusher over the queues and writer. cache and archiver
// may be nil; both are best-effort consumers of committed batches.
func NewFlusher(
	queues *Queues,
	writer domain.BatchWriter,
	bus domain.BroadcastBus,
	cache domain.LatestPriceCache,
	archiver Archiver,
	interval time.Duration,
	logger *slog.Logger,
) *Flusher {
	return &Flusher{
		queues:   queues,
		writer:   writer,
		bus:      bus,
		cache:    cache,
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "flusher")),
	}
}

// OnFailure registers a callback invoked after each discarded batch, for
// operator alerting. Call before Run.
func (f *Flusher) OnFailure(fn func(error)) {
	f.onFailure = fn
}

// Run drives the flush timers until the context is cancelled. The market
// ticker is re-armed half a period in so the two steady-state flushes
// interleave.
func (f *Flusher) Run(ctx context.Context) error {
	gameTicker := time.NewTicker(f.interval)
	defer gameTicker.Stop()

	marketTicker := time.NewTicker(f.interval)
	defer marketTicker.Stop()

	phase := time.NewTimer(f.interval / 2)
	defer phase.Stop()

	f.logger.Info("flusher started", slog.Duration("interval", f.interval))

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("flusher stopped")
			return ctx.Err()
		case <-phase.C:
			marketTicker.Reset(f.interval)
		case <-gameTicker.C:
			f.Flush(ctx, true, false)
		case <-marketTicker.C:
			f.Flush(ctx, false, true)
		case <-f.queues.Force():
			f.Flush(ctx, true, true)
		}
	}
}

// Flush drains the selected queues once. A request arriving while another
// flush is in progress is deferred, not dropped: the running flush picks up
// the union of deferred requests before returning.
func (f *Flusher) Flush(ctx context.Context, games, markets bool) {
	f.mu.Lock()
	if f.inProgress {
		f.deferredGames = f.deferredGames || games
		f.deferredMarkets = f.deferredMarkets || markets
		f.mu.Unlock()
		return
	}
	f.inProgress = true
	f.mu.Unlock()

	for {
		f.flushOnce(ctx, games, markets)

		f.mu.Lock()
		games, markets = f.deferredGames, f.deferredMarkets
		f.deferredGames, f.deferredMarkets = false, false
		if !games && !markets {
			f.inProgress = false
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()
	}
}

// Drain flushes whatever is still staged. The application calls it once
// after Run has stopped, under its own shutdown deadline.
func (f *Flusher) Drain(ctx context.Context) {
	f.Flush(ctx, true, true)
}

func (f *Flusher) flushOnce(ctx context.Context, takeGames, takeMarkets bool) {
	var games []domain.GameQuote
	var markets []domain.PriceUpdate
	if takeGames {
		games = f.queues.TakeGames()
	}
	if takeMarkets {
		markets = f.queues.TakeMarkets()
	}
	if len(games) == 0 && len(markets) == 0 {
		return
	}

	start := time.Now()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := f.writer.WriteBatch(writeCtx, games, markets)
	cancel()
	if err != nil {
		// The batch is dropped, never re-queued: the next tick carries
		// fresher data than anything staged here.
		f.failures.Add(1)
		f.logger.Error("flush write failed, batch discarded",
			slog.Int("games", len(games)),
			slog.Int("markets", len(markets)),
			slog.String("error", err.Error()))
		if f.onFailure != nil {
			f.onFailure(err)
		}
		return
	}
	f.flushes.Add(1)
	f.logger.Debug("flush committed",
		slog.Int("games", len(games)),
		slog.Int("markets", len(markets)),
		slog.Duration("took", time.Since(start)))

	f.publishGames(ctx, games)
	f.publishMarkets(ctx, markets)

	if f.archiver != nil && len(markets) > 0 {
		f.archiver.Enqueue(markets)
	}
}

func (f *Flusher) publishGames(ctx context.Context, games []domain.GameQuote) {
	for _, g := range games {
		msg := GameMessage(g)
		f.bus.PublishKeyed(ctx, domain.ChannelPriceUpdates, g.GameID, msg)
		if f.cache == nil {
			continue
		}
		if err := f.cache.Set(ctx, msg); err != nil {
			f.logger.Debug("latest-price cache write failed",
				slog.String("game_id", g.GameID),
				slog.String("error", err.Error()))
		}
	}
}

func (f *Flusher) publishMarkets(ctx context.Context, markets []domain.PriceUpdate) {
	for _, u := range markets {
		f.bus.PublishKeyed(ctx, domain.ChannelPriceUpdatesSecondary, u.Ticker, MarketMessage(u))
	}
}

// Stats snapshots the flusher counters and queue depths.
func (f *Flusher) Stats() Stats {
	games, markets := f.queues.Pending()
	return Stats{
		Flushes:        f.flushes.Load(),
		Failures:       f.failures.Load(),
		PendingGames:   games,
		PendingMarkets: markets,
	}
}

// GameMessage converts a committed game quote to its wire form. Partial
// quotes carry updatedSides naming the sides holding real data so a consumer
// never mistakes an unfilled side for a price.
func GameMessage(g domain.GameQuote) domain.PriceMessage {
	return domain.PriceMessage{
		Type:         domain.MessageTypePrice,
		GameID:       g.GameID,
		Slug:         g.Slug,
		AwaySide:     g.Away,
		HomeSide:     g.Home,
		UpdatedSides: g.UpdatedSides(),
		Ticker:       g.Ticker,
		Timestamp:    g.Timestamp,
	}
}

// MarketMessage converts a committed market quote to wire form for the
// secondary channel. The YES quote fills the slot of the side the ticker
// prices and the NO complement fills the other, so both slots always carry
// real numbers; a ticker with no resolved side defaults YES to the away
// slot.
func MarketMessage(u domain.PriceUpdate) domain.PriceMessage {
	yes := domain.SidePrices{Buy: u.YesAsk, Sell: u.YesBid}
	no := domain.SidePrices{Buy: u.NoAsk, Sell: u.NoBid}

	m := domain.PriceMessage{
		Type:      domain.MessageTypePrice,
		GameID:    u.GameID,
		Slug:      u.Slug,
		Ticker:    u.Ticker,
		Timestamp: u.Timestamp,
	}
	if u.IsHome {
		m.HomeSide = yes
		m.AwaySide = no
	} else {
		m.AwaySide = yes
		m.HomeSide = no
	}
	return m
}
