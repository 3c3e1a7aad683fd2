// Package feed drives the exclusive upstream connection on the elected
// leader. Followers never dial the exchange; they receive prices over the
// broadcast bus instead.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// connectRetryDelay spaces attempts for the first dial. Reconnects after a
// successful dial are handled inside the client with its own backoff.
const connectRetryDelay = 2 * time.Second

// TickerSource yields the tracked market tickers and announces mapping
// refreshes so the feed can pick up newly mapped markets.
type TickerSource interface {
	AllTickers() []string
	OnRefresh(fn func())
}

// Status is a point-in-time view of the feed for health surfaces.
type Status struct {
	Active     bool `json:"active"`
	Connected  bool `json:"connected"`
	Subscribed int  `json:"subscribed"`
}

// Feeder owns the upstream feed lifecycle. Run parks until the process is
// promoted to leader, then connects, subscribes to every mapped ticker, and
// keeps subscriptions in sync as mappings refresh.
type Feeder struct {
	newClient func() domain.FeedClient
	tickers   TickerSource
	onTick    domain.TickHandler
	onDrop    func(code int, reason string)
	logger    *slog.Logger

	mu         sync.Mutex
	client     domain.FeedClient
	subscribed map[string]struct{}
	active     bool

	promoted    chan struct{}
	promoteOnce sync.Once
}

// NewFeeder creates a feeder. newClient is called once, on promotion, so
// followers never hold an exchange connection. onDrop may be nil.
func NewFeeder(newClient func() domain.FeedClient, tickers TickerSource, onTick domain.TickHandler, onDrop func(code int, reason string), logger *slog.Logger) *Feeder {
	return &Feeder{
		newClient:  newClient,
		tickers:    tickers,
		onTick:     onTick,
		onDrop:     onDrop,
		logger:     logger.With(slog.String("component", "feeder")),
		subscribed: make(map[string]struct{}),
		promoted:   make(chan struct{}),
	}
}

// Promote unparks Run. Wire it to the election coordinator's promotion hook.
func (f *Feeder) Promote() {
	f.promoteOnce.Do(func() { close(f.promoted) })
}

// Run blocks until promotion, then serves the upstream feed until ctx is
// cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-f.promoted:
	}

	f.logger.Info("promoted, starting upstream feed")

	client := f.newClient()
	client.OnTick(f.onTick)
	client.OnDisconnect(func(code int, reason string) {
		f.logger.Warn("upstream feed disconnected",
			slog.Int("code", code),
			slog.String("reason", reason),
		)
		if f.onDrop != nil {
			f.onDrop(code, reason)
		}
	})

	if err := f.connectWithRetry(ctx, client); err != nil {
		_ = client.Close()
		return nil
	}

	f.mu.Lock()
	f.client = client
	f.active = true
	f.mu.Unlock()

	f.syncSubscriptions(ctx)
	f.tickers.OnRefresh(func() { f.syncSubscriptions(ctx) })

	<-ctx.Done()

	f.mu.Lock()
	f.client = nil
	f.active = false
	f.mu.Unlock()

	if err := client.Close(); err != nil {
		f.logger.Warn("feed close failed", slog.Any("error", err))
	}
	f.logger.Info("upstream feed stopped")
	return nil
}

// Status reports whether the feed is serving, connected, and how many
// markets it has subscribed.
func (f *Feeder) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Status{
		Active:     f.active,
		Subscribed: len(f.subscribed),
	}
	if f.client != nil {
		s.Connected = f.client.Connected()
	}
	return s
}

// connectWithRetry dials until it succeeds or ctx is cancelled.
func (f *Feeder) connectWithRetry(ctx context.Context, client domain.FeedClient) error {
	for {
		err := client.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("upstream connect failed, retrying",
			slog.Duration("retry_in", connectRetryDelay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

// syncSubscriptions subscribes any mapped tickers not yet subscribed.
// Tickers are marked subscribed only after the exchange accepts them, so a
// failed call is retried on the next mapping refresh.
func (f *Feeder) syncSubscriptions(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	f.mu.Lock()
	client := f.client
	var added []string
	for _, t := range f.tickers.AllTickers() {
		if _, ok := f.subscribed[t]; !ok {
			added = append(added, t)
		}
	}
	f.mu.Unlock()

	if client == nil || len(added) == 0 {
		return
	}

	if err := client.SubscribeToMarkets(ctx, added); err != nil {
		f.logger.Warn("subscribe failed, retrying on next mapping refresh",
			slog.Int("tickers", len(added)),
			slog.Any("error", err),
		)
		return
	}

	f.mu.Lock()
	for _, t := range added {
		f.subscribed[t] = struct{}{}
	}
	total := len(f.subscribed)
	f.mu.Unlock()

	f.logger.Info("subscribed to markets",
		slog.Int("added", len(added)),
		slog.Int("total", total),
	)
}
