package domain

import "context"

// TickHandler consumes one upstream tick. Handlers run on the feed read
// loop and must not block.
type TickHandler func(RawTick)

// FeedClient is the exclusive upstream exchange connection. Only the elected
// leader ever constructs one; followers receive prices over the bus instead.
type FeedClient interface {
	Connect(ctx context.Context) error
	SubscribeToMarkets(ctx context.Context, tickers []string) error
	OnTick(fn TickHandler)
	OnDisconnect(fn func(code int, reason string))
	Connected() bool
	Close() error
}
