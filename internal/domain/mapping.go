package domain

import "context"

// TickerMapping links one exchange ticker to a tracked game. Produced by the
// mapping pipeline; the ingestion engine only ever reads it.
type TickerMapping struct {
	Ticker   string
	GameID   string
	Slug     string
	Sport    string
	HomeAbbr string
	AwayAbbr string
}

// TickerMapper resolves exchange tickers against a refreshable read-only
// snapshot. An unmapped ticker resolves to nil; that is valid market data for
// a venue not yet tracked, not an error.
type TickerMapper interface {
	MappingFor(ticker string) *TickerMapping
	AllTickers() []string
	Refresh(ctx context.Context) error
}
