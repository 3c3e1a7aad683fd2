package postgres

import (
	"strings"
	"testing"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

func TestBuildFlushBatch_StatementSelection(t *testing.T) {
	games := []domain.GameQuote{
		{GameID: "g-full", AwayKnown: true, HomeKnown: true,
			Away: domain.SidePrices{Buy: 56, Sell: 54},
			Home: domain.SidePrices{Buy: 46, Sell: 44}},
		{GameID: "g-away", AwayKnown: true,
			Away: domain.SidePrices{Buy: 62, Sell: 60}},
		{GameID: "g-home", HomeKnown: true,
			Home: domain.SidePrices{Buy: 38, Sell: 36}},
		{GameID: "g-empty"},
	}
	quotes := []domain.PriceUpdate{
		{Ticker: "KX-T1", GameID: "g-full", YesBid: 54, YesAsk: 56, NoBid: 44, NoAsk: 46},
	}

	batch := buildFlushBatch(games, quotes)

	// The sideless game queues nothing.
	if batch.Len() != 4 {
		t.Fatalf("batch.Len() = %d, want 4", batch.Len())
	}

	full := batch.QueuedQueries[0].SQL
	if !strings.Contains(full, "home_buy") || !strings.Contains(full, "away_buy") {
		t.Error("full update should touch both sides' columns")
	}

	away := batch.QueuedQueries[1].SQL
	if strings.Contains(away, "home_buy") {
		t.Error("away-only update must not touch home columns")
	}
	if !strings.Contains(away, "away_buy") {
		t.Error("away-only update should touch away columns")
	}

	home := batch.QueuedQueries[2].SQL
	if strings.Contains(home, "away_buy") {
		t.Error("home-only update must not touch away columns")
	}

	market := batch.QueuedQueries[3].SQL
	if !strings.Contains(market, "market_quotes") {
		t.Error("market quote should target the market_quotes table")
	}
}

func TestBuildFlushBatch_Empty(t *testing.T) {
	if got := buildFlushBatch(nil, nil).Len(); got != 0 {
		t.Errorf("empty batch Len = %d, want 0", got)
	}
}
