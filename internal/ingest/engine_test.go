package ingest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

type fakeMapper struct {
	mappings map[string]*domain.TickerMapping
}

func (f *fakeMapper) MappingFor(ticker string) *domain.TickerMapping {
	return f.mappings[ticker]
}

func (f *fakeMapper) AllTickers() []string {
	out := make([]string, 0, len(f.mappings))
	for t := range f.mappings {
		out = append(out, t)
	}
	return out
}

func (f *fakeMapper) Refresh(context.Context) error { return nil }

type fakeSink struct {
	games   []domain.GameQuote
	markets []domain.PriceUpdate
}

func (f *fakeSink) PutGame(q domain.GameQuote) { f.games = append(f.games, q) }

func (f *fakeSink) PutMarket(u domain.PriceUpdate) { f.markets = append(f.markets, u) }

func nbaMapper() *fakeMapper {
	return &fakeMapper{mappings: map[string]*domain.TickerMapping{
		"KXNBAGAME-26FEB05CHAHOU-CHA": {
			Ticker:   "KXNBAGAME-26FEB05CHAHOU-CHA",
			GameID:   "nba-cha-hou-0205",
			Slug:     "hornets-rockets-2026-02-05",
			Sport:    "basketball",
			AwayAbbr: "CHA",
			HomeAbbr: "HOU",
		},
		"KXNBAGAME-26FEB05CHAHOU-HOU": {
			Ticker:   "KXNBAGAME-26FEB05CHAHOU-HOU",
			GameID:   "nba-cha-hou-0205",
			Slug:     "hornets-rockets-2026-02-05",
			Sport:    "basketball",
			AwayAbbr: "CHA",
			HomeAbbr: "HOU",
		},
	}}
}

func newTestEngine(m domain.TickerMapper) (*Engine, *fakeSink) {
	sink := &fakeSink{}
	return NewEngine(m, sink, slog.Default()), sink
}

func TestEngine_AwayTickFillsBothSides(t *testing.T) {
	e, sink := newTestEngine(nbaMapper())

	e.HandleTick(domain.RawTick{
		Ticker:    "KXNBAGAME-26FEB05CHAHOU-CHA",
		YesBid:    54,
		YesAsk:    56,
		Timestamp: time.Now().UnixMilli(),
	})

	if len(sink.games) != 1 {
		t.Fatalf("games queued = %d, want 1", len(sink.games))
	}
	g := sink.games[0]
	if g.GameID != "nba-cha-hou-0205" {
		t.Errorf("GameID = %s, want nba-cha-hou-0205", g.GameID)
	}
	if g.Away.Buy != 56 || g.Away.Sell != 54 {
		t.Errorf("Away = %+v, want {Buy:56 Sell:54}", g.Away)
	}
	if g.Home.Buy != 46 || g.Home.Sell != 44 {
		t.Errorf("Home = %+v, want {Buy:46 Sell:44}", g.Home)
	}
	if !g.AwayKnown || !g.HomeKnown {
		t.Error("single-ticker sport should mark both sides known")
	}
	if g.UpdatedSides() != nil {
		t.Errorf("UpdatedSides = %v, want nil for a full update", g.UpdatedSides())
	}

	if len(sink.markets) != 1 {
		t.Fatalf("markets queued = %d, want 1", len(sink.markets))
	}
	u := sink.markets[0]
	if u.NoBid != 44 || u.NoAsk != 46 {
		t.Errorf("complements = (%d, %d), want (44, 46)", u.NoBid, u.NoAsk)
	}
	if !u.IsAway || u.IsHome {
		t.Errorf("side flags = (away=%v, home=%v), want away only", u.IsAway, u.IsHome)
	}
	if !u.Moneyline {
		t.Error("update should be flagged moneyline")
	}
}

func TestEngine_HomeTickFillsBothSides(t *testing.T) {
	e, sink := newTestEngine(nbaMapper())

	e.HandleTick(domain.RawTick{
		Ticker: "KXNBAGAME-26FEB05CHAHOU-HOU",
		YesBid: 44,
		YesAsk: 46,
	})

	if len(sink.games) != 1 {
		t.Fatalf("games queued = %d, want 1", len(sink.games))
	}
	g := sink.games[0]
	if g.Home.Buy != 46 || g.Home.Sell != 44 {
		t.Errorf("Home = %+v, want {Buy:46 Sell:44}", g.Home)
	}
	if g.Away.Buy != 56 || g.Away.Sell != 54 {
		t.Errorf("Away = %+v, want {Buy:56 Sell:54}", g.Away)
	}
}

func TestEngine_RejectsUntradableQuotes(t *testing.T) {
	tests := []struct {
		name   string
		yesBid int
		yesAsk int
	}{
		{"settled at zero", 0, 50},
		{"settled at hundred", 50, 100},
		{"negative bid", -1, 50},
		{"ask above hundred", 50, 101},
		{"crossed book", 60, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sink := newTestEngine(nbaMapper())
			e.HandleTick(domain.RawTick{
				Ticker: "KXNBAGAME-26FEB05CHAHOU-CHA",
				YesBid: tt.yesBid,
				YesAsk: tt.yesAsk,
			})

			if len(sink.games) != 0 || len(sink.markets) != 0 {
				t.Errorf("untradable quote reached the sink: games=%d markets=%d",
					len(sink.games), len(sink.markets))
			}
			if e.Stats().TicksInvalid != 1 {
				t.Errorf("TicksInvalid = %d, want 1", e.Stats().TicksInvalid)
			}
		})
	}
}

func TestEngine_UnmappedTickerDropped(t *testing.T) {
	e, sink := newTestEngine(nbaMapper())

	e.HandleTick(domain.RawTick{Ticker: "KXNBAGAME-26FEB05BOSLAL-BOS", YesBid: 50, YesAsk: 52})

	if len(sink.games) != 0 || len(sink.markets) != 0 {
		t.Error("unmapped ticker should be dropped")
	}
	if e.Stats().TicksUnmapped != 1 {
		t.Errorf("TicksUnmapped = %d, want 1", e.Stats().TicksUnmapped)
	}
}

func TestEngine_DedupSuppressesRepeats(t *testing.T) {
	e, sink := newTestEngine(nbaMapper())
	tick := domain.RawTick{Ticker: "KXNBAGAME-26FEB05CHAHOU-CHA", YesBid: 54, YesAsk: 56}

	e.HandleTick(tick)
	e.HandleTick(tick)
	e.HandleTick(tick)

	if len(sink.markets) != 1 {
		t.Fatalf("markets queued = %d, want 1 after repeats", len(sink.markets))
	}
	if e.Stats().TicksRepeated != 2 {
		t.Errorf("TicksRepeated = %d, want 2", e.Stats().TicksRepeated)
	}

	tick.YesAsk = 57
	e.HandleTick(tick)
	if len(sink.markets) != 2 {
		t.Errorf("markets queued = %d, want 2 after a price move", len(sink.markets))
	}
}

func TestEngine_DerivedMarketSkipsGameQueue(t *testing.T) {
	m := &fakeMapper{mappings: map[string]*domain.TickerMapping{
		"KXNBASPREAD-26FEB05CHAHOU-CHA4": {
			Ticker:   "KXNBASPREAD-26FEB05CHAHOU-CHA4",
			GameID:   "nba-cha-hou-0205",
			Sport:    "basketball",
			AwayAbbr: "CHA",
			HomeAbbr: "HOU",
		},
	}}
	e, sink := newTestEngine(m)

	e.HandleTick(domain.RawTick{Ticker: "KXNBASPREAD-26FEB05CHAHOU-CHA4", YesBid: 48, YesAsk: 50})

	if len(sink.games) != 0 {
		t.Errorf("games queued = %d, want 0 for a spread market", len(sink.games))
	}
	if len(sink.markets) != 1 {
		t.Fatalf("markets queued = %d, want 1", len(sink.markets))
	}
	if sink.markets[0].Moneyline {
		t.Error("spread update should not be flagged moneyline")
	}
}

func tennisMapper() *fakeMapper {
	game := func(ticker, away, home string) *domain.TickerMapping {
		return &domain.TickerMapping{
			Ticker:   ticker,
			GameID:   "atp-fin-2026",
			Slug:     "sinner-alcaraz-2026",
			Sport:    "tennis",
			AwayAbbr: away,
			HomeAbbr: home,
		}
	}
	return &fakeMapper{mappings: map[string]*domain.TickerMapping{
		"KXATPMATCH-26JUL12SINALC-SIN": game("KXATPMATCH-26JUL12SINALC-SIN", "SIN", "ALC"),
		"KXATPMATCH-26JUL12SINALC-ALC": game("KXATPMATCH-26JUL12SINALC-ALC", "SIN", "ALC"),
	}}
}

func TestEngine_TwoTickerMerge(t *testing.T) {
	e, sink := newTestEngine(tennisMapper())

	e.HandleTick(domain.RawTick{Ticker: "KXATPMATCH-26JUL12SINALC-SIN", YesBid: 60, YesAsk: 62})

	if len(sink.games) != 1 {
		t.Fatalf("games queued = %d, want 1", len(sink.games))
	}
	first := sink.games[0]
	if !first.AwayKnown || first.HomeKnown {
		t.Errorf("first tick: known = (away=%v, home=%v), want away only", first.AwayKnown, first.HomeKnown)
	}
	if got := first.UpdatedSides(); len(got) != 1 || got[0] != domain.SideAway {
		t.Errorf("UpdatedSides = %v, want [away]", got)
	}
	if !first.Home.Zero() {
		t.Errorf("unknown side should stay zero, got %+v", first.Home)
	}

	e.HandleTick(domain.RawTick{Ticker: "KXATPMATCH-26JUL12SINALC-ALC", YesBid: 36, YesAsk: 38})

	if len(sink.games) != 2 {
		t.Fatalf("games queued = %d, want 2", len(sink.games))
	}
	merged := sink.games[1]
	if !merged.AwayKnown || !merged.HomeKnown {
		t.Error("both sides should be known after the partner tick")
	}
	if merged.Away.Buy != 62 || merged.Away.Sell != 60 {
		t.Errorf("Away = %+v, want earlier tick preserved {Buy:62 Sell:60}", merged.Away)
	}
	if merged.Home.Buy != 38 || merged.Home.Sell != 36 {
		t.Errorf("Home = %+v, want {Buy:38 Sell:36}", merged.Home)
	}
	if merged.UpdatedSides() != nil {
		t.Errorf("UpdatedSides = %v, want nil once merged", merged.UpdatedSides())
	}
}

func TestEngine_KnownSideNeverZeroed(t *testing.T) {
	e, sink := newTestEngine(tennisMapper())

	e.HandleTick(domain.RawTick{Ticker: "KXATPMATCH-26JUL12SINALC-SIN", YesBid: 60, YesAsk: 62})
	e.HandleTick(domain.RawTick{Ticker: "KXATPMATCH-26JUL12SINALC-ALC", YesBid: 36, YesAsk: 38})
	e.HandleTick(domain.RawTick{Ticker: "KXATPMATCH-26JUL12SINALC-SIN", YesBid: 64, YesAsk: 66})

	last := sink.games[len(sink.games)-1]
	if last.Away.Buy != 66 || last.Away.Sell != 64 {
		t.Errorf("Away = %+v, want refreshed {Buy:66 Sell:64}", last.Away)
	}
	if last.Home.Buy != 38 || last.Home.Sell != 36 {
		t.Errorf("Home = %+v, want untouched {Buy:38 Sell:36}", last.Home)
	}
}

func TestEngine_ArrivalOrderFallback(t *testing.T) {
	fight := func(ticker string) *domain.TickerMapping {
		return &domain.TickerMapping{
			Ticker:   ticker,
			GameID:   "ufc-main-2026",
			Sport:    "mma",
			AwayAbbr: "SMI",
			HomeAbbr: "SMI",
		}
	}
	m := &fakeMapper{mappings: map[string]*domain.TickerMapping{
		"KXUFC-26FEB07-ASMITH": fight("KXUFC-26FEB07-ASMITH"),
		"KXUFC-26FEB07-BSMITH": fight("KXUFC-26FEB07-BSMITH"),
	}}
	e, sink := newTestEngine(m)

	e.HandleTick(domain.RawTick{Ticker: "KXUFC-26FEB07-ASMITH", YesBid: 70, YesAsk: 72})
	e.HandleTick(domain.RawTick{Ticker: "KXUFC-26FEB07-BSMITH", YesBid: 26, YesAsk: 28})

	if len(sink.games) != 2 {
		t.Fatalf("games queued = %d, want 2", len(sink.games))
	}
	if !sink.games[0].AwayKnown || sink.games[0].HomeKnown {
		t.Error("first ticker seen should take the away side")
	}
	merged := sink.games[1]
	if merged.Away.Buy != 72 || merged.Home.Buy != 28 {
		t.Errorf("sides = away %+v home %+v, want away from first ticker, home from second",
			merged.Away, merged.Home)
	}

	// The first ticker keeps its side on later ticks.
	e.HandleTick(domain.RawTick{Ticker: "KXUFC-26FEB07-ASMITH", YesBid: 74, YesAsk: 76})
	last := sink.games[2]
	if last.Away.Buy != 76 || last.Away.Sell != 74 {
		t.Errorf("Away = %+v, want refreshed first-ticker prices", last.Away)
	}
	if last.Home.Buy != 28 || last.Home.Sell != 26 {
		t.Errorf("Home = %+v, want second-ticker prices preserved", last.Home)
	}
}

func TestEngine_CleanupEvictsStaleGames(t *testing.T) {
	e, _ := newTestEngine(nbaMapper())

	e.HandleTick(domain.RawTick{
		Ticker:    "KXNBAGAME-26FEB05CHAHOU-CHA",
		YesBid:    54,
		YesAsk:    56,
		Timestamp: time.Now().Add(-8 * time.Hour).UnixMilli(),
	})
	if e.Stats().TrackedGames != 1 {
		t.Fatalf("TrackedGames = %d, want 1", e.Stats().TrackedGames)
	}

	e.Cleanup()

	if e.Stats().TrackedGames != 0 {
		t.Errorf("TrackedGames = %d after cleanup, want 0", e.Stats().TrackedGames)
	}
}

func TestEngine_VolumePassthrough(t *testing.T) {
	e, sink := newTestEngine(nbaMapper())

	e.HandleTick(domain.RawTick{
		Ticker: "KXNBAGAME-26FEB05CHAHOU-CHA",
		YesBid: 54,
		YesAsk: 56,
		Volume: 12345,
	})

	if sink.markets[0].Volume != 12345 {
		t.Errorf("Volume = %d, want 12345", sink.markets[0].Volume)
	}
}
