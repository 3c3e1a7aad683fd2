package domain

// Side identifies which competitor of a game a quote belongs to.
type Side string

const (
	SideAway Side = "away"
	SideHome Side = "home"
)

// RawTick is one price message from the upstream feed. Prices are integer
// cents in [0,100]; a tradable quote is strictly inside that range.
type RawTick struct {
	Ticker    string
	YesBid    int
	YesAsk    int
	Volume    int64
	Timestamp int64 // milliseconds since epoch
}

// PriceUpdate is a validated, mapped tick ready for batching and broadcast.
// NoBid and NoAsk are definitional complements of the YES quote, never
// independently fetched: NoBid+YesAsk == 100 and NoAsk+YesBid == 100.
type PriceUpdate struct {
	Ticker    string
	GameID    string
	Slug      string
	Sport     string
	YesBid    int
	YesAsk    int
	NoBid     int
	NoAsk     int
	IsAway    bool
	IsHome    bool
	Moneyline bool
	Volume    int64
	Timestamp int64
}

// SidePrices is one side's display quote in cents. Buy mirrors the ask,
// Sell mirrors the bid.
type SidePrices struct {
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
}

// Zero reports whether no real quote has been recorded for this side.
func (s SidePrices) Zero() bool {
	return s.Buy == 0 && s.Sell == 0
}

// GameQuote is the merged moneyline state for one game. For sports that
// publish one ticker per team, one side may be unknown until the partner
// ticker arrives; a known side is never overwritten with zeros.
type GameQuote struct {
	GameID    string
	Slug      string
	Sport     string
	Away      SidePrices
	Home      SidePrices
	AwayKnown bool
	HomeKnown bool
	Ticker    string // ticker of the tick that last touched this game
	Timestamp int64
}

// UpdatedSides lists the sides carrying real data, or nil when both do.
func (g GameQuote) UpdatedSides() []Side {
	if g.AwayKnown && g.HomeKnown {
		return nil
	}
	if g.AwayKnown {
		return []Side{SideAway}
	}
	if g.HomeKnown {
		return []Side{SideHome}
	}
	return nil
}
