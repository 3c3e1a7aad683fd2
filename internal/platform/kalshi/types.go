package kalshi

import (
	"encoding/json"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// SubscribeCmd is the frame sent to subscribe to WebSocket channels.
type SubscribeCmd struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"` // "subscribe" or "unsubscribe"
	Params SubscribeParams `json:"params"`
}

// SubscribeParams selects the channels and markets a command applies to.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// WSMessage is the envelope for inbound WebSocket frames.
type WSMessage struct {
	Type string          `json:"type"` // "ticker", "subscribed", "error", ...
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}

// TickerData is the payload of a "ticker" frame on the ticker_v2 channel.
// Prices are integer cents (1-99); ts is Unix seconds.
type TickerData struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
	TS           int64  `json:"ts"`
}

// WSError is the payload of an "error" frame.
type WSError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// ToRawTick converts the exchange payload to a domain tick. Frames without an
// exchange timestamp fall back to local receive time.
func (t *TickerData) ToRawTick() domain.RawTick {
	ts := t.TS * 1000
	if t.TS == 0 {
		ts = time.Now().UnixMilli()
	}

	return domain.RawTick{
		Ticker:    t.MarketTicker,
		YesBid:    t.YesBid,
		YesAsk:    t.YesAsk,
		Volume:    t.Volume,
		Timestamp: ts,
	}
}
