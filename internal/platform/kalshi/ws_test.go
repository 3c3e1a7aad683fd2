package kalshi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/gorilla/websocket"
)

// mockWSServer runs a WebSocket endpoint that hands each accepted connection
// to handler, along with the request that opened it.
func mockWSServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
}

func wsServerURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClientDeliversTicks(t *testing.T) {
	var cmdMu sync.Mutex
	var gotCmd SubscribeCmd

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		// First frame is the subscribe command; answer with one tick.
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmdMu.Lock()
		_ = json.Unmarshal(msg, &gotCmd)
		cmdMu.Unlock()

		frame := `{"type":"ticker","sid":7,"msg":{"market_ticker":"KXNBAGAME-26FEB05CHAHOU-CHA","yes_bid":54,"yes_ask":56,"volume":1200,"ts":1700000000}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ticks := make(chan domain.RawTick, 1)

	client := NewWSClient(wsServerURL(server), nil, time.Second, time.Minute, slog.Default())
	client.OnTick(func(tick domain.RawTick) { ticks <- tick })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.Connected() {
		t.Error("Connected() = false after Connect")
	}

	if err := client.SubscribeToMarkets(context.Background(), []string{"KXNBAGAME-26FEB05CHAHOU-CHA"}); err != nil {
		t.Fatalf("SubscribeToMarkets() error = %v", err)
	}

	select {
	case tick := <-ticks:
		if tick.Ticker != "KXNBAGAME-26FEB05CHAHOU-CHA" {
			t.Errorf("Ticker = %q", tick.Ticker)
		}
		if tick.YesBid != 54 || tick.YesAsk != 56 {
			t.Errorf("quote = %d/%d, want 54/56", tick.YesBid, tick.YesAsk)
		}
		if tick.Volume != 1200 {
			t.Errorf("Volume = %d, want 1200", tick.Volume)
		}
		if tick.Timestamp != 1700000000000 {
			t.Errorf("Timestamp = %d, want 1700000000000", tick.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tick")
	}

	cmdMu.Lock()
	defer cmdMu.Unlock()
	if gotCmd.Cmd != "subscribe" {
		t.Errorf("cmd = %q, want %q", gotCmd.Cmd, "subscribe")
	}
	if len(gotCmd.Params.Channels) != 1 || gotCmd.Params.Channels[0] != "ticker_v2" {
		t.Errorf("channels = %v, want [ticker_v2]", gotCmd.Params.Channels)
	}
	if len(gotCmd.Params.MarketTickers) != 1 || gotCmd.Params.MarketTickers[0] != "KXNBAGAME-26FEB05CHAHOU-CHA" {
		t.Errorf("market tickers = %v", gotCmd.Params.MarketTickers)
	}
}

func TestWSClientSignsUpgrade(t *testing.T) {
	key := testKey(t)

	headers := make(chan http.Header, 1)
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		headers <- r.Header.Clone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	creds := &Credentials{KeyID: "key-7", PrivateKey: key}
	client := NewWSClient(wsServerURL(server), creds, time.Second, time.Minute, slog.Default())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	select {
	case h := <-headers:
		if got := h.Get("KALSHI-ACCESS-KEY"); got != "key-7" {
			t.Errorf("KALSHI-ACCESS-KEY = %q, want %q", got, "key-7")
		}
		if h.Get("KALSHI-ACCESS-SIGNATURE") == "" {
			t.Error("missing KALSHI-ACCESS-SIGNATURE header")
		}
		if h.Get("KALSHI-ACCESS-TIMESTAMP") == "" {
			t.Error("missing KALSHI-ACCESS-TIMESTAMP header")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for upgrade")
	}
}

func TestWSClientReconnectRestoresSubscriptions(t *testing.T) {
	var mu sync.Mutex
	var conns int
	var restored []string

	disconnected := make(chan struct{}, 1)
	resubscribed := make(chan struct{})

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		// Drop the first connection right after its subscribe.
		if n == 1 {
			return
		}

		var cmd SubscribeCmd
		_ = json.Unmarshal(msg, &cmd)
		mu.Lock()
		restored = cmd.Params.MarketTickers
		mu.Unlock()
		close(resubscribed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewWSClient(wsServerURL(server), nil, 20*time.Millisecond, 100*time.Millisecond, slog.Default())
	client.OnDisconnect(func(code int, reason string) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.SubscribeToMarkets(context.Background(), []string{"KXNBAGAME-26FEB05CHAHOU-CHA"}); err != nil {
		t.Fatalf("SubscribeToMarkets() error = %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect callback")
	}

	select {
	case <-resubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resubscribe")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(restored) != 1 || restored[0] != "KXNBAGAME-26FEB05CHAHOU-CHA" {
		t.Errorf("restored subscriptions = %v", restored)
	}
}

func TestWSClientSubscribeNotConnected(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:0", nil, time.Second, time.Minute, slog.Default())
	if err := client.SubscribeToMarkets(context.Background(), []string{"KXNBAGAME-X"}); err == nil {
		t.Error("SubscribeToMarkets() before Connect, want error")
	}
}

func TestWSClientConnectAfterClose(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:0", nil, time.Second, time.Minute, slog.Default())
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Connect(context.Background()); err == nil {
		t.Error("Connect() after Close, want error")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestToRawTickTimestampFallback(t *testing.T) {
	before := time.Now().UnixMilli()
	tick := (&TickerData{MarketTicker: "KXNBAGAME-X", YesBid: 40, YesAsk: 42}).ToRawTick()
	after := time.Now().UnixMilli()

	if tick.Timestamp < before || tick.Timestamp > after {
		t.Errorf("Timestamp = %d, want within [%d, %d]", tick.Timestamp, before, after)
	}
	if tick.YesBid != 40 || tick.YesAsk != 42 {
		t.Errorf("quote = %d/%d, want 40/42", tick.YesBid, tick.YesAsk)
	}
}
