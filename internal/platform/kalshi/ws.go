package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// tickerChannel carries best bid/ask updates for subscribed markets.
	tickerChannel = "ticker_v2"

	defaultBackoffMin = 2 * time.Second
	defaultBackoffMax = 60 * time.Second
)

// WSClient streams live market quotes from the exchange WebSocket. It holds a
// single connection, reconnects with exponential backoff, and restores all
// accumulated subscriptions after every reconnect.
type WSClient struct {
	wsURL      string
	creds      *Credentials
	backoffMin time.Duration
	backoffMax time.Duration
	logger     *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	// Tracked subscriptions for reconnection.
	subscribed []string
	cmdID      int64

	handlerMu          sync.RWMutex
	tickHandlers       []domain.TickHandler
	disconnectHandlers []func(code int, reason string)

	// done is closed when the client shuts down.
	done chan struct{}
}

var _ domain.FeedClient = (*WSClient)(nil)

// NewWSClient creates a client for the given endpoint, e.g.
// "wss://api.elections.kalshi.com/trade-api/ws/v2". creds may be nil for
// endpoints that accept unsigned upgrades. Non-positive backoff bounds fall
// back to defaults.
func NewWSClient(wsURL string, creds *Credentials, backoffMin, backoffMax time.Duration, logger *slog.Logger) *WSClient {
	if backoffMin <= 0 {
		backoffMin = defaultBackoffMin
	}
	if backoffMax < backoffMin {
		backoffMax = defaultBackoffMax
	}

	return &WSClient{
		wsURL:      wsURL,
		creds:      creds,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		logger:     logger.With(slog.String("component", "kalshi-ws")),
		done:       make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection, restores any accumulated
// subscriptions, and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("kalshi: client is closed")
	}

	header, err := w.authHeader()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("kalshi: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.conn = conn
	w.connected = true

	// Restore subscriptions before serving reads so a failed restore
	// surfaces here and the dial is retried as a whole.
	if len(w.subscribed) > 0 {
		if err := w.sendSubscribe(w.subscribed); err != nil {
			w.connected = false
			w.conn = nil
			_ = conn.Close()
			return fmt.Errorf("kalshi: restore subscriptions: %w", err)
		}
	}

	go w.readLoop(conn)
	go w.pingLoop(conn)

	w.logger.Info("websocket connected",
		slog.String("url", w.wsURL),
		slog.Int("subscriptions", len(w.subscribed)),
	)

	return nil
}

// SubscribeToMarkets subscribes the connection to quote updates for the given
// markets. Tickers accumulate across calls and survive reconnects.
func (w *WSClient) SubscribeToMarkets(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || !w.connected {
		return fmt.Errorf("kalshi: not connected")
	}

	if err := w.sendSubscribe(tickers); err != nil {
		return fmt.Errorf("kalshi: subscribe: %w", err)
	}

	existing := make(map[string]struct{}, len(w.subscribed))
	for _, t := range w.subscribed {
		existing[t] = struct{}{}
	}
	for _, t := range tickers {
		if _, ok := existing[t]; !ok {
			w.subscribed = append(w.subscribed, t)
		}
	}

	return nil
}

// OnTick registers a handler called for every quote update. Handlers run on
// the read loop and must not block.
func (w *WSClient) OnTick(fn domain.TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickHandlers = append(w.tickHandlers, fn)
}

// OnDisconnect registers a handler invoked when the connection drops, before
// any reconnect attempt.
func (w *WSClient) OnDisconnect(fn func(code int, reason string)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.disconnectHandlers = append(w.disconnectHandlers, fn)
}

// Connected reports whether the connection is currently established.
func (w *WSClient) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Close shuts down the connection and stops the background loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.connected = false
	close(w.done)

	if w.conn != nil {
		_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// authHeader signs the upgrade request when credentials are configured.
func (w *WSClient) authHeader() (http.Header, error) {
	if w.creds == nil {
		return nil, nil
	}

	u, err := url.Parse(w.wsURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse ws url: %w", err)
	}

	return w.creds.SignRequest(http.MethodGet, u.Path)
}

// sendSubscribe sends a subscribe command for tickers. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(tickers []string) error {
	w.cmdID++

	cmd := SubscribeCmd{
		ID:  w.cmdID,
		Cmd: "subscribe",
		Params: SubscribeParams{
			Channels:      []string{tickerChannel},
			MarketTickers: tickers,
		},
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from conn until it fails, then triggers reconnection.
// Every established connection gets its own readLoop.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.mu.Lock()
			w.connected = false
			w.mu.Unlock()

			code, reason := closeDetails(err)
			w.logger.Warn("websocket read failed",
				slog.Int("code", code),
				slog.String("reason", reason),
			)
			w.fireDisconnect(code, reason)

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps conn alive with periodic pings. It exits when the client
// shuts down or its connection stops accepting writes.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses an inbound frame and dispatches it to handlers.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope WSMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		w.logger.Debug("unparseable frame", slog.Any("error", err))
		return
	}

	switch envelope.Type {
	case "ticker":
		var data TickerData
		if err := json.Unmarshal(envelope.Msg, &data); err != nil {
			w.logger.Warn("bad ticker payload", slog.Any("error", err))
			return
		}
		w.fireTick(data.ToRawTick())

	case "subscribed":
		w.logger.Debug("subscription confirmed", slog.Int64("sid", envelope.SID))

	case "error":
		var wsErr WSError
		_ = json.Unmarshal(envelope.Msg, &wsErr)
		w.logger.Warn("exchange error frame",
			slog.Int("code", wsErr.Code),
			slog.String("message", wsErr.Message),
		)
	}
}

func (w *WSClient) fireTick(tick domain.RawTick) {
	w.handlerMu.RLock()
	handlers := w.tickHandlers
	w.handlerMu.RUnlock()

	for _, fn := range handlers {
		fn(tick)
	}
}

func (w *WSClient) fireDisconnect(code int, reason string) {
	w.handlerMu.RLock()
	handlers := w.disconnectHandlers
	w.handlerMu.RUnlock()

	for _, fn := range handlers {
		fn(code, reason)
	}
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return -1, err.Error()
}

// reconnect re-establishes a dropped connection with exponential backoff. It
// returns once connected or when the client shuts down.
func (w *WSClient) reconnect() {
	delay := w.backoffMin

	for attempt := 1; ; attempt++ {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.logger.Info("websocket reconnected", slog.Int("attempts", attempt))
			return
		}

		delay *= 2
		if delay > w.backoffMax {
			delay = w.backoffMax
		}

		w.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.Duration("next_retry", delay),
			slog.Any("error", err),
		)
	}
}
