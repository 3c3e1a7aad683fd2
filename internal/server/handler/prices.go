package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// PriceHandler serves price reads: the latest display price per game and the
// per-market quotes behind it.
type PriceHandler struct {
	cache  domain.LatestPriceCache // nil when clustering is disabled
	games  domain.GamePriceStore
	quotes domain.MarketQuoteStore
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. cache may be nil; reads then go
// straight to the store.
func NewPriceHandler(cache domain.LatestPriceCache, games domain.GamePriceStore, quotes domain.MarketQuoteStore, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		cache:  cache,
		games:  games,
		quotes: quotes,
		logger: logger.With(slog.String("handler", "prices")),
	}
}

// GetGamePrice returns the latest display price for one game, preferring the
// coordination-store cache and falling back to the authoritative row.
// GET /api/v1/prices/{gameID}
func (h *PriceHandler) GetGamePrice(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameID")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "missing game id")
		return
	}

	if h.cache != nil {
		msg, err := h.cache.Get(r.Context(), gameID)
		if err == nil {
			writeJSON(w, http.StatusOK, msg)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Debug("price cache read failed, falling back to store",
				slog.String("game_id", gameID),
				slog.String("error", err.Error()))
		}
	}

	row, err := h.games.Get(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		h.logger.Error("game price read failed",
			slog.String("game_id", gameID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "price lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, domain.PriceMessage{
		Type:      domain.MessageTypePrice,
		GameID:    row.GameID,
		Slug:      row.Slug,
		AwaySide:  domain.SidePrices{Buy: row.AwayBuy, Sell: row.AwaySell},
		HomeSide:  domain.SidePrices{Buy: row.HomeBuy, Sell: row.HomeSell},
		Timestamp: row.UpdatedAt.UnixMilli(),
	})
}

// ListGameMarkets returns every persisted market quote for one game, for the
// all-markets view.
// GET /api/v1/prices/{gameID}/markets
func (h *PriceHandler) ListGameMarkets(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameID")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "missing game id")
		return
	}

	rows, err := h.quotes.ListByGame(r.Context(), gameID)
	if err != nil {
		h.logger.Error("market quote list failed",
			slog.String("game_id", gameID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "quote lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gameId":  gameID,
		"markets": rows,
	})
}

// GetMarketQuote returns the persisted quote for one ticker.
// GET /api/v1/markets/{ticker}
func (h *PriceHandler) GetMarketQuote(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "missing ticker")
		return
	}

	row, err := h.quotes.Get(r.Context(), ticker)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.Error("market quote read failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "quote lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, row)
}
