package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/ledger"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/ranking"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/watchlist"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Handler exposes the simulator over REST: accounts, trades, valuations,
// watchlists, quotes and the leaderboard.
type Handler struct {
	ledger *ledger.Service
	rank   *ranking.Engine
	watch  *watchlist.Manager
	cache  *pricecache.Cache
	logger *zap.Logger
}

func NewHandler(l *ledger.Service, r *ranking.Engine, w *watchlist.Manager,
	c *pricecache.Cache, logger *zap.Logger) *Handler {
	return &Handler{ledger: l, rank: r, watch: w, cache: c, logger: logger}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/accounts", h.createAccount)
	mux.HandleFunc("GET /api/accounts/{id}", h.getAccount)
	mux.HandleFunc("POST /api/accounts/{id}/reset", h.resetAccount)
	mux.HandleFunc("POST /api/accounts/{id}/buy", h.buy)
	mux.HandleFunc("POST /api/accounts/{id}/sell", h.sell)
	mux.HandleFunc("GET /api/accounts/{id}/valuation", h.valuation)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", h.transactions)
	mux.HandleFunc("GET /api/accounts/{id}/watchlist", h.getWatchlist)
	mux.HandleFunc("POST /api/accounts/{id}/watchlist", h.addWatchlist)
	mux.HandleFunc("DELETE /api/accounts/{id}/watchlist/{symbol}", h.removeWatchlist)
	mux.HandleFunc("GET /api/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/quotes", h.quotes)
	mux.HandleFunc("GET /health", h.health)
}

type accountRequest struct {
	ID string `json:"id"`
}

type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

type watchRequest struct {
	Symbols []string `json:"symbols"`
}

type quoteResponse struct {
	models.Quote
	Status string `json:"status"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"id\": \"...\"}")
		return
	}

	acct, err := h.ledger.Register(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) resetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.SideBuy)
}

func (h *Handler) sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.SideSell)
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, side models.Side) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed trade body")
		return
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be a decimal number")
		return
	}

	accountID := r.PathValue("id")
	var tx models.Transaction
	if side == models.SideBuy {
		tx, err = h.ledger.Buy(r.Context(), accountID, req.Symbol, qty)
	} else {
		tx, err = h.ledger.Sell(r.Context(), accountID, req.Symbol, qty)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	val, err := h.ledger.Valuate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, val)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledger.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) getWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.watch.Watched(r.PathValue("id")))
}

func (h *Handler) addWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"symbols\": [...]}")
		return
	}
	added := h.watch.Watch(r.PathValue("id"), req.Symbols...)
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added})
}

func (h *Handler) removeWatchlist(w http.ResponseWriter, r *http.Request) {
	removed := h.watch.Unwatch(r.PathValue("id"), r.PathValue("symbol"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	var accountIDs []string
	if raw := r.URL.Query().Get("accounts"); raw != "" {
		accountIDs = strings.Split(raw, ",")
	}
	topN := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "top must be a positive integer")
			return
		}
		topN = n
	}

	entries, err := h.rank.Leaderboard(r.Context(), accountIDs, topN)
	if err != nil {
		h.logger.Error("Leaderboard failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "leaderboard unavailable")
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) quotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "symbols query parameter required")
		return
	}

	out := make(map[string]*quoteResponse)
	for _, s := range strings.Split(raw, ",") {
		sym := watchlist.Normalize(s)
		if sym == "" {
			continue
		}
		q, status, ok := h.cache.Lookup(sym)
		if !ok {
			out[sym] = nil
			continue
		}
		out[sym] = &quoteResponse{Quote: q, Status: status.String()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeLedgerError maps ledger failures to status codes and stable reason
// codes; trade rejections always state the specific reason.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNoAccount):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, ledger.ErrAccountExists):
		writeError(w, http.StatusConflict, "account_exists", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_holdings", err.Error())
	case errors.Is(err, ledger.ErrPriceUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "price_unavailable", err.Error())
	case errors.Is(err, ledger.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	default:
		h.logger.Error("Ledger operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
