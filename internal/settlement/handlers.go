package settlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
	"github.com/tradefloor/settlement-engine/internal/store"
)

// TradeRequest is the JSON body for POST /buy and /sell. A zero or omitted
// price is filled in from the latest cached quote for the symbol.
type TradeRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// TradeResponse is the JSON body returned from POST /buy and /sell.
type TradeResponse struct {
	TraderID string          `json:"trader_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
	Position *model.Position `json:"position,omitempty"`
	Closed   bool            `json:"closed,omitempty"`
}

// CreateWalletRequest is the JSON body for POST /traders/{traderID}/wallet.
type CreateWalletRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// --- HTTP Handlers ---

// HandleBuy handles POST /api/v1/traders/{traderID}/buy
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, model.SideBuy)
}

// HandleSell handles POST /api/v1/traders/{traderID}/sell
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, model.SideSell)
}

func (s *Service) handleTrade(w http.ResponseWriter, r *http.Request, side model.TradeSide) {
	traderID := chi.URLParam(r, "traderID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	price := req.Price
	if price.IsZero() {
		quote, err := s.quotes.Latest(r.Context(), req.Symbol)
		if err != nil {
			writeError(w, "no price available for "+req.Symbol, errStatus(err))
			return
		}
		price = quote.Price
	}

	var (
		pos *model.Position
		err error
	)
	if side == model.SideBuy {
		pos, err = s.Buy(r.Context(), traderID, req.Symbol, req.Quantity, price)
	} else {
		pos, err = s.Sell(r.Context(), traderID, req.Symbol, req.Quantity, price)
	}
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	resp := TradeResponse{
		TraderID: traderID,
		Symbol:   req.Symbol,
		Side:     string(side),
		Quantity: req.Quantity,
		Price:    price,
		Total:    req.Quantity.Mul(price),
		Position: pos,
		Closed:   side == model.SideSell && pos == nil,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleCreateWallet handles POST /api/v1/traders/{traderID}/wallet
func (s *Service) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance cannot be negative", http.StatusBadRequest)
		return
	}

	wallet := &model.Wallet{TraderID: traderID, Balance: req.Balance}
	if err := s.store.CreateWallet(r.Context(), wallet); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wallet)
}

// HandleGetWallet handles GET /api/v1/traders/{traderID}/wallet
func (s *Service) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	wallet, err := s.Wallet(r.Context(), traderID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// HandleGetPortfolio handles GET /api/v1/traders/{traderID}/portfolio
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	positions, err := s.Portfolio(r.Context(), traderID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// HandleGetTrades handles GET /api/v1/traders/{traderID}/trades
func (s *Service) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	trades, err := s.store.TradesByTrader(r.Context(), traderID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// HandleLeaderboard handles GET /api/v1/leaderboard?limit=10&date=YYYY-MM-DD
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := int64(10)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	top, err := s.ranking.TopTraders(r.Context(), limit, day)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	if top == nil {
		top = []model.TopTrader{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(top)
}

// HandleGetPrice handles GET /api/v1/stocks/{symbol}/price
func (s *Service) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	quote, err := s.quotes.Latest(r.Context(), symbol)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// errStatus maps domain errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPositionNotFound),
		errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrPortfolioNotFound),
		errors.Is(err, store.ErrQuoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInsufficientShares),
		errors.Is(err, store.ErrWalletExists),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
