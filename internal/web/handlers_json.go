package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/market"
	"github.com/vitos/crypto_trade_core/internal/orders"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

const defaultBookDepth = 20

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps domain failures to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownOrder), errors.Is(err, domain.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOrderState),
		errors.Is(err, domain.ErrPortfolioNegativeValue),
		domain.IsErrorType(err, domain.ErrorTypeOrderRejected):
		return http.StatusUnprocessableEntity
	case domain.IsRateLimit(err):
		return http.StatusTooManyRequests
	case domain.IsRetriable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusResponse struct {
	Exchange   string   `json:"exchange"`
	Symbols    []string `json:"symbols"`
	OpenOrders int      `json:"open_orders"`
	Trades     int      `json:"trades"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Exchange:   s.data.Exchange(),
		Symbols:    s.data.Symbols(),
		OpenOrders: len(s.data.Orders("")),
		Trades:     s.data.Trades().Len(),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.data.Portfolio().Snapshot())
}

type subPortfoliosResponse struct {
	Remaining     interface{} `json:"remaining"`
	SubPortfolios interface{} `json:"sub_portfolios"`
}

func (s *Server) handleSubPortfolios(w http.ResponseWriter, r *http.Request) {
	remaining, resolved, ran := s.data.ResolveSubPortfoliosOnce(r.Context(), s.optimizer, s.subPortfolios)
	if !ran {
		remaining, resolved = map[string]portfolio.Asset{}, []portfolio.SubPortfolio{}
	}
	s.writeJSON(w, http.StatusOK, subPortfoliosResponse{Remaining: remaining, SubPortfolios: resolved})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	views := s.data.Orders(r.URL.Query().Get("symbol"))
	if views == nil {
		views = []orders.View{}
	}
	s.writeJSON(w, http.StatusOK, views)
}

type createOrderRequest struct {
	Symbol    string           `json:"symbol" validate:"required"`
	Side      domain.Side      `json:"side" validate:"oneof=buy sell"`
	Type      domain.OrderType `json:"type" validate:"oneof=market limit stop_loss stop_loss_limit take_profit take_profit_limit"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	StopPrice decimal.Decimal  `json:"stop_price"`
	Tag       string           `json:"tag"`
	Closing   bool             `json:"closing"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Quantity.IsPositive() {
		s.writeError(w, http.StatusBadRequest, errors.New("quantity must be positive"))
		return
	}

	created, err := s.data.Submit(r.Context(), orders.Spec{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Tag:       req.Tag,
		Closing:   req.Closing,
	})
	if err != nil && len(created) == 0 {
		s.logger.Error("Failed to create order", zap.String("symbol", req.Symbol), zap.Error(err))
		s.writeError(w, errorStatus(err), err)
		return
	}
	if err != nil {
		s.logger.Warn("Order partially created", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	views := make([]orders.View, 0, len(created))
	for _, o := range created {
		if v, ok := s.data.OrderView(o.ID); ok {
			views = append(views, v)
		}
	}
	s.writeJSON(w, http.StatusCreated, views)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.data.Cancel(r.Context(), id); err != nil {
		s.logger.Error("Failed to cancel order", zap.String("order_id", id), zap.Error(err))
		s.writeError(w, errorStatus(err), err)
		return
	}
	v, _ := s.data.OrderView(id)
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.data.Positions().All())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.data.Trades().Trades(r.URL.Query().Get("symbol")))
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.data.PnL(r.URL.Query().Get("symbol"))
	if err != nil && !errors.Is(err, domain.ErrIncompletePNL) {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"complete": err == nil,
		"trades":   pnl,
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	timeFrame := r.URL.Query().Get("timeframe")
	if timeFrame == "" {
		timeFrame = "1m"
	}
	store, ok := s.data.Candles(symbol, timeFrame)
	if !ok {
		s.writeError(w, http.StatusNotFound, domain.ErrUnknownMarket)
		return
	}
	candles := store.Candles()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	s.writeJSON(w, http.StatusOK, candles)
}

type orderBookResponse struct {
	Symbol string           `json:"symbol"`
	Asks   []market.Level   `json:"asks"`
	Bids   []market.Level   `json:"bids"`
	Ticker market.TopOfBook `json:"ticker"`
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	book, ok := s.data.OrderBook(symbol)
	if !ok {
		s.writeError(w, http.StatusNotFound, domain.ErrUnknownMarket)
		return
	}
	depth := defaultBookDepth
	if d, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && d > 0 {
		depth = d
	}
	s.writeJSON(w, http.StatusOK, orderBookResponse{
		Symbol: symbol,
		Asks:   book.Levels(domain.SideSell, depth),
		Bids:   book.Levels(domain.SideBuy, depth),
		Ticker: book.Ticker(),
	})
}

type injectPriceRequest struct {
	Symbol string          `json:"symbol" validate:"required"`
	Price  decimal.Decimal `json:"price"`
}

func (s *Server) handleInjectPrice(w http.ResponseWriter, r *http.Request) {
	if s.injectPrice == nil {
		http.NotFound(w, r)
		return
	}
	var req injectPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Price.IsPositive() {
		s.writeError(w, http.StatusBadRequest, errors.New("price must be positive"))
		return
	}
	if _, ok := s.data.Market(req.Symbol); !ok {
		s.writeError(w, http.StatusNotFound, domain.ErrUnknownMarket)
		return
	}
	s.injectPrice(req.Symbol, req.Price)
	w.WriteHeader(http.StatusAccepted)
}
