package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/portfolio"
	"github.com/vitos/crypto_trade_core/internal/usecase"
)

type Server struct {
	router        *http.ServeMux
	server        *http.Server
	data          *usecase.PersonalData
	subPortfolios []portfolio.SubPortfolio
	optimizer     *usecase.OptimizerGate
	validate      *validator.Validate
	injectPrice   func(symbol string, price decimal.Decimal)
	logger        *zap.Logger
}

// NewServer exposes the state of data over JSON endpoints and a websocket
// event stream. subPortfolios are the declared sub-portfolios resolved by
// GET /api/sub-portfolios.
func NewServer(port int, data *usecase.PersonalData, subPortfolios []portfolio.SubPortfolio, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:        http.NewServeMux(),
		data:          data,
		subPortfolios: subPortfolios,
		optimizer:     usecase.NewOptimizerGate(),
		validate:      validator.New(),
		logger:        logger.Named("web"),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Portfolio
	s.router.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	s.router.HandleFunc("GET /api/sub-portfolios", s.handleSubPortfolios)

	// Orders
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)
	s.router.HandleFunc("POST /api/orders", s.handleCreateOrder)
	s.router.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handlePositions)

	// Trades
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/pnl", s.handlePnL)

	// Market data
	s.router.HandleFunc("GET /api/candles", s.handleCandles)
	s.router.HandleFunc("GET /api/orderbook", s.handleOrderBook)
	s.router.HandleFunc("POST /api/prices", s.handleInjectPrice)

	// Events
	s.router.HandleFunc("GET /ws", s.handleEvents)
}

// SetOptimizerGate shares the sub-portfolio serialization with the servers
// of other exchanges.
func (s *Server) SetOptimizerGate(gate *usecase.OptimizerGate) {
	s.optimizer = gate
}

// SetPriceInjector enables POST /api/prices, used to drive a paper trading
// exchange by hand.
func (s *Server) SetPriceInjector(inject func(symbol string, price decimal.Decimal)) {
	s.injectPrice = inject
}

// Handler returns the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
