package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
	"github.com/vitos/futures_averaging/internal/usecase"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	averaging *usecase.AveragingService
	market    *usecase.MarketService
	scanner   *usecase.ScannerService
	grid      *usecase.GridService
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	averaging *usecase.AveragingService,
	market *usecase.MarketService,
	scanner *usecase.ScannerService,
	grid *usecase.GridService,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		averaging: averaging,
		market:    market,
		scanner:   scanner,
		grid:      grid,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Averaging bots
	s.router.HandleFunc("POST /api/averaging/start", s.handleStartBot)
	s.router.HandleFunc("POST /api/averaging/stop", s.handleStopBot)
	s.router.HandleFunc("GET /api/averaging/state", s.handleBotState)
	s.router.HandleFunc("GET /api/averaging/states", s.handleBotStates)
	s.router.HandleFunc("POST /api/averaging/force-tp", s.handleForceTakeProfit)
	s.router.HandleFunc("POST /api/averaging/repair", s.handleRepairOrders)
	s.router.HandleFunc("POST /api/averaging/set-base", s.handleSetBaseline)

	// Market data
	s.router.HandleFunc("GET /api/prices", s.handlePrices)
	s.router.HandleFunc("GET /api/candles", s.handleGetCandles)

	// Scanner
	s.router.HandleFunc("GET /api/scanner/bands", s.handleBands)
	s.router.HandleFunc("GET /api/scanner/scan", s.handleScanWatchlist)
	s.router.HandleFunc("GET /api/scanner/listings", s.handleListings)
	s.router.HandleFunc("POST /api/scanner/start", s.handleStartScanner)
	s.router.HandleFunc("POST /api/scanner/stop", s.handleStopScanner)

	// Watchlist
	s.router.HandleFunc("GET /api/watchlist", s.handleWatchlist)
	s.router.HandleFunc("POST /api/watchlist", s.handleAddWatchItem)
	s.router.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchItem)

	// Grid
	s.router.HandleFunc("POST /api/grid", s.handlePlaceGrid)

	// Trades
	s.router.HandleFunc("GET /api/trades", s.handleTrades)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
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
