package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/usecase"
)

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.market.Prices())
}

func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "15m"
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	candles, err := s.market.Candles(r.Context(), symbol, interval, limit)
	if err != nil {
		s.logger.Error("Failed to get candles",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candles)
}

func (s *Server) handleBands(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "15m"
	}

	bands, err := s.scanner.Bands(r.Context(), symbol, interval)
	if err != nil {
		s.logger.Error("Band computation failed",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bands)
}

func (s *Server) handleScanWatchlist(w http.ResponseWriter, r *http.Request) {
	hits, err := s.scanner.ScanWatchlist(r.Context())
	if err != nil {
		s.logger.Error("Watchlist scan failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"at_upper_band": hits})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.scanner.RecentListings())
}

func (s *Server) handleStartScanner(w http.ResponseWriter, r *http.Request) {
	go s.scanner.StartListingScanner(context.Background())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "scanner_started"})
}

func (s *Server) handleStopScanner(w http.ResponseWriter, r *http.Request) {
	s.scanner.StopListingScanner()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "scanner_stopped"})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.scanner.Watchlist(r.Context())
	if err != nil {
		s.logger.Error("Failed to list watchlist", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

func (s *Server) handleAddWatchItem(w http.ResponseWriter, r *http.Request) {
	type AddWatchRequest struct {
		Symbol string `json:"symbol"`
		Note   string `json:"note"`
	}

	var req AddWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "Symbol is required", http.StatusBadRequest)
		return
	}

	if err := s.scanner.AddToWatchlist(r.Context(), req.Symbol, req.Note); err != nil {
		s.logger.Error("Failed to add watch item",
			zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "added", "symbol": req.Symbol})
}

func (s *Server) handleRemoveWatchItem(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := s.scanner.RemoveFromWatchlist(r.Context(), symbol); err != nil {
		s.logger.Error("Failed to remove watch item",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "removed", "symbol": symbol})
}

func (s *Server) handlePlaceGrid(w http.ResponseWriter, r *http.Request) {
	var req usecase.GridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	if req.Notional <= 0 {
		http.Error(w, "Notional must be greater than 0", http.StatusBadRequest)
		return
	}

	result, err := s.grid.Place(r.Context(), req)
	if err != nil {
		s.logger.Error("Grid placement failed",
			zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	trades, err := s.tradeRepo.ListTrades(r.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"scanner_running": s.scanner.ScannerRunning(),
	})
}
