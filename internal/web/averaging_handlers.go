package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/usecase"
)

// Averaging Bot API Handlers

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	type StartBotRequest struct {
		Symbol        string  `json:"symbol"`
		AvgInterval   float64 `json:"avg_interval"`    // re-entry spacing, percent
		AvgTPInterval float64 `json:"avg_tp_interval"` // take-profit spacing, percent
		AvgAmount     float64 `json:"avg_amount"`      // margin per rung, quote units
		BasePrice     float64 `json:"base_price"`      // optional; mark price when 0
	}

	var req StartBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Symbol == "" {
		http.Error(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	if req.AvgInterval <= 0 {
		http.Error(w, "AvgInterval must be greater than 0", http.StatusBadRequest)
		return
	}
	if req.AvgTPInterval <= 0 {
		http.Error(w, "AvgTPInterval must be greater than 0", http.StatusBadRequest)
		return
	}
	if req.AvgAmount <= 0 {
		http.Error(w, "AvgAmount must be greater than 0", http.StatusBadRequest)
		return
	}

	config := usecase.AveragingConfig{
		Symbol:        req.Symbol,
		AvgInterval:   req.AvgInterval,
		AvgTPInterval: req.AvgTPInterval,
		AvgAmount:     req.AvgAmount,
		BasePrice:     req.BasePrice,
	}

	if err := s.averaging.StartBot(r.Context(), config); err != nil {
		if errors.Is(err, usecase.ErrNoShortPosition) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("Failed to start averaging bot",
			zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "started", "symbol": req.Symbol})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}

	if err := s.averaging.StopBot(r.Context(), symbol); err != nil {
		if errors.Is(err, usecase.ErrBotNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to stop averaging bot",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped", "symbol": symbol})
}

func (s *Server) handleBotState(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}

	state, err := s.averaging.GetState(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, usecase.ErrBotNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to get bot state",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (s *Server) handleBotStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.averaging.ListStates(r.Context())
	if err != nil {
		s.logger.Error("Failed to list bot states", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(states)
}

func (s *Server) handleForceTakeProfit(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}

	if err := s.averaging.ForceTakeProfit(r.Context(), symbol); err != nil {
		if errors.Is(err, usecase.ErrBotNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Force take-profit failed",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "tp_placed", "symbol": symbol})
}

func (s *Server) handleRepairOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol parameter required", http.StatusBadRequest)
		return
	}

	if err := s.averaging.RepairOrders(r.Context(), symbol); err != nil {
		if errors.Is(err, usecase.ErrBotNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Order repair failed",
			zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "repaired", "symbol": symbol})
}

func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	type SetBaselineRequest struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}

	var req SetBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	if req.Price <= 0 {
		http.Error(w, "Price must be greater than 0", http.StatusBadRequest)
		return
	}

	if err := s.averaging.SetBaseline(r.Context(), req.Symbol, req.Price); err != nil {
		if errors.Is(err, usecase.ErrBotNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Baseline update failed",
			zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "base_updated", "symbol": req.Symbol})
}
