package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
)

// GridRequest describes a one-shot short ladder: one entry order plus
// Count additional sell limits spaced Interval percent apart above the
// base price, each leg scaled by Multiplier.
type GridRequest struct {
	Symbol     string  `json:"symbol"`
	Leverage   int     `json:"leverage"`
	Notional   float64 `json:"notional"`     // quote notional of the first leg
	Offset     float64 `json:"offset"`       // first entry offset from base, percent; 0 = market entry
	Interval   float64 `json:"interval"`     // spacing between ladder legs, percent
	Count      int     `json:"count"`        // additional legs beyond the entry
	Multiplier float64 `json:"multiplier"`   // size scaling per leg
	BasePrice  float64 `json:"base_price"`   // optional; market price when 0
}

// GridResult reports what the ladder placement did.
type GridResult struct {
	Symbol   string         `json:"symbol"`
	Base     float64        `json:"base"`
	OrderIDs []int64        `json:"order_ids"`
	Legs     []GridLegState `json:"legs"`
}

type GridLegState struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// GridService places short ladders. It keeps no state between calls;
// orders it creates are not managed by any averaging bot.
type GridService struct {
	exchange domain.Exchange
	trades   domain.TradeRepository
	market   *MarketService
	logger   *zap.Logger
}

func NewGridService(exchange domain.Exchange, trades domain.TradeRepository, market *MarketService, logger *zap.Logger) *GridService {
	return &GridService{
		exchange: exchange,
		trades:   trades,
		market:   market,
		logger:   logger,
	}
}

func (s *GridService) Place(ctx context.Context, req GridRequest) (*GridResult, error) {
	if req.Notional <= 0 {
		return nil, fmt.Errorf("notional must be positive")
	}
	if req.Multiplier <= 0 {
		req.Multiplier = 1
	}

	instrument, err := s.exchange.GetInstrument(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve instrument %s: %w", req.Symbol, err)
	}

	if req.Leverage > 0 {
		if err := s.exchange.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			s.logger.Warn("Leverage change failed",
				zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}

	base := req.BasePrice
	if base == 0 {
		base, err = s.market.Price(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("get market price: %w", err)
		}
	}

	result := &GridResult{Symbol: req.Symbol, Base: base}

	// First leg: market entry, or a limit at the offset above base.
	entryQty := instrument.RoundStep(req.Notional / base)
	entryReq := domain.OrderRequest{
		Symbol: req.Symbol,
		Side:   domain.SideSell,
		Qty:    entryQty,
	}
	if req.Offset == 0 {
		entryReq.Type = domain.OrderTypeMarket
	} else {
		entryReq.Type = domain.OrderTypeLimit
		entryReq.Price = instrument.RoundTick(base * (1 + req.Offset/100))
	}

	entry, err := s.exchange.PlaceOrder(ctx, entryReq)
	if err != nil {
		return nil, fmt.Errorf("place grid entry: %w", err)
	}
	result.OrderIDs = append(result.OrderIDs, entry.OrderID)
	result.Legs = append(result.Legs, GridLegState{Price: entryReq.Price, Qty: entryQty})
	s.recordTrade(ctx, req.Symbol, "grid_entry", entryReq.Price, entryQty)

	qty := entryQty
	for i := 1; i <= req.Count; i++ {
		qty = instrument.RoundStep(qty * req.Multiplier)
		price := instrument.RoundTick(base * (1 + req.Interval*float64(i)/100))

		order, err := s.exchange.PlaceOrder(ctx, domain.OrderRequest{
			Symbol: req.Symbol,
			Side:   domain.SideSell,
			Type:   domain.OrderTypeLimit,
			Qty:    qty,
			Price:  price,
		})
		if err != nil {
			s.logger.Error("Grid leg placement failed",
				zap.String("symbol", req.Symbol),
				zap.Int("leg", i),
				zap.Error(err))
			continue
		}
		result.OrderIDs = append(result.OrderIDs, order.OrderID)
		result.Legs = append(result.Legs, GridLegState{Price: price, Qty: qty})
		s.recordTrade(ctx, req.Symbol, "grid_add", price, qty)
	}

	s.logger.Info("Grid ladder placed",
		zap.String("symbol", req.Symbol),
		zap.Float64("base", base),
		zap.Int("orders", len(result.OrderIDs)))
	return result, nil
}

func (s *GridService) recordTrade(ctx context.Context, symbol, tradeType string, price, qty float64) {
	if s.trades == nil {
		return
	}
	err := s.trades.SaveTrade(ctx, &domain.Trade{
		Symbol:    symbol,
		Side:      domain.SideSell,
		Type:      tradeType,
		Price:     price,
		Qty:       qty,
		Notional:  price * qty,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Trade journal write failed",
			zap.String("symbol", symbol), zap.Error(err))
	}
}
