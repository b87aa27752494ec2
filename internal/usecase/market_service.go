package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
)

// MarketService keeps a read-mostly cache of last prices fed by the
// ticker stream, falling back to a REST query when the cache is cold.
type MarketService struct {
	exchange domain.Exchange
	logger   *zap.Logger
	prices   map[string]pricePoint
	mu       sync.RWMutex
}

type pricePoint struct {
	price float64
	at    time.Time
}

const priceStaleAfter = 30 * time.Second

func NewMarketService(exchange domain.Exchange, logger *zap.Logger) *MarketService {
	s := &MarketService{
		exchange: exchange,
		logger:   logger,
		prices:   make(map[string]pricePoint),
	}
	exchange.OnPriceUpdate(s.handleTick)
	return s
}

func (s *MarketService) handleTick(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = pricePoint{price: price, at: time.Now()}
	s.mu.Unlock()
}

// Price returns the cached stream price for the symbol, querying the
// exchange directly when the feed has no fresh tick.
func (s *MarketService) Price(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	point, ok := s.prices[symbol]
	s.mu.RUnlock()

	if ok && time.Since(point.at) < priceStaleAfter {
		return point.price, nil
	}

	price, err := s.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		if ok {
			s.logger.Warn("Price query failed, serving stale tick",
				zap.String("symbol", symbol), zap.Error(err))
			return point.price, nil
		}
		return 0, fmt.Errorf("price for %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.prices[symbol] = pricePoint{price: price, at: time.Now()}
	s.mu.Unlock()
	return price, nil
}

// Prices returns a snapshot of every cached price.
func (s *MarketService) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for sym, p := range s.prices {
		out[sym] = p.price
	}
	return out
}

func (s *MarketService) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return s.exchange.GetCandles(ctx, symbol, interval, limit)
}
