package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
)

const (
	bbPeriod     = 20
	bbMultiplier = 2.0
	bbCacheTTL   = 5 * time.Minute

	upperBandThreshold = 0.98
	listingWindow      = 30 * 24 * time.Hour
	listingScanPeriod  = 4 * time.Hour
)

// BollingerBands holds one band computation over recent closes.
type BollingerBands struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Close    float64 `json:"close"`
	Position float64 `json:"position"` // 0 at lower band, 1 at upper
}

// ScannerService computes volatility bands as a read-only decision
// aid, maintains the watchlist and discovers newly listed perpetuals.
type ScannerService struct {
	exchange  domain.Exchange
	watchlist domain.WatchlistRepository
	market    *MarketService
	logger    *zap.Logger

	bbCache map[string]bbCacheEntry
	mu      sync.Mutex

	listings   []domain.Instrument
	listingsMu sync.Mutex

	scannerRunning bool
	scannerCancel  context.CancelFunc
	scannerMu      sync.Mutex
}

type bbCacheEntry struct {
	bands BollingerBands
	at    time.Time
}

func NewScannerService(
	exchange domain.Exchange,
	watchlist domain.WatchlistRepository,
	market *MarketService,
	logger *zap.Logger,
) *ScannerService {
	return &ScannerService{
		exchange:  exchange,
		watchlist: watchlist,
		market:    market,
		logger:    logger,
		bbCache:   make(map[string]bbCacheEntry),
	}
}

// ComputeBands calculates Bollinger bands over the last closes.
func ComputeBands(closes []float64) (BollingerBands, error) {
	if len(closes) < bbPeriod {
		return BollingerBands{}, fmt.Errorf("need %d closes, have %d", bbPeriod, len(closes))
	}
	window := closes[len(closes)-bbPeriod:]

	var sum float64
	for _, c := range window {
		sum += c
	}
	mean := sum / bbPeriod

	var variance float64
	for _, c := range window {
		d := c - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / bbPeriod)

	bands := BollingerBands{
		Upper:  mean + bbMultiplier*stddev,
		Middle: mean,
		Lower:  mean - bbMultiplier*stddev,
		Close:  window[len(window)-1],
	}
	if span := bands.Upper - bands.Lower; span > 0 {
		bands.Position = (bands.Close - bands.Lower) / span
	}
	return bands, nil
}

// Bands returns the band computation for one symbol and interval,
// serving a cached result for up to five minutes.
func (s *ScannerService) Bands(ctx context.Context, symbol, interval string) (BollingerBands, error) {
	key := symbol + ":" + interval

	s.mu.Lock()
	entry, ok := s.bbCache[key]
	s.mu.Unlock()
	if ok && time.Since(entry.at) < bbCacheTTL {
		return entry.bands, nil
	}

	candles, err := s.exchange.GetCandles(ctx, symbol, interval, bbPeriod+1)
	if err != nil {
		return BollingerBands{}, fmt.Errorf("candles for %s %s: %w", symbol, interval, err)
	}
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}

	bands, err := ComputeBands(closes)
	if err != nil {
		return BollingerBands{}, err
	}

	s.mu.Lock()
	s.bbCache[key] = bbCacheEntry{bands: bands, at: time.Now()}
	s.mu.Unlock()
	return bands, nil
}

// AtUpperBand reports whether the symbol trades at the upper band on
// both the 15m and 4h intervals.
func (s *ScannerService) AtUpperBand(ctx context.Context, symbol string) (bool, error) {
	short, err := s.Bands(ctx, symbol, "15m")
	if err != nil {
		return false, err
	}
	if short.Position < upperBandThreshold {
		return false, nil
	}
	long, err := s.Bands(ctx, symbol, "4h")
	if err != nil {
		return false, err
	}
	return long.Position >= upperBandThreshold, nil
}

// ScanWatchlist returns the watchlist symbols currently at the upper
// band on both checked intervals.
func (s *ScannerService) ScanWatchlist(ctx context.Context) ([]string, error) {
	items, err := s.watchlist.ListWatchItems(ctx)
	if err != nil {
		return nil, err
	}

	var hits []string
	for _, item := range items {
		at, err := s.AtUpperBand(ctx, item.Symbol)
		if err != nil {
			s.logger.Warn("Band check failed",
				zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if at {
			hits = append(hits, item.Symbol)
		}
	}
	return hits, nil
}

func (s *ScannerService) AddToWatchlist(ctx context.Context, symbol, note string) error {
	return s.watchlist.AddWatchItem(ctx, &domain.WatchItem{
		Symbol:  symbol,
		Note:    note,
		AddedAt: time.Now().UTC(),
	})
}

func (s *ScannerService) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	return s.watchlist.RemoveWatchItem(ctx, symbol)
}

func (s *ScannerService) Watchlist(ctx context.Context) ([]*domain.WatchItem, error) {
	return s.watchlist.ListWatchItems(ctx)
}

// RecentListings returns the most recent auto-discovery result.
func (s *ScannerService) RecentListings() []domain.Instrument {
	s.listingsMu.Lock()
	defer s.listingsMu.Unlock()
	return append([]domain.Instrument(nil), s.listings...)
}

// StartListingScanner runs the new-listing discovery loop every four
// hours until the context is canceled.
func (s *ScannerService) StartListingScanner(ctx context.Context) {
	s.scannerMu.Lock()
	if s.scannerRunning {
		s.scannerMu.Unlock()
		return
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.scannerRunning = true
	s.scannerCancel = cancel
	s.scannerMu.Unlock()

	s.logger.Info("Listing scanner started", zap.Duration("period", listingScanPeriod))

	s.scanListings(scanCtx)
	ticker := time.NewTicker(listingScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.scanListings(scanCtx)
		case <-scanCtx.Done():
			s.scannerMu.Lock()
			s.scannerRunning = false
			s.scannerMu.Unlock()
			s.logger.Info("Listing scanner stopped")
			return
		}
	}
}

func (s *ScannerService) StopListingScanner() {
	s.scannerMu.Lock()
	defer s.scannerMu.Unlock()
	if s.scannerCancel != nil {
		s.scannerCancel()
	}
}

func (s *ScannerService) ScannerRunning() bool {
	s.scannerMu.Lock()
	defer s.scannerMu.Unlock()
	return s.scannerRunning
}

func (s *ScannerService) scanListings(ctx context.Context) {
	instruments, err := s.exchange.ListInstruments(ctx)
	if err != nil {
		s.logger.Error("Listing scan failed", zap.Error(err))
		return
	}

	now := time.Now()
	var fresh []domain.Instrument
	for _, inst := range instruments {
		if inst.Status != "TRADING" {
			continue
		}
		if inst.ListedWithin(listingWindow, now) {
			fresh = append(fresh, inst)
		}
	}

	s.listingsMu.Lock()
	s.listings = fresh
	s.listingsMu.Unlock()

	s.logger.Info("Listing scan complete", zap.Int("recent_listings", len(fresh)))
}
