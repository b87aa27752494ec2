package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
)

// AveragingService owns the symbol → bot registry and drives the
// periodic reconcile loop across all active bots.
type AveragingService struct {
	exchange domain.Exchange
	states   domain.StateRepository
	trades   domain.TradeRepository
	market   *MarketService
	logger   *zap.Logger
	interval time.Duration
	bots     map[string]*AveragingBot
	mu       sync.Mutex
}

func NewAveragingService(
	exchange domain.Exchange,
	states domain.StateRepository,
	trades domain.TradeRepository,
	market *MarketService,
	interval time.Duration,
	logger *zap.Logger,
) *AveragingService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &AveragingService{
		exchange: exchange,
		states:   states,
		trades:   trades,
		market:   market,
		logger:   logger,
		interval: interval,
		bots:     make(map[string]*AveragingBot),
	}
}

// DeactivateSaved forces every persisted record inactive. Called once
// at process start, before the reconcile loop: bots never resume live
// order management across a restart without an explicit operator start.
func (s *AveragingService) DeactivateSaved(ctx context.Context) error {
	if err := s.states.DeactivateAll(ctx); err != nil {
		return fmt.Errorf("deactivate saved states: %w", err)
	}
	s.logger.Info("Saved bot states deactivated after restart")
	return nil
}

// StartBot creates and starts a bot for the symbol. An existing bot
// for the same symbol is stopped and replaced.
func (s *AveragingService) StartBot(ctx context.Context, cfg AveragingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.bots[cfg.Symbol]; exists {
		if err := old.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop previous bot",
				zap.String("symbol", cfg.Symbol), zap.Error(err))
		}
		delete(s.bots, cfg.Symbol)
	}

	bot, err := NewAveragingBot(ctx, cfg, s.exchange, s.states, s.trades, s.market, s.logger)
	if err != nil {
		return err
	}
	if err := bot.Start(ctx, cfg.BasePrice); err != nil {
		return err
	}

	s.bots[cfg.Symbol] = bot
	s.logger.Info("Averaging bot registered", zap.String("symbol", cfg.Symbol))
	return nil
}

// StopBot stops the symbol's bot and removes it from the registry.
func (s *AveragingService) StopBot(ctx context.Context, symbol string) error {
	s.mu.Lock()
	bot, exists := s.bots[symbol]
	if exists {
		delete(s.bots, symbol)
	}
	s.mu.Unlock()

	if !exists {
		return ErrBotNotFound
	}
	return bot.Stop(ctx)
}

func (s *AveragingService) bot(symbol string) (*AveragingBot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, exists := s.bots[symbol]
	if !exists {
		return nil, ErrBotNotFound
	}
	return bot, nil
}

func (s *AveragingService) ForceTakeProfit(ctx context.Context, symbol string) error {
	bot, err := s.bot(symbol)
	if err != nil {
		return err
	}
	return bot.ForceTakeProfit(ctx)
}

func (s *AveragingService) RepairOrders(ctx context.Context, symbol string) error {
	bot, err := s.bot(symbol)
	if err != nil {
		return err
	}
	return bot.RepairOrders(ctx)
}

func (s *AveragingService) SetBaseline(ctx context.Context, symbol string, price float64) error {
	bot, err := s.bot(symbol)
	if err != nil {
		return err
	}
	return bot.SetBaseline(ctx, price)
}

// GetState returns the live bot state when the symbol is registered,
// falling back to the persisted record otherwise.
func (s *AveragingService) GetState(ctx context.Context, symbol string) (*domain.BotState, error) {
	if bot, err := s.bot(symbol); err == nil {
		st := bot.State()
		return &st, nil
	}
	st, err := s.states.GetState(ctx, symbol)
	if err != nil {
		return nil, ErrBotNotFound
	}
	return st, nil
}

// ListStates returns every persisted record, overlaid with live state
// for registered bots.
func (s *AveragingService) ListStates(ctx context.Context) ([]*domain.BotState, error) {
	saved, err := s.states.ListStates(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	live := make(map[string]*AveragingBot, len(s.bots))
	for sym, bot := range s.bots {
		live[sym] = bot
	}
	s.mu.Unlock()

	out := make([]*domain.BotState, 0, len(saved))
	seen := make(map[string]bool, len(saved))
	for _, st := range saved {
		if bot, ok := live[st.Symbol]; ok {
			cur := bot.State()
			out = append(out, &cur)
		} else {
			out = append(out, st)
		}
		seen[st.Symbol] = true
	}
	for sym, bot := range live {
		if !seen[sym] {
			cur := bot.State()
			out = append(out, &cur)
		}
	}
	return out, nil
}

// Run drives reconciliation until the context is canceled. Bots are
// reconciled sequentially each tick; one symbol's failure never halts
// the others.
func (s *AveragingService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Averaging reconcile loop started",
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			s.reconcileAll(ctx)
		case <-ctx.Done():
			s.logger.Info("Averaging reconcile loop stopped")
			return
		}
	}
}

func (s *AveragingService) reconcileAll(ctx context.Context) {
	s.mu.Lock()
	bots := make([]*AveragingBot, 0, len(s.bots))
	for _, bot := range s.bots {
		bots = append(bots, bot)
	}
	s.mu.Unlock()

	for _, bot := range bots {
		if err := bot.Reconcile(ctx); err != nil {
			s.logger.Error("Reconcile error",
				zap.String("symbol", bot.symbol), zap.Error(err))
		}
	}
}
