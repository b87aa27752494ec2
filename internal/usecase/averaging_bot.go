package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
	"github.com/vitos/futures_averaging/internal/infrastructure/metrics"
)

var (
	ErrNoShortPosition = errors.New("no open short position for symbol")
	ErrBotNotFound     = errors.New("no averaging bot found for symbol")
)

type AveragingConfig struct {
	Symbol        string  `json:"symbol"`
	AvgInterval   float64 `json:"avg_interval"`    // re-entry spacing, percent
	AvgTPInterval float64 `json:"avg_tp_interval"` // take-profit spacing, percent
	AvgAmount     float64 `json:"avg_amount"`      // notional per re-entry leg
	BasePrice     float64 `json:"base_price"`      // optional reference price for the first cycle
}

// AveragingBot manages one symbol's short-averaging cycle. All state
// mutations happen under mu; Reconcile acquires it non-blockingly and
// skips the cycle when a manual operation holds it.
type AveragingBot struct {
	symbol     string
	instrument *domain.Instrument
	exchange   domain.Exchange
	states     domain.StateRepository
	trades     domain.TradeRepository
	market     *MarketService
	logger     *zap.Logger
	state      *domain.BotState
	mu         sync.Mutex
}

func NewAveragingBot(
	ctx context.Context,
	cfg AveragingConfig,
	exchange domain.Exchange,
	states domain.StateRepository,
	trades domain.TradeRepository,
	market *MarketService,
	logger *zap.Logger,
) (*AveragingBot, error) {
	instrument, err := exchange.GetInstrument(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve instrument %s: %w", cfg.Symbol, err)
	}

	return &AveragingBot{
		symbol:     cfg.Symbol,
		instrument: instrument,
		exchange:   exchange,
		states:     states,
		trades:     trades,
		market:     market,
		logger:     logger,
		state: &domain.BotState{
			Symbol:        cfg.Symbol,
			AvgInterval:   cfg.AvgInterval,
			AvgTPInterval: cfg.AvgTPInterval,
			AvgAmount:     cfg.AvgAmount,
		},
	}, nil
}

// State returns a copy of the current bot state.
func (b *AveragingBot) State() domain.BotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := *b.state
	st.Entries = append([]domain.EntryFill(nil), b.state.Entries...)
	st.OrderIDs = append([]int64(nil), b.state.OrderIDs...)
	return st
}

// Start begins an averaging cycle. It requires an existing short
// position on the exchange; basePrice overrides the cycle reference
// price when non-zero.
func (b *AveragingBot) Start(ctx context.Context, basePrice float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, err := b.exchange.GetPosition(ctx, b.symbol)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if !pos.Short() {
		return ErrNoShortPosition
	}

	ref := basePrice
	if ref == 0 {
		ref, err = b.market.Price(ctx, b.symbol)
		if err != nil {
			return fmt.Errorf("get market price: %w", err)
		}
	}

	st := b.state
	st.StartQty = pos.AbsQty()
	st.StartEntry = ref
	st.LastQty = pos.AbsQty()
	st.LastEntry = pos.EntryPrice
	st.Entries = nil
	st.OrderIDs = nil
	st.IsActive = true
	if err := b.persist(ctx); err != nil {
		return err
	}

	b.logger.Info("Averaging bot started",
		zap.String("symbol", b.symbol),
		zap.Float64("qty", st.StartQty),
		zap.Float64("base_price", ref))

	// Rejected placements are not fatal here: the next reconcile cycle
	// sees the missing order and retries.
	if err := b.placeShort(ctx); err != nil {
		b.logger.Error("Initial re-entry placement failed",
			zap.String("symbol", b.symbol), zap.Error(err))
	}
	return nil
}

// Stop cancels the bot's own live orders and deactivates it. Manually
// placed orders on the same symbol are left untouched.
func (b *AveragingBot) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopLocked(ctx)
}

func (b *AveragingBot) stopLocked(ctx context.Context) error {
	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	b.cancelOwned(ctx, orders)

	st := b.state
	st.OrderIDs = nil
	st.IsActive = false
	if err := b.persist(ctx); err != nil {
		return err
	}

	b.logger.Info("Averaging bot stopped", zap.String("symbol", b.symbol))
	return nil
}

// Reconcile runs one polling step: compare the live position against
// the tracked baseline and react to any detected fill. If the bot is
// busy the cycle is skipped; skipped cycles are not queued or replayed.
func (b *AveragingBot) Reconcile(ctx context.Context) error {
	if !b.mu.TryLock() {
		metrics.IncReconcileSkipped(b.symbol)
		b.logger.Debug("Reconcile skipped, bot busy", zap.String("symbol", b.symbol))
		return nil
	}
	defer b.mu.Unlock()

	st := b.state
	if !st.IsActive {
		return nil
	}
	metrics.IncReconcile(b.symbol)

	pos, err := b.exchange.GetPosition(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Position check failed, skipping cycle",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	if !pos.Short() {
		b.logger.Info("Position closed or flipped, stopping bot",
			zap.String("symbol", b.symbol))
		if err := b.stopLocked(ctx); err != nil {
			b.logger.Error("Stop after position closure failed",
				zap.String("symbol", b.symbol), zap.Error(err))
		}
		return nil
	}

	q := pos.AbsQty()
	e := pos.EntryPrice

	switch {
	case math.Abs(q-st.LastQty) < b.instrument.MinQty:
		return b.reconcileUnchanged(ctx, q)
	case q > st.LastQty:
		return b.reconcileReentryFill(ctx, q, e)
	default:
		return b.reconcileTakeProfitFill(ctx, q, e)
	}
}

// reconcileUnchanged handles the no-fill case: re-place a missing
// re-entry order, or chase the price down when the market has moved
// favorably past the spacing threshold.
func (b *AveragingBot) reconcileUnchanged(ctx context.Context, q float64) error {
	st := b.state

	// An accumulation is pending take-profit; do not chase price while
	// the take-profit order rests.
	if q-st.StartQty >= b.instrument.MinQty {
		return nil
	}

	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Open-orders check failed, skipping cycle",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	if !b.hasOwnedOrder(orders, domain.SideSell) {
		return b.placeShort(ctx)
	}

	price, err := b.market.Price(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Price check failed, skipping cycle",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	if st.ShortOrderPrice > 0 && price < st.ShortOrderPrice*(1-st.AvgInterval/100) {
		b.logger.Info("Price chase: replacing stale re-entry order",
			zap.String("symbol", b.symbol),
			zap.Float64("price", price),
			zap.Float64("short_order_price", st.ShortOrderPrice))
		b.cancelOwned(ctx, orders)
		st.StartEntry = price
		if err := b.persist(ctx); err != nil {
			return err
		}
		return b.placeShort(ctx)
	}
	return nil
}

// reconcileReentryFill handles quantity growth: back-solve the fill
// price from the before/after snapshots and arm the take-profit.
func (b *AveragingBot) reconcileReentryFill(ctx context.Context, q, e float64) error {
	st := b.state

	fillQty := q - st.LastQty
	fillPrice := (q*e - st.LastQty*st.LastEntry) / fillQty

	b.logger.Info("Re-entry fill detected",
		zap.String("symbol", b.symbol),
		zap.Float64("fill_qty", fillQty),
		zap.Float64("fill_price", fillPrice))
	metrics.IncFill(b.symbol, "reentry")

	st.Entries = append(st.Entries, domain.EntryFill{
		Price: fillPrice,
		Qty:   fillQty,
		Time:  time.Now().UTC(),
	})
	b.pruneOrderIDs(ctx)
	st.LastQty = q
	st.LastEntry = e
	if err := b.persist(ctx); err != nil {
		return err
	}

	b.recordTrade(ctx, domain.SideSell, "averaging_short_filled", fillPrice, fillQty)
	return b.placeTakeProfit(ctx)
}

// reconcileTakeProfitFill handles quantity shrink: book the profit,
// reset the cycle baseline and place the next re-entry order.
//
// Realized profit uses the configured spacing against the previous
// entry price rather than the order's true fill price; the fill-based
// figure is logged alongside for comparison.
func (b *AveragingBot) reconcileTakeProfitFill(ctx context.Context, q, e float64) error {
	st := b.state

	filledQty := st.LastQty - q
	profit := filledQty * st.LastEntry * (st.AvgTPInterval / 100)

	price, err := b.market.Price(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Price check failed, skipping cycle",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	fillBased := filledQty * (st.WeightedEntryPrice() - price)
	b.logger.Info("Take-profit fill detected",
		zap.String("symbol", b.symbol),
		zap.Float64("filled_qty", filledQty),
		zap.Float64("profit", profit),
		zap.Float64("profit_fill_based", fillBased))
	metrics.IncFill(b.symbol, "take_profit")

	st.RealizedProfit += profit
	st.TPCount++
	st.Entries = nil
	st.StartQty = q
	st.StartEntry = price
	st.LastQty = q
	st.LastEntry = e
	b.pruneOrderIDs(ctx)
	if err := b.persist(ctx); err != nil {
		return err
	}
	metrics.SetRealizedProfit(b.symbol, st.RealizedProfit)

	b.recordTrade(ctx, domain.SideBuy, "averaging_tp_filled", price, filledQty)
	return b.placeShort(ctx)
}

// ForceTakeProfit places an immediate reduce-only cover order sized to
// the accumulated quantity, or a default notional when none has
// accumulated. Entries and baseline bookkeeping are left untouched.
func (b *AveragingBot) ForceTakeProfit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state

	ref := st.WeightedEntryPrice()
	if ref == 0 {
		ref = st.LastEntry
	}
	if ref == 0 {
		price, err := b.market.Price(ctx, b.symbol)
		if err != nil {
			return fmt.Errorf("get market price: %w", err)
		}
		ref = price
	}
	tpPrice := b.instrument.RoundTick(ref * (1 - st.AvgTPInterval/100))

	qty := st.AccumulatedQty()
	if qty < b.instrument.MinQty {
		qty = st.AvgAmount * 2 / tpPrice
	}
	qty = b.instrument.RoundStep(qty)

	order, err := b.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     b.symbol,
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        qty,
		Price:      tpPrice,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("place forced take-profit: %w", err)
	}

	st.OrderIDs = append(st.OrderIDs, order.OrderID)
	if err := b.persist(ctx); err != nil {
		return err
	}

	metrics.IncOrderPlaced(b.symbol, string(domain.SideBuy))
	b.recordTrade(ctx, domain.SideBuy, "averaging_tp_forced", tpPrice, qty)
	b.logger.Info("Forced take-profit placed",
		zap.String("symbol", b.symbol),
		zap.Int64("order_id", order.OrderID),
		zap.Float64("price", tpPrice),
		zap.Float64("qty", qty))
	return nil
}

// RepairOrders cancels every bot-owned order and re-derives the single
// order the current state calls for.
func (b *AveragingBot) RepairOrders(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	b.cancelOwned(ctx, orders)

	st := b.state
	st.OrderIDs = nil
	if err := b.persist(ctx); err != nil {
		return err
	}

	if st.AccumulatedQty() >= b.instrument.MinQty {
		return b.placeTakeProfit(ctx)
	}
	return b.placeShort(ctx)
}

// SetBaseline replaces the cycle reference price and re-places the
// resting re-entry order against it.
func (b *AveragingBot) SetBaseline(ctx context.Context, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	b.cancelOwned(ctx, orders)

	st := b.state
	st.StartEntry = price
	if err := b.persist(ctx); err != nil {
		return err
	}
	return b.placeShort(ctx)
}

// placeShort places the resting re-entry order at the spacing offset
// above the cycle reference price. Placement is skipped when any
// sell-side order is already open on the symbol, whoever created it.
func (b *AveragingBot) placeShort(ctx context.Context) error {
	st := b.state

	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Open-orders check failed, not placing re-entry",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}
	for _, o := range orders {
		if o.Side == domain.SideSell {
			b.logger.Debug("Sell order already open, skipping re-entry placement",
				zap.String("symbol", b.symbol), zap.Int64("order_id", o.OrderID))
			return nil
		}
	}

	price := b.instrument.RoundTick(st.StartEntry * (1 + st.AvgInterval/100))
	qty := b.instrument.RoundStep(st.AvgAmount * 2 / price)

	order, err := b.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: b.symbol,
		Side:   domain.SideSell,
		Type:   domain.OrderTypeLimit,
		Qty:    qty,
		Price:  price,
	})
	if err != nil {
		b.logger.Error("Re-entry placement rejected",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	st.OrderIDs = append(st.OrderIDs, order.OrderID)
	st.ShortOrderPrice = price
	if err := b.persist(ctx); err != nil {
		return err
	}

	metrics.IncOrderPlaced(b.symbol, string(domain.SideSell))
	b.recordTrade(ctx, domain.SideSell, "averaging_short", price, qty)
	b.logger.Info("Re-entry order placed",
		zap.String("symbol", b.symbol),
		zap.Int64("order_id", order.OrderID),
		zap.Float64("price", price),
		zap.Float64("qty", qty))
	return nil
}

// placeTakeProfit places the cover order for the accumulated quantity
// below the blended entry price. Skipped when any buy-side order is
// already open on the symbol.
func (b *AveragingBot) placeTakeProfit(ctx context.Context) error {
	st := b.state

	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Open-orders check failed, not placing take-profit",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}
	for _, o := range orders {
		if o.Side == domain.SideBuy {
			b.logger.Debug("Buy order already open, skipping take-profit placement",
				zap.String("symbol", b.symbol), zap.Int64("order_id", o.OrderID))
			return nil
		}
	}

	qty := b.instrument.RoundStep(st.AccumulatedQty())
	if qty < b.instrument.MinQty {
		return nil
	}

	ref := st.WeightedEntryPrice()
	if ref == 0 {
		ref = st.ShortOrderPrice
	}
	price := b.instrument.RoundTick(ref * (1 - st.AvgTPInterval/100))

	order, err := b.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     b.symbol,
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        qty,
		Price:      price,
		ReduceOnly: true,
	})
	if err != nil {
		b.logger.Error("Take-profit placement rejected",
			zap.String("symbol", b.symbol), zap.Error(err))
		return nil
	}

	st.OrderIDs = append(st.OrderIDs, order.OrderID)
	if err := b.persist(ctx); err != nil {
		return err
	}

	metrics.IncOrderPlaced(b.symbol, string(domain.SideBuy))
	b.recordTrade(ctx, domain.SideBuy, "averaging_tp", price, qty)
	b.logger.Info("Take-profit order placed",
		zap.String("symbol", b.symbol),
		zap.Int64("order_id", order.OrderID),
		zap.Float64("price", price),
		zap.Float64("qty", qty))
	return nil
}

// cancelOwned cancels every live order the bot itself placed and drops
// the canceled ids from the owned set.
func (b *AveragingBot) cancelOwned(ctx context.Context, orders []domain.Order) {
	st := b.state
	for _, o := range orders {
		if !st.HasOrderID(o.OrderID) {
			continue
		}
		if err := b.exchange.CancelOrder(ctx, b.symbol, o.OrderID); err != nil {
			b.logger.Error("Cancel failed",
				zap.String("symbol", b.symbol),
				zap.Int64("order_id", o.OrderID),
				zap.Error(err))
			continue
		}
		st.RemoveOrderID(o.OrderID)
		metrics.IncOrderCanceled(b.symbol)
	}
}

// pruneOrderIDs drops owned ids no longer present in the live open
// order list (filled or canceled externally).
func (b *AveragingBot) pruneOrderIDs(ctx context.Context) {
	st := b.state
	if len(st.OrderIDs) == 0 {
		return
	}
	orders, err := b.exchange.GetOpenOrders(ctx, b.symbol)
	if err != nil {
		b.logger.Error("Open-orders check failed, keeping tracked ids",
			zap.String("symbol", b.symbol), zap.Error(err))
		return
	}
	live := make(map[int64]bool, len(orders))
	for _, o := range orders {
		live[o.OrderID] = true
	}
	kept := st.OrderIDs[:0]
	for _, id := range st.OrderIDs {
		if live[id] {
			kept = append(kept, id)
		}
	}
	st.OrderIDs = kept
}

func (b *AveragingBot) hasOwnedOrder(orders []domain.Order, side domain.Side) bool {
	for _, o := range orders {
		if o.Side == side && b.state.HasOrderID(o.OrderID) {
			return true
		}
	}
	return false
}

func (b *AveragingBot) persist(ctx context.Context) error {
	if err := b.states.SaveState(ctx, b.state); err != nil {
		return fmt.Errorf("persist state for %s: %w", b.symbol, err)
	}
	return nil
}

func (b *AveragingBot) recordTrade(ctx context.Context, side domain.Side, tradeType string, price, qty float64) {
	if b.trades == nil {
		return
	}
	err := b.trades.SaveTrade(ctx, &domain.Trade{
		Symbol:    b.symbol,
		Side:      side,
		Type:      tradeType,
		Price:     price,
		Qty:       qty,
		Notional:  price * qty,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("Trade journal write failed",
			zap.String("symbol", b.symbol), zap.Error(err))
	}
}
