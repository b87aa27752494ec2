package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/futures_averaging/internal/domain"
)

// MockExchange implements domain.Exchange with settable state.
type MockExchange struct {
	mu          sync.Mutex
	Position    *domain.Position
	OpenOrders  []domain.Order
	MarketPrice float64
	Instrument  *domain.Instrument
	Instruments []domain.Instrument
	Candles     map[string][]domain.Candle
	CandleCalls int

	nextOrderID int64
	Placed      []domain.OrderRequest
	Canceled    []int64
	PlaceErr    error

	callbacks []func(symbol string, price float64)
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Instrument: &domain.Instrument{
			Symbol:         "BTCUSDT",
			Status:         "TRADING",
			TickSize:       0.01,
			MinQty:         1,
			PricePrecision: 2,
			QtyPrecision:   0,
		},
		nextOrderID: 1000,
	}
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Position, nil
}

func (m *MockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.OpenOrders...), nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.nextOrderID++
	order := domain.Order{
		OrderID:    m.nextOrderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		Qty:        req.Qty,
		Status:     "NEW",
		ReduceOnly: req.ReduceOnly,
	}
	m.OpenOrders = append(m.OpenOrders, order)
	m.Placed = append(m.Placed, req)
	return &order, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.OpenOrders {
		if o.OrderID == orderID {
			m.OpenOrders = append(m.OpenOrders[:i], m.OpenOrders[i+1:]...)
			m.Canceled = append(m.Canceled, orderID)
			return nil
		}
	}
	return fmt.Errorf("order %d not found", orderID)
}

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MarketPrice, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CandleCalls++
	if m.Candles == nil {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	return m.Candles[symbol+":"+interval], nil
}

func (m *MockExchange) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	if m.Instrument == nil {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	return m.Instrument, nil
}

func (m *MockExchange) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return m.Instruments, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *MockExchange) GetServerTime(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *MockExchange) OnPriceUpdate(callback func(symbol string, price float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *MockExchange) Subscribe() error { return nil }

// PushPrice emits a tick to registered callbacks, like the live stream.
func (m *MockExchange) PushPrice(symbol string, price float64) {
	m.mu.Lock()
	m.MarketPrice = price
	callbacks := append(([]func(string, float64))(nil), m.callbacks...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(symbol, price)
	}
}

// SetShort sets a live short position of the given size and entry.
func (m *MockExchange) SetShort(symbol string, qty, entry float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Position = &domain.Position{Symbol: symbol, Qty: -qty, EntryPrice: entry}
}

// FillOrder removes an open order as if it executed.
func (m *MockExchange) FillOrder(orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.OpenOrders {
		if o.OrderID == orderID {
			m.OpenOrders = append(m.OpenOrders[:i], m.OpenOrders[i+1:]...)
			return
		}
	}
}

func (m *MockExchange) SellOrders() []domain.Order {
	return m.ordersBySide(domain.SideSell)
}

func (m *MockExchange) BuyOrders() []domain.Order {
	return m.ordersBySide(domain.SideBuy)
}

func (m *MockExchange) ordersBySide(side domain.Side) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.OpenOrders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

// MockStateRepo implements domain.StateRepository in memory.
type MockStateRepo struct {
	mu     sync.Mutex
	States map[string]domain.BotState
	Saves  int
}

func NewMockStateRepo() *MockStateRepo {
	return &MockStateRepo{States: make(map[string]domain.BotState)}
}

func (r *MockStateRepo) SaveState(ctx context.Context, state *domain.BotState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := *state
	st.Entries = append([]domain.EntryFill(nil), state.Entries...)
	st.OrderIDs = append([]int64(nil), state.OrderIDs...)
	r.States[state.Symbol] = st
	r.Saves++
	return nil
}

func (r *MockStateRepo) GetState(ctx context.Context, symbol string) (*domain.BotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.States[symbol]
	if !ok {
		return nil, fmt.Errorf("state %s not found", symbol)
	}
	return &st, nil
}

func (r *MockStateRepo) ListStates(ctx context.Context) ([]*domain.BotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BotState
	for _, st := range r.States {
		copied := st
		out = append(out, &copied)
	}
	return out, nil
}

func (r *MockStateRepo) DeactivateAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sym, st := range r.States {
		st.IsActive = false
		r.States[sym] = st
	}
	return nil
}

func (r *MockStateRepo) DeleteState(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.States, symbol)
	return nil
}

// MockTradeRepo implements domain.TradeRepository in memory.
type MockTradeRepo struct {
	mu     sync.Mutex
	Trades []domain.Trade
}

func (r *MockTradeRepo) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trades = append(r.Trades, *trade)
	return nil
}

func (r *MockTradeRepo) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for i := range r.Trades {
		if symbol == "" || r.Trades[i].Symbol == symbol {
			out = append(out, &r.Trades[i])
		}
	}
	return out, nil
}

// MockWatchlistRepo implements domain.WatchlistRepository in memory.
type MockWatchlistRepo struct {
	mu    sync.Mutex
	Items map[string]domain.WatchItem
}

func NewMockWatchlistRepo() *MockWatchlistRepo {
	return &MockWatchlistRepo{Items: make(map[string]domain.WatchItem)}
}

func (r *MockWatchlistRepo) AddWatchItem(ctx context.Context, item *domain.WatchItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items[item.Symbol] = *item
	return nil
}

func (r *MockWatchlistRepo) RemoveWatchItem(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Items, symbol)
	return nil
}

func (r *MockWatchlistRepo) ListWatchItems(ctx context.Context) ([]*domain.WatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.WatchItem
	for _, item := range r.Items {
		copied := item
		out = append(out, &copied)
	}
	return out, nil
}

func newTestBot(t interface{ Fatalf(string, ...any) }, mock *MockExchange, repo *MockStateRepo, cfg AveragingConfig) (*AveragingBot, *MarketService) {
	logger := zap.NewNop()
	market := NewMarketService(mock, logger)
	bot, err := NewAveragingBot(context.Background(), cfg, mock, repo, &MockTradeRepo{}, market, logger)
	if err != nil {
		t.Fatalf("failed to build bot: %v", err)
	}
	return bot, market
}
