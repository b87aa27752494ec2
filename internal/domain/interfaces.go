package domain

import "context"

// Exchange defines the interface for interacting with the futures exchange.
type Exchange interface {
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
	ListInstruments(ctx context.Context) ([]Instrument, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetServerTime(ctx context.Context) (int64, error)
	OnPriceUpdate(callback func(symbol string, price float64))
	Subscribe() error
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// StateRepository defines storage operations for bot states.
type StateRepository interface {
	SaveState(ctx context.Context, state *BotState) error
	GetState(ctx context.Context, symbol string) (*BotState, error)
	ListStates(ctx context.Context) ([]*BotState, error)
	DeactivateAll(ctx context.Context) error
	DeleteState(ctx context.Context, symbol string) error
}

// TradeRepository defines storage operations for the trade journal.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error)
}

// WatchlistRepository defines storage operations for the watchlist.
type WatchlistRepository interface {
	AddWatchItem(ctx context.Context, item *WatchItem) error
	RemoveWatchItem(ctx context.Context, symbol string) error
	ListWatchItems(ctx context.Context) ([]*WatchItem, error)
}
