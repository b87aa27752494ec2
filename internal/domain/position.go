package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Position represents an open futures position on the exchange.
// Qty is signed the way the exchange reports it: negative for shorts.
type Position struct {
	Symbol        string
	Qty           float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Short reports whether the position is an open short.
func (p *Position) Short() bool {
	return p != nil && p.Qty < 0
}

// AbsQty is the unsigned position size.
func (p *Position) AbsQty() float64 {
	if p == nil {
		return 0
	}
	if p.Qty < 0 {
		return -p.Qty
	}
	return p.Qty
}

// Order represents an exchange order, live or historical.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Qty           float64
	Status        string
	ReduceOnly    bool
}

// OrderRequest is the placement payload sent to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64
	ReduceOnly    bool
	ClientOrderID string
}

// Trade is one row of the trade journal.
type Trade struct {
	ID        int64
	Symbol    string
	Side      Side
	Type      string
	Price     float64
	Qty       float64
	Notional  float64
	Note      string
	CreatedAt time.Time
}

// WatchItem is one watchlist entry.
type WatchItem struct {
	Symbol  string
	Note    string
	AddedAt time.Time
}
