package domain

import (
	"math"
	"time"
)

// Instrument holds the per-symbol trading rules read from exchange info.
type Instrument struct {
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	TickSize      float64 `json:"tick_size"`
	MinQty        float64 `json:"min_qty"`
	PricePrecision int    `json:"price_precision"`
	QtyPrecision   int    `json:"qty_precision"`
	OnboardDate   int64   `json:"onboard_date"`
}

// RoundTick snaps a price to the instrument's tick size and price precision.
func (i *Instrument) RoundTick(price float64) float64 {
	if i.TickSize > 0 {
		price = math.Round(price/i.TickSize) * i.TickSize
	}
	factor := math.Pow10(i.PricePrecision)
	return math.Round(price*factor) / factor
}

// RoundStep truncates a quantity to the instrument's quantity precision,
// floored at the minimum tradable quantity.
func (i *Instrument) RoundStep(qty float64) float64 {
	factor := math.Pow10(i.QtyPrecision)
	qty = math.Floor(qty*factor) / factor
	if qty < i.MinQty {
		return i.MinQty
	}
	return qty
}

// ListedWithin reports whether the instrument was onboarded at most d ago.
func (i *Instrument) ListedWithin(d time.Duration, now time.Time) bool {
	if i.OnboardDate == 0 {
		return false
	}
	onboard := time.UnixMilli(i.OnboardDate)
	return now.Sub(onboard) <= d
}
