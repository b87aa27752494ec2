package domain

import "time"

// EntryFill is one re-entry fill accumulated since the last take-profit.
type EntryFill struct {
	Price float64   `json:"price"`
	Qty   float64   `json:"qty"`
	Time  time.Time `json:"time"`
}

// BotState is the persisted averaging-strategy record for one symbol.
// It is owned exclusively by that symbol's bot and mutated only under
// the bot's lock.
type BotState struct {
	Symbol          string      `json:"symbol"`
	IsActive        bool        `json:"is_active"`
	StartQty        float64     `json:"start_qty"`
	StartEntry      float64     `json:"start_entry"`
	LastQty         float64     `json:"last_qty"`
	LastEntry       float64     `json:"last_entry"`
	ShortOrderPrice float64     `json:"short_order_price"`
	RealizedProfit  float64     `json:"realized_profit"`
	TPCount         int         `json:"tp_count"`
	Entries         []EntryFill `json:"entries"`
	AvgInterval     float64     `json:"avg_interval"`
	AvgTPInterval   float64     `json:"avg_tp_interval"`
	AvgAmount       float64     `json:"avg_amount"`
	OrderIDs        []int64     `json:"order_ids"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AccumulatedQty is the total unresolved re-entry quantity since the
// current cycle's baseline.
func (s *BotState) AccumulatedQty() float64 {
	var total float64
	for _, e := range s.Entries {
		total += e.Qty
	}
	return total
}

// WeightedEntryPrice is the notional-weighted average price of the
// unresolved entries. Returns 0 when there are none.
func (s *BotState) WeightedEntryPrice() float64 {
	var notional, qty float64
	for _, e := range s.Entries {
		notional += e.Price * e.Qty
		qty += e.Qty
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// HasOrderID reports whether the bot placed the given order itself.
func (s *BotState) HasOrderID(id int64) bool {
	for _, v := range s.OrderIDs {
		if v == id {
			return true
		}
	}
	return false
}

// RemoveOrderID drops one id from the owned-order set.
func (s *BotState) RemoveOrderID(id int64) {
	kept := s.OrderIDs[:0]
	for _, v := range s.OrderIDs {
		if v != id {
			kept = append(kept, v)
		}
	}
	s.OrderIDs = kept
}
