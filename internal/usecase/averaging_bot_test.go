package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/vitos/futures_averaging/internal/domain"
)

func defaultConfig() AveragingConfig {
	return AveragingConfig{
		Symbol:        "BTCUSDT",
		AvgInterval:   2,
		AvgTPInterval: 1,
		AvgAmount:     255,
	}
}

func TestStartRequiresShortPosition(t *testing.T) {
	mock := NewMockExchange()
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())

	err := bot.Start(context.Background(), 0)
	if !errors.Is(err, ErrNoShortPosition) {
		t.Fatalf("expected ErrNoShortPosition, got %v", err)
	}
	if len(mock.Placed) != 0 {
		t.Errorf("expected no orders placed, got %d", len(mock.Placed))
	}
}

func TestStartPlacesInitialShort(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	repo := NewMockStateRepo()
	bot, _ := newTestBot(t, mock, repo, defaultConfig())

	if err := bot.Start(context.Background(), 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	sells := mock.SellOrders()
	if len(sells) != 1 {
		t.Fatalf("expected 1 sell order, got %d", len(sells))
	}
	if sells[0].Price != 51.0 {
		t.Errorf("expected re-entry at 51.0 (50 x 1.02), got %v", sells[0].Price)
	}
	if sells[0].Qty != 10 {
		t.Errorf("expected qty 10 (255x2/51), got %v", sells[0].Qty)
	}

	st := bot.State()
	if !st.IsActive {
		t.Error("expected bot active after start")
	}
	if st.StartQty != 1000 || st.LastQty != 1000 {
		t.Errorf("baseline not captured: start=%v last=%v", st.StartQty, st.LastQty)
	}
	if len(st.OrderIDs) != 1 || st.OrderIDs[0] != sells[0].OrderID {
		t.Errorf("expected order_ids [%d], got %v", sells[0].OrderID, st.OrderIDs)
	}
	if _, ok := repo.States["BTCUSDT"]; !ok {
		t.Error("state not persisted")
	}
}

func TestQuantityDeltaFormula(t *testing.T) {
	mock := NewMockExchange()
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())

	bot.state.IsActive = true
	bot.state.StartQty = 100
	bot.state.StartEntry = 50
	bot.state.LastQty = 100
	bot.state.LastEntry = 50
	mock.SetShort("BTCUSDT", 150, 48)
	mock.MarketPrice = 48

	if err := bot.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	st := bot.State()
	if len(st.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(st.Entries))
	}
	if st.Entries[0].Price != 44.0 {
		t.Errorf("expected back-solved fill price 44, got %v", st.Entries[0].Price)
	}
	if st.Entries[0].Qty != 50 {
		t.Errorf("expected fill qty 50, got %v", st.Entries[0].Qty)
	}
	if st.LastQty != 150 || st.LastEntry != 48 {
		t.Errorf("baseline not advanced: last_qty=%v last_entry=%v", st.LastQty, st.LastEntry)
	}

	buys := mock.BuyOrders()
	if len(buys) != 1 {
		t.Fatalf("expected take-profit order placed, got %d buys", len(buys))
	}
	if !buys[0].ReduceOnly {
		t.Error("take-profit order should be reduce-only")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	repo := NewMockStateRepo()
	bot, _ := newTestBot(t, mock, repo, defaultConfig())

	if err := bot.Start(context.Background(), 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	placedBefore := len(mock.Placed)
	stateBefore := bot.State()

	for i := 0; i < 2; i++ {
		if err := bot.Reconcile(context.Background()); err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
	}

	if len(mock.Placed) != placedBefore {
		t.Errorf("expected no additional placements, got %d new", len(mock.Placed)-placedBefore)
	}
	stateAfter := bot.State()
	if stateAfter.StartEntry != stateBefore.StartEntry ||
		stateAfter.ShortOrderPrice != stateBefore.ShortOrderPrice ||
		len(stateAfter.Entries) != len(stateBefore.Entries) {
		t.Error("state mutated by no-op reconcile")
	}
}

func TestEndToEndCycle(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	if err := bot.Start(ctx, 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sellID := mock.SellOrders()[0].OrderID

	// The resting order fills: quantity grows to 1100, blended entry 49.5.
	mock.FillOrder(sellID)
	mock.SetShort("BTCUSDT", 1100, 49.5)

	if err := bot.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	st := bot.State()
	if len(st.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(st.Entries))
	}
	want := (1100*49.5 - 1000*50.0) / 100
	if math.Abs(st.Entries[0].Price-want) > 1e-9 {
		t.Errorf("expected fill price %v, got %v", want, st.Entries[0].Price)
	}

	if len(mock.OpenOrders) != 1 {
		t.Fatalf("expected exactly one open order, got %d", len(mock.OpenOrders))
	}
	tp := mock.OpenOrders[0]
	if tp.Side != domain.SideBuy {
		t.Errorf("expected the open order to be the take-profit buy, got %s", tp.Side)
	}
	if tp.Qty != 100 {
		t.Errorf("expected take-profit sized to accumulation 100, got %v", tp.Qty)
	}
	if len(st.OrderIDs) != 1 || st.OrderIDs[0] != tp.OrderID {
		t.Errorf("expected order_ids pruned to [%d], got %v", tp.OrderID, st.OrderIDs)
	}
}

func TestTakeProfitFillResetsCycle(t *testing.T) {
	mock := NewMockExchange()
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	bot.state.IsActive = true
	bot.state.StartQty = 100
	bot.state.StartEntry = 50
	bot.state.LastQty = 150
	bot.state.LastEntry = 48
	bot.state.Entries = []domain.EntryFill{{Price: 44, Qty: 50}}
	bot.state.OrderIDs = []int64{777}

	// Position shrank back to the cycle baseline: the cover order filled.
	mock.SetShort("BTCUSDT", 100, 50)
	mock.MarketPrice = 47

	if err := bot.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	st := bot.State()
	wantProfit := 50 * 48.0 * 0.01
	if math.Abs(st.RealizedProfit-wantProfit) > 1e-9 {
		t.Errorf("expected realized profit %v from configured spacing, got %v", wantProfit, st.RealizedProfit)
	}
	if st.TPCount != 1 {
		t.Errorf("expected tp_count 1, got %d", st.TPCount)
	}
	if len(st.Entries) != 0 {
		t.Errorf("expected entries cleared, got %v", st.Entries)
	}
	if st.StartEntry != 47 || st.StartQty != 100 {
		t.Errorf("expected baseline reset to market, got start_entry=%v start_qty=%v", st.StartEntry, st.StartQty)
	}

	sells := mock.SellOrders()
	if len(sells) != 1 {
		t.Fatalf("expected fresh re-entry order, got %d sells", len(sells))
	}
	if math.Abs(sells[0].Price-47*1.02) > 0.011 {
		t.Errorf("expected re-entry near %v, got %v", 47*1.02, sells[0].Price)
	}
}

func TestPriceChaseThreshold(t *testing.T) {
	cases := []struct {
		name      string
		price     float64
		wantChase bool
	}{
		{"just below threshold", 104.4, true},
		{"just above threshold", 104.6, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := NewMockExchange()
			cfg := defaultConfig()
			cfg.AvgInterval = 5
			bot, _ := newTestBot(t, mock, NewMockStateRepo(), cfg)

			bot.state.IsActive = true
			bot.state.StartQty = 100
			bot.state.StartEntry = 104.76
			bot.state.LastQty = 100
			bot.state.LastEntry = 105
			bot.state.ShortOrderPrice = 110
			bot.state.AvgInterval = 5

			resting, err := mock.PlaceOrder(context.Background(), domain.OrderRequest{
				Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
				Qty: 5, Price: 110,
			})
			if err != nil {
				t.Fatalf("seed order failed: %v", err)
			}
			bot.state.OrderIDs = []int64{resting.OrderID}
			mock.Placed = nil

			mock.SetShort("BTCUSDT", 100, 105)
			mock.MarketPrice = tc.price

			if err := bot.Reconcile(context.Background()); err != nil {
				t.Fatalf("reconcile failed: %v", err)
			}

			chased := len(mock.Canceled) > 0
			if chased != tc.wantChase {
				t.Errorf("price %v: chase=%v, want %v", tc.price, chased, tc.wantChase)
			}
			if tc.wantChase {
				if bot.State().StartEntry != tc.price {
					t.Errorf("expected baseline reset to %v, got %v", tc.price, bot.State().StartEntry)
				}
				sells := mock.SellOrders()
				if len(sells) != 1 {
					t.Fatalf("expected replacement order, got %d sells", len(sells))
				}
				wantPrice := tc.price * 1.05
				if math.Abs(sells[0].Price-wantPrice) > 0.011 {
					t.Errorf("expected replacement near %v, got %v", wantPrice, sells[0].Price)
				}
			}
		})
	}
}

func TestNoChaseWhileAccumulationPending(t *testing.T) {
	mock := NewMockExchange()
	cfg := defaultConfig()
	cfg.AvgInterval = 5
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), cfg)

	bot.state.IsActive = true
	bot.state.StartQty = 100
	bot.state.LastQty = 150
	bot.state.LastEntry = 105
	bot.state.ShortOrderPrice = 110
	bot.state.Entries = []domain.EntryFill{{Price: 100, Qty: 50}}

	mock.SetShort("BTCUSDT", 150, 105)
	mock.MarketPrice = 90

	if err := bot.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(mock.Placed) != 0 || len(mock.Canceled) != 0 {
		t.Error("expected no order activity while accumulation awaits take-profit")
	}
}

func TestStopCancelsOnlyOwnedOrders(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	if err := bot.Start(ctx, 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	ownedID := bot.State().OrderIDs[0]

	// A manually placed order on the same symbol.
	foreign, err := mock.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Qty: 3, Price: 60,
	})
	if err != nil {
		t.Fatalf("foreign order failed: %v", err)
	}

	if err := bot.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if len(mock.Canceled) != 1 || mock.Canceled[0] != ownedID {
		t.Errorf("expected only owned order %d canceled, got %v", ownedID, mock.Canceled)
	}
	if len(mock.OpenOrders) != 1 || mock.OpenOrders[0].OrderID != foreign.OrderID {
		t.Error("manually placed order must survive stop")
	}

	st := bot.State()
	if st.IsActive {
		t.Error("expected bot inactive after stop")
	}
	if len(st.OrderIDs) != 0 {
		t.Errorf("expected order_ids cleared, got %v", st.OrderIDs)
	}
}

func TestOwnershipNeverAdoptsForeignOrders(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	foreign, err := mock.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: 3, Price: 45,
	})
	if err != nil {
		t.Fatalf("foreign order failed: %v", err)
	}

	if err := bot.Start(ctx, 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := bot.Reconcile(ctx); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
	}

	for _, id := range bot.State().OrderIDs {
		if id == foreign.OrderID {
			t.Fatalf("order_ids adopted foreign order %d", foreign.OrderID)
		}
	}
}

func TestAtMostOneOrderPerSide(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 100, 50)
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	// A sell order already rests, placed by someone else.
	if _, err := mock.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Qty: 2, Price: 52,
	}); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}

	bot.state.IsActive = true
	bot.state.StartQty = 100
	bot.state.StartEntry = 50
	bot.state.LastQty = 100
	bot.state.LastEntry = 50

	if err := bot.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if len(mock.SellOrders()) != 1 {
		t.Errorf("expected placement skipped with a sell already open, got %d sells", len(mock.SellOrders()))
	}
}

func TestWeightedTakeProfitReference(t *testing.T) {
	mock := NewMockExchange()
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())

	bot.state.IsActive = true
	bot.state.Entries = []domain.EntryFill{
		{Price: 100, Qty: 10},
		{Price: 90, Qty: 20},
	}

	if err := bot.placeTakeProfit(context.Background()); err != nil {
		t.Fatalf("placement failed: %v", err)
	}

	buys := mock.BuyOrders()
	if len(buys) != 1 {
		t.Fatalf("expected 1 take-profit order, got %d", len(buys))
	}
	// Blended reference (100x10 + 90x20)/30 = 93.33..., minus 1% spacing.
	want := (100.0*10 + 90.0*20) / 30 * 0.99
	if math.Abs(buys[0].Price-want) > 0.011 {
		t.Errorf("expected take-profit near %v, got %v", want, buys[0].Price)
	}
	if buys[0].Qty != 30 {
		t.Errorf("expected qty 30, got %v", buys[0].Qty)
	}
}

func TestForceTakeProfitDefaultSizing(t *testing.T) {
	mock := NewMockExchange()
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())

	bot.state.IsActive = true
	bot.state.LastEntry = 50

	if err := bot.ForceTakeProfit(context.Background()); err != nil {
		t.Fatalf("force take-profit failed: %v", err)
	}

	buys := mock.BuyOrders()
	if len(buys) != 1 {
		t.Fatalf("expected 1 order, got %d", len(buys))
	}
	if math.Abs(buys[0].Price-49.5) > 0.011 {
		t.Errorf("expected price near 49.5 (50 x 0.99), got %v", buys[0].Price)
	}
	// Default notional sizing: 255x2 / 49.5 truncated to whole units.
	if buys[0].Qty != 10 {
		t.Errorf("expected default qty 10, got %v", buys[0].Qty)
	}
	if !buys[0].ReduceOnly {
		t.Error("forced take-profit must be reduce-only")
	}
	st := bot.State()
	if len(st.OrderIDs) != 1 || st.OrderIDs[0] != buys[0].OrderID {
		t.Errorf("forced order id must join order_ids, got %v", st.OrderIDs)
	}
	if len(st.Entries) != 0 {
		t.Error("force take-profit must not touch entries")
	}
}

func TestRepairOrders(t *testing.T) {
	mock := NewMockExchange()
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	// Inconsistent state: accumulation pending but a re-entry order rests.
	stale, err := mock.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Qty: 5, Price: 55,
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	bot.state.IsActive = true
	bot.state.OrderIDs = []int64{stale.OrderID}
	bot.state.Entries = []domain.EntryFill{{Price: 44, Qty: 50}}

	if err := bot.RepairOrders(ctx); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	if len(mock.SellOrders()) != 0 {
		t.Error("expected stale re-entry order canceled")
	}
	buys := mock.BuyOrders()
	if len(buys) != 1 {
		t.Fatalf("expected exactly one take-profit order after repair, got %d", len(buys))
	}
	if buys[0].Qty != 50 {
		t.Errorf("expected repair take-profit sized to accumulation 50, got %v", buys[0].Qty)
	}
}

func TestReconcileSkipsWhenBusy(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 100, 50)
	repo := NewMockStateRepo()
	bot, _ := newTestBot(t, mock, repo, defaultConfig())
	bot.state.IsActive = true

	bot.mu.Lock()
	defer bot.mu.Unlock()

	savesBefore := repo.Saves
	if err := bot.Reconcile(context.Background()); err != nil {
		t.Fatalf("busy reconcile must return nil, got %v", err)
	}
	if len(mock.Placed) != 0 {
		t.Error("busy reconcile must not place orders")
	}
	if repo.Saves != savesBefore {
		t.Error("busy reconcile must not persist")
	}
}

func TestReconcileStopsOnClosedPosition(t *testing.T) {
	mock := NewMockExchange()
	mock.SetShort("BTCUSDT", 1000, 50)
	mock.MarketPrice = 50
	bot, _ := newTestBot(t, mock, NewMockStateRepo(), defaultConfig())
	ctx := context.Background()

	if err := bot.Start(ctx, 50); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mock.Position = nil

	if err := bot.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	st := bot.State()
	if st.IsActive {
		t.Error("expected bot stopped after position closure")
	}
	if len(mock.OpenOrders) != 0 {
		t.Error("expected owned orders canceled on closure")
	}
}
