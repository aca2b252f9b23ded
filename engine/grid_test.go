package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

func newGridFixture(t *testing.T) (*Grid, *venue.Mock) {
	t.Helper()
	m := venue.NewMock("BTCUSDT", 50000, 1000000)
	val, err := validate.NewValidator(context.Background(), m, "BTCUSDT")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	g := NewGrid(m, val, GridConfig{
		Symbol:          "BTCUSDT",
		LowerPrice:      48000,
		UpperPrice:      52000,
		NumGrids:        5,
		QuantityPerGrid: 0.01,
	})
	return g, m
}

func TestGridLevels(t *testing.T) {
	g, _ := newGridFixture(t)
	if err := g.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	want := []float64{48000, 49000, 50000, 51000, 52000}
	got := g.Levels()
	if len(got) != len(want) {
		t.Fatalf("expected %d levels, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if g.State() != StateValidated {
		t.Errorf("expected state %s, got %s", StateValidated, g.State())
	}
}

func TestGridValidateRejectsBadParameters(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 1000000)
	val, err := validate.NewValidator(context.Background(), m, "BTCUSDT")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	cases := []struct {
		name string
		cfg  GridConfig
	}{
		{"too few grids", GridConfig{Symbol: "BTCUSDT", LowerPrice: 48000, UpperPrice: 52000, NumGrids: 1, QuantityPerGrid: 0.01}},
		{"inverted range", GridConfig{Symbol: "BTCUSDT", LowerPrice: 52000, UpperPrice: 48000, NumGrids: 5, QuantityPerGrid: 0.01}},
		{"equal bounds", GridConfig{Symbol: "BTCUSDT", LowerPrice: 50000, UpperPrice: 50000, NumGrids: 5, QuantityPerGrid: 0.01}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGrid(m, val, tc.cfg)
			err := g.Validate(context.Background())
			var verr *validate.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGridInitialOrders(t *testing.T) {
	g, _ := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	// 48000 and 49000 are below market, 51000 and 52000 above; 50000 is at
	// market and gets nothing.
	if len(g.buyOrders) != 2 {
		t.Errorf("expected 2 buy orders, got %d", len(g.buyOrders))
	}
	if len(g.sellOrders) != 2 {
		t.Errorf("expected 2 sell orders, got %d", len(g.sellOrders))
	}
	for level, h := range g.buyOrders {
		if h.Side != models.SideBuy || h.Price != level {
			t.Errorf("buy order at %v mismatched: %+v", level, h)
		}
	}
}

func TestGridBuyFillSpawnsSell(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}
	before := len(g.buyOrders) + len(g.sellOrders)

	buy := g.buyOrders[49000]
	if buy == nil {
		t.Fatal("expected buy order at 49000")
	}
	if err := m.MarkFilled(buy.OrderID, 49000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}

	fills, err := g.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if fills != 1 {
		t.Fatalf("expected 1 fill, got %d", fills)
	}

	// A new sell appears at the next level above the fill.
	if _, ok := g.sellOrders[50000]; !ok {
		t.Error("expected replacement sell order at 50000")
	}
	if got := len(g.buyOrders) + len(g.sellOrders); got != before {
		t.Errorf("tracked order count changed: %d -> %d", before, got)
	}
	// A buy fill alone realizes nothing.
	if g.RealizedProfit() != 0 {
		t.Errorf("expected zero profit after buy fill, got %v", g.RealizedProfit())
	}
	if len(g.filledBuys) != 1 {
		t.Errorf("expected 1 filled buy, got %d", len(g.filledBuys))
	}
}

func TestGridSellFillRealizesProfit(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	// Drive a buy fill at 49000 so a sell rests at 50000, then fill it.
	buy := g.buyOrders[49000]
	if err := m.MarkFilled(buy.OrderID, 49000); err != nil {
		t.Fatalf("MarkFilled buy: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	sell := g.sellOrders[50000]
	if sell == nil {
		t.Fatal("expected sell order at 50000")
	}
	if err := m.MarkFilled(sell.OrderID, 50000); err != nil {
		t.Fatalf("MarkFilled sell: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// (50000 - 49000) * 0.01 = 10, and the buy at 49000 is replenished.
	if g.RealizedProfit() != 10 {
		t.Errorf("expected profit 10, got %v", g.RealizedProfit())
	}
	if _, ok := g.buyOrders[49000]; !ok {
		t.Error("expected replacement buy order at 49000")
	}
}

func TestGridBoundaryFillPlacesNothing(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}
	before := len(g.buyOrders) + len(g.sellOrders)

	// A sell fill at the top still has a counterpart level below it, so
	// the order count is preserved.
	top := g.sellOrders[52000]
	if top == nil {
		t.Fatal("expected sell order at 52000")
	}
	if err := m.MarkFilled(top.OrderID, 52000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := len(g.buyOrders) + len(g.sellOrders); got != before {
		t.Errorf("expected count preserved for inner fill, got %d -> %d", before, got)
	}

	// A buy fill at the bottom has no level below it.
	bottom := g.buyOrders[48000]
	if bottom == nil {
		t.Fatal("expected buy order at 48000")
	}
	if err := m.MarkFilled(bottom.OrderID, 48000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// No level below 48000: the grid continues with one fewer order.
	if got := len(g.buyOrders) + len(g.sellOrders); got != before-1 {
		t.Errorf("expected one fewer tracked order after boundary fill, got %d -> %d", before, got)
	}
}

func TestGridInitialOrderFailureSkipsLevel(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.SubmitErr = func(req venue.OrderRequest) error {
		if req.Price == 49000 {
			return errors.New("order rejected")
		}
		return nil
	}

	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	// The rejected level is skipped, the rest of the ladder still rests.
	if len(g.buyOrders) != 1 {
		t.Errorf("expected 1 buy order, got %d", len(g.buyOrders))
	}
	if _, ok := g.buyOrders[48000]; !ok {
		t.Error("expected buy order at 48000")
	}
	if len(g.sellOrders) != 2 {
		t.Errorf("expected 2 sell orders, got %d", len(g.sellOrders))
	}
	if g.State() != StateOrdersPlaced {
		t.Errorf("expected state %s, got %s", StateOrdersPlaced, g.State())
	}
}

func TestGridCounterpartFailureKeepsSession(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	m.SubmitErr = func(venue.OrderRequest) error { return errors.New("order rejected") }
	buy := g.buyOrders[49000]
	if err := m.MarkFilled(buy.OrderID, 49000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	fills, err := g.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if fills != 1 {
		t.Fatalf("expected 1 fill, got %d", fills)
	}
	// The fill is recorded even though the counterpart was rejected.
	if _, ok := g.sellOrders[50000]; ok {
		t.Error("no sell should rest at 50000 after a rejected placement")
	}
	if len(g.filledBuys) != 1 {
		t.Errorf("expected 1 filled buy, got %d", len(g.filledBuys))
	}

	// Once the venue recovers the session keeps replenishing.
	m.SubmitErr = nil
	sell := g.sellOrders[51000]
	if sell == nil {
		t.Fatal("expected sell order at 51000")
	}
	if err := m.MarkFilled(sell.OrderID, 51000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, ok := g.buyOrders[50000]; !ok {
		t.Error("expected counterpart buy order at 50000")
	}
	if g.RealizedProfit() != 10 {
		t.Errorf("expected profit 10, got %v", g.RealizedProfit())
	}
}

func TestGridSellCounterpartFailureSkipsProfit(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	m.SubmitErr = func(venue.OrderRequest) error { return errors.New("order rejected") }
	sell := g.sellOrders[51000]
	if err := m.MarkFilled(sell.OrderID, 51000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// Profit is only realized when the counterpart buy actually rests.
	if g.RealizedProfit() != 0 {
		t.Errorf("expected zero profit after rejected counterpart, got %v", g.RealizedProfit())
	}
	if _, ok := g.buyOrders[50000]; ok {
		t.Error("no buy should rest at 50000 after a rejected placement")
	}
}

func TestGridDuplicateCounterpartReplacesTracking(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	// First buy fill at 49000 puts a sell at 50000.
	buy := g.buyOrders[49000]
	if err := m.MarkFilled(buy.OrderID, 49000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	first := g.sellOrders[50000]
	if first == nil {
		t.Fatal("expected sell order at 50000")
	}

	// A second fill spawning a sell at the same level replaces the
	// tracked entry; the first order keeps resting at the venue.
	if err := g.placeLevel(ctx, models.SideBuy, 49000); err != nil {
		t.Fatalf("placeLevel: %v", err)
	}
	if err := m.MarkFilled(g.buyOrders[49000].OrderID, 49000); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	if _, err := g.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	second := g.sellOrders[50000]
	if second == nil {
		t.Fatal("expected replacement sell order at 50000")
	}
	if second.OrderID == first.OrderID {
		t.Error("expected a new tracked order at 50000")
	}
	var orphanOpen bool
	for _, id := range m.OpenOrders() {
		if id == first.OrderID {
			orphanOpen = true
		}
	}
	if !orphanOpen {
		t.Error("expected the untracked order to keep resting at the venue")
	}
}

func TestGridCleanup(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	cancelled := g.Cleanup(ctx)
	if cancelled != 4 {
		t.Errorf("expected 4 cancels, got %d", cancelled)
	}
	if open := m.OpenOrders(); len(open) != 0 {
		t.Errorf("expected no open orders after cleanup, got %v", open)
	}
	if len(g.buyOrders) != 0 || len(g.sellOrders) != 0 {
		t.Error("expected side maps emptied after cleanup")
	}
}

func TestGridCleanupCancelFailure(t *testing.T) {
	g, m := newGridFixture(t)
	ctx := context.Background()
	if err := g.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.PlaceInitialOrders(ctx); err != nil {
		t.Fatalf("PlaceInitialOrders: %v", err)
	}

	failID := g.buyOrders[48000].OrderID
	m.CancelErr = func(orderID int64) error {
		if orderID == failID {
			return errors.New("cancel rejected")
		}
		return nil
	}

	// Best effort: the failure is logged, the rest still cancel.
	if cancelled := g.Cleanup(ctx); cancelled != 3 {
		t.Errorf("expected 3 cancels, got %d", cancelled)
	}
}

type declineDecider struct{}

func (declineDecider) ConfirmStart(string) bool             { return false }
func (declineDecider) ContinueAfterFailure(int, error) bool { return false }

func TestGridRunDeclined(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 1000000)
	val, err := validate.NewValidator(context.Background(), m, "BTCUSDT")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	g := NewGrid(m, val, GridConfig{
		Symbol:          "BTCUSDT",
		LowerPrice:      48000,
		UpperPrice:      52000,
		NumGrids:        5,
		QuantityPerGrid: 0.01,
		Decider:         declineDecider{},
	})

	summary, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateAborted {
		t.Errorf("expected state %s, got %s", StateAborted, summary.State)
	}
	if len(m.Submitted) != 0 {
		t.Errorf("expected no orders submitted, got %d", len(m.Submitted))
	}
}

func TestGridRunCancelCleansUp(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 1000000)
	val, err := validate.NewValidator(context.Background(), m, "BTCUSDT")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	g := NewGrid(m, val, GridConfig{
		Symbol:          "BTCUSDT",
		LowerPrice:      48000,
		UpperPrice:      52000,
		NumGrids:        5,
		QuantityPerGrid: 0.01,
		PollInterval:    5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	summary, err := g.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateTerminated {
		t.Errorf("expected state %s, got %s", StateTerminated, summary.State)
	}
	if summary.Canceled != 4 {
		t.Errorf("expected 4 cancels, got %d", summary.Canceled)
	}
	if open := m.OpenOrders(); len(open) != 0 {
		t.Errorf("expected no open orders after run, got %v", open)
	}
}
