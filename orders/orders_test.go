package orders

import (
	"context"
	"errors"
	"testing"

	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

func TestMarket(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)

	h, err := Market(context.Background(), m, "BTCUSDT", models.SideBuy, 0.0156)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if h.Status != models.OrderStatusFilled {
		t.Errorf("expected filled market order, got %s", h.Status)
	}
	if h.AvgPrice != 50000 {
		t.Errorf("expected fill at 50000, got %v", h.AvgPrice)
	}
	// Quantity clamped to the 0.001 step before submission.
	if len(m.Submitted) != 1 || m.Submitted[0].Quantity != 0.015 {
		t.Errorf("expected clamped quantity 0.015, got %+v", m.Submitted)
	}
}

func TestLimit(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)

	h, err := Limit(context.Background(), m, "BTCUSDT", models.SideBuy, 0.01, 49000, models.TimeInForceGTC)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if h.Status != models.OrderStatusNew {
		t.Errorf("expected resting order, got %s", h.Status)
	}
	if h.Price != 49000 {
		t.Errorf("expected price 49000, got %v", h.Price)
	}
}

func TestLimitInsufficientBalance(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 10)

	_, err := Limit(context.Background(), m, "BTCUSDT", models.SideBuy, 0.01, 49000, models.TimeInForceGTC)
	var verr *validate.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(m.Submitted) != 0 {
		t.Errorf("expected no submission, got %d", len(m.Submitted))
	}
}

func TestStatusAndCancel(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)
	ctx := context.Background()

	h, err := Limit(ctx, m, "BTCUSDT", models.SideBuy, 0.01, 49000, models.TimeInForceGTC)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}

	got, err := Status(ctx, m, "BTCUSDT", h.OrderID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != models.OrderStatusNew {
		t.Errorf("expected resting order, got %s", got.Status)
	}

	if err := Cancel(ctx, m, "BTCUSDT", h.OrderID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err = Status(ctx, m, "BTCUSDT", h.OrderID)
	if err != nil {
		t.Fatalf("Status after cancel: %v", err)
	}
	if got.Status != models.OrderStatusCanceled {
		t.Errorf("expected canceled order, got %s", got.Status)
	}
}

func TestStopLimitPriceRelationship(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)
	ctx := context.Background()

	// Sell stop-limit with limit above the stop is invalid.
	_, err := StopLimit(ctx, m, "BTCUSDT", models.SideSell, 0.01, 48000, 48500, models.TimeInForceGTC)
	var verr *validate.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Stop-loss: sell if price drops to 48000, limit at 47500.
	h, err := StopLimit(ctx, m, "BTCUSDT", models.SideSell, 0.01, 48000, 47500, models.TimeInForceGTC)
	if err != nil {
		t.Fatalf("StopLimit: %v", err)
	}
	if h.Type != models.OrderTypeStopLimit {
		t.Errorf("expected stop-limit order, got %s", h.Type)
	}

	// Buy stop-limit with limit below the stop is invalid.
	_, err = StopLimit(ctx, m, "BTCUSDT", models.SideBuy, 0.01, 52000, 51500, models.TimeInForceGTC)
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestOCO(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)

	pair, err := OCO(context.Background(), m, "BTCUSDT", models.SideSell, 0.01, 52000, 48000, 47500)
	if err != nil {
		t.Fatalf("OCO: %v", err)
	}
	if pair.TakeProfit.Type != models.OrderTypeLimit || pair.TakeProfit.Price != 52000 {
		t.Errorf("unexpected take-profit leg: %+v", pair.TakeProfit)
	}
	if pair.StopLoss.Type != models.OrderTypeStopLimit || pair.StopLoss.Price != 47500 {
		t.Errorf("unexpected stop-loss leg: %+v", pair.StopLoss)
	}
	if len(m.Submitted) != 2 {
		t.Errorf("expected 2 submissions, got %d", len(m.Submitted))
	}
}

func TestOCOInvalidRelationships(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)
	ctx := context.Background()

	cases := []struct {
		name                  string
		side                  models.Side
		tp, stopLoss, stopLim float64
	}{
		{"sell stop limit above stop", models.SideSell, 52000, 48000, 48500},
		{"sell take profit below stop", models.SideSell, 47000, 48000, 47500},
		{"buy stop limit below stop", models.SideBuy, 48000, 52000, 51500},
		{"buy take profit above stop", models.SideBuy, 53000, 52000, 52500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OCO(ctx, m, "BTCUSDT", tc.side, 0.01, tc.tp, tc.stopLoss, tc.stopLim)
			var verr *validate.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
	if len(m.Submitted) != 0 {
		t.Errorf("expected no submissions, got %d", len(m.Submitted))
	}
}

func TestOCOSecondLegFailureCancelsFirst(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 100000)
	m.SubmitErr = func(req venue.OrderRequest) error {
		if req.Type == models.OrderTypeStopLimit {
			return errors.New("stop order rejected")
		}
		return nil
	}

	_, err := OCO(context.Background(), m, "BTCUSDT", models.SideSell, 0.01, 52000, 48000, 47500)
	if err == nil {
		t.Fatal("expected error when stop-loss leg fails")
	}
	// The take-profit leg was placed and must have been rolled back.
	if len(m.Canceled) != 1 {
		t.Fatalf("expected 1 cancel, got %d", len(m.Canceled))
	}
	if open := m.OpenOrders(); len(open) != 0 {
		t.Errorf("expected no open orders after rollback, got %v", open)
	}
}
