package validate

import (
	"context"
	"errors"
	"testing"

	"tradeflow/models"
	"tradeflow/venue"
)

func testValidator() *Validator {
	return &Validator{Rules: &models.SymbolRules{
		Symbol:       "BTCUSDT",
		Tradeable:    true,
		PriceTick:    0.1,
		QuantityStep: 0.001,
		MinQty:       0.001,
		MaxQty:       100,
		MinPrice:     0.1,
		MaxPrice:     1000000,
		MinNotional:  5,
	}}
}

func TestClampQuantity(t *testing.T) {
	v := testValidator()

	got, err := v.ClampQuantity(0.0156)
	if err != nil {
		t.Fatalf("ClampQuantity: %v", err)
	}
	if got != 0.015 {
		t.Errorf("expected 0.015, got %v", got)
	}

	// Clamping is idempotent.
	again, err := v.ClampQuantity(got)
	if err != nil {
		t.Fatalf("ClampQuantity second pass: %v", err)
	}
	if again != got {
		t.Errorf("clamp not idempotent: %v then %v", got, again)
	}
}

func TestClampQuantityBounds(t *testing.T) {
	v := testValidator()

	if _, err := v.ClampQuantity(0.0001); err == nil {
		t.Error("expected error for quantity below minimum")
	}
	if _, err := v.ClampQuantity(500); err == nil {
		t.Error("expected error for quantity above maximum")
	}

	var verr *ValidationError
	_, err := v.ClampQuantity(0.0001)
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestClampPrice(t *testing.T) {
	v := testValidator()

	got, err := v.ClampPrice(50000.17)
	if err != nil {
		t.Fatalf("ClampPrice: %v", err)
	}
	if got != 50000.1 {
		t.Errorf("expected 50000.1, got %v", got)
	}

	again, err := v.ClampPrice(got)
	if err != nil {
		t.Fatalf("ClampPrice second pass: %v", err)
	}
	if again != got {
		t.Errorf("clamp not idempotent: %v then %v", got, again)
	}
}

func TestCheckNotional(t *testing.T) {
	v := testValidator()

	if err := v.CheckNotional(50000, 0.001); err != nil {
		t.Errorf("50 USDT notional should pass: %v", err)
	}
	if err := v.CheckNotional(1000, 0.001); err == nil {
		t.Error("1 USDT notional should fail the 5 USDT minimum")
	}
}

func TestNewValidatorUntradeable(t *testing.T) {
	m := venue.NewMock("BTCUSDT", 50000, 10000)
	m.SetRules(&models.SymbolRules{Symbol: "BTCUSDT", Tradeable: false})

	_, err := NewValidator(context.Background(), m, "BTCUSDT")
	if err == nil {
		t.Fatal("expected error for untradeable symbol")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestSide(t *testing.T) {
	if s, err := Side("buy"); err != nil || s != models.SideBuy {
		t.Errorf("expected BUY, got %v err=%v", s, err)
	}
	if _, err := Side("hold"); err == nil {
		t.Error("expected error for invalid side")
	}
}
