// Package validate checks and adjusts order parameters against venue
// trading rules before anything is sent over the wire.
package validate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeflow/models"
	"tradeflow/venue"
)

// ValidationError reports an order parameter that the venue would reject.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Validator checks order parameters against the rules of a single symbol.
type Validator struct {
	Rules *models.SymbolRules
}

// NewValidator fetches the symbol's rules from the venue and fails when the
// symbol is unknown or not currently tradeable.
func NewValidator(ctx context.Context, v venue.Venue, symbol string) (*Validator, error) {
	rules, err := v.SymbolRules(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching rules for %s: %w", symbol, err)
	}
	if !rules.Tradeable {
		return nil, &ValidationError{Field: "symbol", Value: symbol, Reason: "not open for trading"}
	}
	return &Validator{Rules: rules}, nil
}

// ClampQuantity rounds qty down to the symbol's quantity step and checks the
// min/max bounds. Clamping an already-clamped quantity is a no-op.
func (v *Validator) ClampQuantity(qty float64) (float64, error) {
	step := decimal.NewFromFloat(v.Rules.QuantityStep)
	if step.IsZero() {
		return qty, nil
	}
	d := decimal.NewFromFloat(qty)
	clamped, _ := d.Div(step).Floor().Mul(step).Float64()
	if clamped < v.Rules.MinQty {
		return 0, &ValidationError{Field: "quantity", Value: qty,
			Reason: fmt.Sprintf("below minimum %v", v.Rules.MinQty)}
	}
	if v.Rules.MaxQty > 0 && clamped > v.Rules.MaxQty {
		return 0, &ValidationError{Field: "quantity", Value: qty,
			Reason: fmt.Sprintf("above maximum %v", v.Rules.MaxQty)}
	}
	return clamped, nil
}

// ClampPrice rounds price down to the symbol's tick size and checks the
// min/max bounds. Clamping an already-clamped price is a no-op.
func (v *Validator) ClampPrice(price float64) (float64, error) {
	tick := decimal.NewFromFloat(v.Rules.PriceTick)
	if tick.IsZero() {
		return price, nil
	}
	d := decimal.NewFromFloat(price)
	clamped, _ := d.Div(tick).Floor().Mul(tick).Float64()
	if clamped < v.Rules.MinPrice {
		return 0, &ValidationError{Field: "price", Value: price,
			Reason: fmt.Sprintf("below minimum %v", v.Rules.MinPrice)}
	}
	if v.Rules.MaxPrice > 0 && clamped > v.Rules.MaxPrice {
		return 0, &ValidationError{Field: "price", Value: price,
			Reason: fmt.Sprintf("above maximum %v", v.Rules.MaxPrice)}
	}
	return clamped, nil
}

// CheckNotional verifies that price*qty clears the venue's minimum notional.
func (v *Validator) CheckNotional(price, qty float64) error {
	if v.Rules.MinNotional <= 0 {
		return nil
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
	if notional.LessThan(decimal.NewFromFloat(v.Rules.MinNotional)) {
		return &ValidationError{Field: "notional", Value: notional.String(),
			Reason: fmt.Sprintf("below minimum %v", v.Rules.MinNotional)}
	}
	return nil
}

// Side parses a user-supplied side string.
func Side(s string) (models.Side, error) {
	side, err := models.ParseSide(s)
	if err != nil {
		return "", &ValidationError{Field: "side", Value: s, Reason: "must be BUY or SELL"}
	}
	return side, nil
}
