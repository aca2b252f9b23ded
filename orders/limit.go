package orders

import (
	"context"
	"fmt"
	"math"

	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// farFromMarketPct is the distance from market price beyond which a limit
// price draws a warning.
const farFromMarketPct = 5.0

// Limit submits a resting limit order. A BUY is rejected when its cost
// exceeds the available quote balance; a price more than 5% from market is
// warned about but allowed.
func Limit(ctx context.Context, v venue.Venue, symbol string, side models.Side, quantity, price float64, tif models.TimeInForce) (*models.OrderHandle, error) {
	log := logger.GetLogger().WithComponent("orders").WithFields(logger.Fields{
		"symbol": symbol,
		"side":   side,
	})

	val, err := validate.NewValidator(ctx, v, symbol)
	if err != nil {
		return nil, err
	}
	quantity, err = val.ClampQuantity(quantity)
	if err != nil {
		return nil, err
	}
	price, err = val.ClampPrice(price)
	if err != nil {
		return nil, err
	}
	if err := val.CheckNotional(price, quantity); err != nil {
		return nil, err
	}

	current, err := v.TickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching current price: %w", err)
	}
	diffPct := math.Abs((price - current) / current * 100)
	if diffPct > farFromMarketPct {
		log.WithFields(logger.Fields{
			"price":    price,
			"market":   current,
			"diff_pct": diffPct,
		}).Warn("limit price is far from market")
	}

	if side == models.SideBuy {
		balance, err := v.AvailableBalance(ctx, val.Rules.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("fetching balance: %w", err)
		}
		if cost := quantity * price; cost > balance {
			return nil, &validate.ValidationError{Field: "balance", Value: balance,
				Reason: fmt.Sprintf("insufficient for cost %.2f %s", cost, val.Rules.QuoteAsset)}
		}
	}

	handle, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        models.OrderTypeLimit,
		TimeInForce: tif,
		Quantity:    quantity,
		Price:       price,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"order_id": handle.OrderID,
		"price":    price,
		"quantity": quantity,
		"tif":      tif,
	}).Info("limit order placed")
	return handle, nil
}

// Status fetches the current state of an order.
func Status(ctx context.Context, v venue.Venue, symbol string, orderID int64) (*models.OrderHandle, error) {
	return v.GetOrder(ctx, symbol, orderID)
}

// Cancel cancels a resting order.
func Cancel(ctx context.Context, v venue.Venue, symbol string, orderID int64) error {
	return v.CancelOrder(ctx, symbol, orderID)
}
