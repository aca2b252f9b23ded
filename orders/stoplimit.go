package orders

import (
	"context"
	"fmt"

	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// StopLimit submits a stop-limit order: a limit order that the venue parks
// until the stop price trades. A SELL is a stop-loss (limit at or below the
// stop); a BUY is a stop-buy (limit at or above the stop). A stop on the
// wrong side of the market triggers immediately, which draws a warning.
func StopLimit(ctx context.Context, v venue.Venue, symbol string, side models.Side, quantity, stopPrice, limitPrice float64, tif models.TimeInForce) (*models.OrderHandle, error) {
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
	stopPrice, err = val.ClampPrice(stopPrice)
	if err != nil {
		return nil, err
	}
	limitPrice, err = val.ClampPrice(limitPrice)
	if err != nil {
		return nil, err
	}
	if err := val.CheckNotional(limitPrice, quantity); err != nil {
		return nil, err
	}

	current, err := v.TickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching current price: %w", err)
	}

	switch side {
	case models.SideSell:
		if stopPrice >= current {
			log.WithFields(logger.Fields{"stop": stopPrice, "market": current}).
				Warn("stop price at or above market, order will trigger immediately")
		}
		if limitPrice > stopPrice {
			return nil, &validate.ValidationError{Field: "limit price", Value: limitPrice,
				Reason: fmt.Sprintf("must be <= stop price %v for a sell stop-limit", stopPrice)}
		}
	case models.SideBuy:
		if stopPrice <= current {
			log.WithFields(logger.Fields{"stop": stopPrice, "market": current}).
				Warn("stop price at or below market, order will trigger immediately")
		}
		if limitPrice < stopPrice {
			return nil, &validate.ValidationError{Field: "limit price", Value: limitPrice,
				Reason: fmt.Sprintf("must be >= stop price %v for a buy stop-limit", stopPrice)}
		}
		balance, err := v.AvailableBalance(ctx, val.Rules.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("fetching balance: %w", err)
		}
		if cost := quantity * limitPrice; cost > balance {
			return nil, &validate.ValidationError{Field: "balance", Value: balance,
				Reason: fmt.Sprintf("insufficient for cost %.2f %s", cost, val.Rules.QuoteAsset)}
		}
	}

	handle, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        models.OrderTypeStopLimit,
		TimeInForce: tif,
		Quantity:    quantity,
		Price:       limitPrice,
		StopPrice:   stopPrice,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"order_id": handle.OrderID,
		"stop":     stopPrice,
		"limit":    limitPrice,
	}).Info("stop-limit order placed")
	return handle, nil
}
