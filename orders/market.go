// Package orders implements the single-shot order commands: market, limit,
// stop-limit and a simulated OCO pair. Each command validates its inputs
// against the venue's trading rules before submitting anything.
package orders

import (
	"context"
	"fmt"

	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// Market submits a market order for immediate execution.
func Market(ctx context.Context, v venue.Venue, symbol string, side models.Side, quantity float64) (*models.OrderHandle, error) {
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

	balance, err := v.AvailableBalance(ctx, val.Rules.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("fetching balance: %w", err)
	}
	log.WithFields(logger.Fields{"balance": balance, "quantity": quantity}).Info("placing market order")

	handle, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Quantity: quantity,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"order_id":  handle.OrderID,
		"executed":  handle.ExecutedQty,
		"avg_price": handle.AvgPrice,
	}).Info("market order executed")
	return handle, nil
}
