package orders

import (
	"context"
	"fmt"

	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// OCOPair is the two legs of a simulated one-cancels-the-other order.
type OCOPair struct {
	TakeProfit *models.OrderHandle
	StopLoss   *models.OrderHandle
}

// OCO places a take-profit limit order and a stop-limit order as a pair.
// The venue has no native OCO for futures, so the pair is simulated:
// placement is all-or-nothing (a failed second leg cancels the first), but
// once placed the legs are independent and a fill on one does not cancel
// the other.
//
// For SELL (closing a long): take-profit above the stop, stop limit at or
// below the stop. For BUY (closing a short) the relationships invert.
func OCO(ctx context.Context, v venue.Venue, symbol string, side models.Side, quantity, takeProfitPrice, stopLossPrice, stopLimitPrice float64) (*OCOPair, error) {
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
	takeProfitPrice, err = val.ClampPrice(takeProfitPrice)
	if err != nil {
		return nil, err
	}
	stopLossPrice, err = val.ClampPrice(stopLossPrice)
	if err != nil {
		return nil, err
	}
	stopLimitPrice, err = val.ClampPrice(stopLimitPrice)
	if err != nil {
		return nil, err
	}
	if err := val.CheckNotional(takeProfitPrice, quantity); err != nil {
		return nil, err
	}
	if err := val.CheckNotional(stopLimitPrice, quantity); err != nil {
		return nil, err
	}

	current, err := v.TickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching current price: %w", err)
	}

	switch side {
	case models.SideSell:
		if takeProfitPrice <= current {
			log.WithFields(logger.Fields{"take_profit": takeProfitPrice, "market": current}).
				Warn("take-profit price at or below market")
		}
		if stopLossPrice >= current {
			log.WithFields(logger.Fields{"stop_loss": stopLossPrice, "market": current}).
				Warn("stop-loss price at or above market")
		}
		if stopLimitPrice > stopLossPrice {
			return nil, &validate.ValidationError{Field: "stop limit price", Value: stopLimitPrice,
				Reason: fmt.Sprintf("must be <= stop price %v", stopLossPrice)}
		}
		if takeProfitPrice <= stopLossPrice {
			return nil, &validate.ValidationError{Field: "take profit price", Value: takeProfitPrice,
				Reason: fmt.Sprintf("must be > stop-loss price %v", stopLossPrice)}
		}
	case models.SideBuy:
		if takeProfitPrice >= current {
			log.WithFields(logger.Fields{"take_profit": takeProfitPrice, "market": current}).
				Warn("take-profit price at or above market")
		}
		if stopLossPrice <= current {
			log.WithFields(logger.Fields{"stop_loss": stopLossPrice, "market": current}).
				Warn("stop-loss price at or below market")
		}
		if stopLimitPrice < stopLossPrice {
			return nil, &validate.ValidationError{Field: "stop limit price", Value: stopLimitPrice,
				Reason: fmt.Sprintf("must be >= stop price %v", stopLossPrice)}
		}
		if takeProfitPrice >= stopLossPrice {
			return nil, &validate.ValidationError{Field: "take profit price", Value: takeProfitPrice,
				Reason: fmt.Sprintf("must be < stop-loss price %v", stopLossPrice)}
		}
	}

	takeProfit, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        models.OrderTypeLimit,
		TimeInForce: models.TimeInForceGTC,
		Quantity:    quantity,
		Price:       takeProfitPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("placing take-profit leg: %w", err)
	}
	log.WithFields(logger.Fields{"order_id": takeProfit.OrderID, "price": takeProfitPrice}).
		Info("take-profit leg placed")

	stopLoss, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        models.OrderTypeStopLimit,
		TimeInForce: models.TimeInForceGTC,
		Quantity:    quantity,
		Price:       stopLimitPrice,
		StopPrice:   stopLossPrice,
	})
	if err != nil {
		log.WithError(err).Error("stop-loss leg failed, cancelling take-profit leg")
		if cancelErr := v.CancelOrder(ctx, symbol, takeProfit.OrderID); cancelErr != nil {
			log.WithError(cancelErr).Error("failed to cancel take-profit leg")
		}
		return nil, fmt.Errorf("placing stop-loss leg: %w", err)
	}
	log.WithFields(logger.Fields{"order_id": stopLoss.OrderID, "stop": stopLossPrice, "limit": stopLimitPrice}).
		Info("stop-loss leg placed")

	return &OCOPair{TakeProfit: takeProfit, StopLoss: stopLoss}, nil
}
