package venue

import (
	"context"
	"errors"

	"github.com/adshao/go-binance/v2/common"

	"tradeflow/models"
)

// OrderRequest carries the parameters of a single order submission. Price and
// StopPrice are ignored for market orders; TimeInForce defaults to GTC for
// resting order types when left empty.
type OrderRequest struct {
	Symbol      string
	Side        models.Side
	Type        models.OrderType
	Quantity    float64
	Price       float64
	StopPrice   float64
	TimeInForce models.TimeInForce
}

// Venue is the remote trading venue as the execution engines see it. Every
// call is a single synchronous request/response cycle; implementations must be
// safe for sequential reuse but are never called concurrently by one engine
// instance.
type Venue interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*models.OrderHandle, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderHandle, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	SymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error)
}

// IsRejection reports whether the venue itself rejected the request, as
// opposed to a transport or local failure. Rejections are deterministic for a
// given request and must never be retried.
func IsRejection(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr)
}
