package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalises a user supplied side string.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q, must be BUY or SELL", s)
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType identifies how an order executes on the venue.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP"
)

// TimeInForce is the lifetime policy of a resting order.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// ParseTimeInForce normalises a user supplied time-in-force string.
func ParseTimeInForce(s string) (TimeInForce, error) {
	switch TimeInForce(strings.ToUpper(strings.TrimSpace(s))) {
	case TimeInForceGTC:
		return TimeInForceGTC, nil
	case TimeInForceIOC:
		return TimeInForceIOC, nil
	case TimeInForceFOK:
		return TimeInForceFOK, nil
	default:
		return "", fmt.Errorf("invalid time in force %q, must be GTC, IOC or FOK", s)
	}
}

// OrderStatus is the venue reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderHandle is the venue's view of an order. Once an order is submitted the
// handle is the only trusted local state besides the parameters used to submit
// it; status, executed quantity and average price are refreshed by querying
// the venue.
type OrderHandle struct {
	OrderID     int64       `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	Status      OrderStatus `json:"status"`
	Price       float64     `json:"price"`
	OrigQty     float64     `json:"orig_qty"`
	ExecutedQty float64     `json:"executed_qty"`
	AvgPrice    float64     `json:"avg_price"`
	UpdateTime  time.Time   `json:"update_time"`
}

// String renders the handle the way order confirmations are logged.
func (h *OrderHandle) String() string {
	price := "MARKET"
	if h.Price > 0 {
		price = strconv.FormatFloat(h.Price, 'f', -1, 64)
	}
	return fmt.Sprintf("order %d %s %s %s qty=%s price=%s status=%s",
		h.OrderID, h.Symbol, h.Side, h.Type,
		strconv.FormatFloat(h.OrigQty, 'f', -1, 64), price, h.Status)
}
