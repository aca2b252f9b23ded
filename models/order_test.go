package models

import (
	"strings"
	"testing"
)

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Error("expected BUY opposite to be SELL")
	}
	if SideSell.Opposite() != SideBuy {
		t.Error("expected SELL opposite to be BUY")
	}
}

func TestParseSide(t *testing.T) {
	cases := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"BUY", SideBuy, false},
		{"sell", SideSell, false},
		{"  buy ", SideBuy, false},
		{"HOLD", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseSide(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseSide(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTimeInForce(t *testing.T) {
	for _, valid := range []string{"GTC", "ioc", " fok "} {
		if _, err := ParseTimeInForce(valid); err != nil {
			t.Errorf("ParseTimeInForce(%q): %v", valid, err)
		}
	}
	if _, err := ParseTimeInForce("DAY"); err == nil {
		t.Error("expected error for unsupported time in force")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestOrderHandleString(t *testing.T) {
	h := &OrderHandle{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Side:    SideBuy,
		Type:    OrderTypeLimit,
		Status:  OrderStatusNew,
		Price:   49000,
		OrigQty: 0.01,
	}
	s := h.String()
	for _, want := range []string{"42", "BTCUSDT", "BUY", "49000", "0.01", "NEW"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}

	market := &OrderHandle{OrderID: 43, Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeMarket, Status: OrderStatusFilled}
	if !strings.Contains(market.String(), "MARKET") {
		t.Errorf("expected MARKET placeholder for priceless order, got %q", market.String())
	}
}
