package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeflow/models"
)

// Mock is an in-memory Venue for tests and dry runs. Limit and stop orders
// rest as NEW until MarkFilled is called; market orders fill immediately at
// the current mock price. All methods are safe for concurrent use.
type Mock struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]*models.OrderHandle
	price   float64
	balance map[string]float64
	rules   map[string]*models.SymbolRules

	// SubmitErr, when set, makes SubmitOrder fail for matching requests.
	SubmitErr func(req OrderRequest) error
	// CancelErr, when set, makes CancelOrder fail for matching order IDs.
	CancelErr func(orderID int64) error

	Submitted []OrderRequest
	Canceled  []int64
}

// NewMock creates a mock venue with one tradeable symbol and a starting
// price and quote balance.
func NewMock(symbol string, price, quoteBalance float64) *Mock {
	rules := &models.SymbolRules{
		Symbol:       symbol,
		Tradeable:    true,
		PriceTick:    0.1,
		QuantityStep: 0.001,
		MinQty:       0.001,
		MaxQty:       10000,
		MinPrice:     0.1,
		MaxPrice:     10000000,
		MinNotional:  5,
		PricePrec:    1,
		QuantityPrec: 3,
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
	}
	return &Mock{
		nextID:  1000,
		orders:  make(map[int64]*models.OrderHandle),
		price:   price,
		balance: map[string]float64{"USDT": quoteBalance},
		rules:   map[string]*models.SymbolRules{symbol: rules},
	}
}

// SetRules overrides the trading rules for a symbol.
func (m *Mock) SetRules(r *models.SymbolRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Symbol] = r
}

// SetPrice moves the mock market price.
func (m *Mock) SetPrice(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = p
}

func (m *Mock) SubmitOrder(_ context.Context, req OrderRequest) (*models.OrderHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		if err := m.SubmitErr(req); err != nil {
			return nil, err
		}
	}

	m.nextID++
	h := &models.OrderHandle{
		OrderID:    m.nextID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Status:     models.OrderStatusNew,
		Price:      req.Price,
		OrigQty:    req.Quantity,
		UpdateTime: time.Now(),
	}
	if req.Type == models.OrderTypeMarket {
		h.Status = models.OrderStatusFilled
		h.ExecutedQty = req.Quantity
		h.AvgPrice = m.price
	}
	m.orders[h.OrderID] = h
	m.Submitted = append(m.Submitted, req)

	out := *h
	return &out, nil
}

func (m *Mock) GetOrder(_ context.Context, symbol string, orderID int64) (*models.OrderHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.orders[orderID]
	if !ok || h.Symbol != symbol {
		return nil, fmt.Errorf("order %d not found", orderID)
	}
	out := *h
	return &out, nil
}

func (m *Mock) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		if err := m.CancelErr(orderID); err != nil {
			return err
		}
	}

	h, ok := m.orders[orderID]
	if !ok || h.Symbol != symbol {
		return fmt.Errorf("order %d not found", orderID)
	}
	if h.Status.Terminal() {
		return fmt.Errorf("order %d already %s", orderID, h.Status)
	}
	h.Status = models.OrderStatusCanceled
	m.Canceled = append(m.Canceled, orderID)
	return nil
}

func (m *Mock) TickerPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[symbol]; !ok {
		return 0, fmt.Errorf("symbol %s not found", symbol)
	}
	return m.price, nil
}

func (m *Mock) AvailableBalance(_ context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[asset], nil
}

func (m *Mock) SymbolRules(_ context.Context, symbol string) (*models.SymbolRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found on venue", symbol)
	}
	out := *r
	return &out, nil
}

// MarkFilled simulates the venue filling a resting order at a price.
func (m *Mock) MarkFilled(orderID int64, avgPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	if h.Status.Terminal() {
		return fmt.Errorf("order %d already %s", orderID, h.Status)
	}
	h.Status = models.OrderStatusFilled
	h.ExecutedQty = h.OrigQty
	h.AvgPrice = avgPrice
	return nil
}

// OpenOrders returns the IDs of all non-terminal orders, for assertions.
func (m *Mock) OpenOrders() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, h := range m.orders {
		if !h.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
