package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tradeflow/journal"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// GridConfig holds the parameters of one grid session.
type GridConfig struct {
	Symbol          string
	LowerPrice      float64
	UpperPrice      float64
	NumGrids        int
	QuantityPerGrid float64

	// PollInterval is how often resting orders are checked for fills.
	PollInterval time.Duration
	// StatusEvery is how many polls pass between status displays.
	StatusEvery int

	Decider Decider
	Journal *journal.Session
}

// Grid places a ladder of resting limit orders across a price range and
// replenishes them as they fill: a filled BUY spawns a SELL one level up, a
// filled SELL spawns a BUY one level down and realizes the spread as profit.
type Grid struct {
	venue venue.Venue
	val   *validate.Validator
	cfg   GridConfig
	log   *logger.Entry

	state       State
	levels      []float64
	buyOrders   map[float64]*models.OrderHandle
	sellOrders  map[float64]*models.OrderHandle
	filledBuys  []*models.OrderHandle
	filledSells []*models.OrderHandle
	profit      float64
	canceled    int
}

// GridSummary is the final accounting of a grid session.
type GridSummary struct {
	State          State
	ActiveBuys     int
	ActiveSells    int
	FilledBuys     int
	FilledSells    int
	RealizedProfit float64
	Canceled       int
}

// NewGrid creates a grid engine. The validator must be for cfg.Symbol.
func NewGrid(v venue.Venue, val *validate.Validator, cfg GridConfig) *Grid {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 12
	}
	if cfg.Decider == nil {
		cfg.Decider = AutoDecider{}
	}
	return &Grid{
		venue: v,
		val:   val,
		cfg:   cfg,
		log: logger.GetLogger().WithComponent("grid").WithFields(logger.Fields{
			"symbol": cfg.Symbol,
		}),
		state:      StateUninitialized,
		buyOrders:  make(map[float64]*models.OrderHandle),
		sellOrders: make(map[float64]*models.OrderHandle),
	}
}

// Levels returns the computed grid price levels, ascending. Empty before
// Validate has run.
func (g *Grid) Levels() []float64 {
	out := make([]float64, len(g.levels))
	copy(out, g.levels)
	return out
}

// State returns the engine's current lifecycle state.
func (g *Grid) State() State { return g.state }

// RealizedProfit returns the profit realized by completed buy/sell pairs.
func (g *Grid) RealizedProfit() float64 { return g.profit }

// Validate checks the grid parameters, computes the price levels and warns
// when the estimated cost of the buy side exceeds the available balance.
func (g *Grid) Validate(ctx context.Context) error {
	if g.cfg.NumGrids < 2 {
		return &validate.ValidationError{Field: "grids", Value: g.cfg.NumGrids,
			Reason: "need at least 2 grid levels"}
	}
	if g.cfg.LowerPrice >= g.cfg.UpperPrice {
		return &validate.ValidationError{Field: "price range",
			Value:  fmt.Sprintf("%v-%v", g.cfg.LowerPrice, g.cfg.UpperPrice),
			Reason: "lower price must be less than upper price"}
	}

	qty, err := g.val.ClampQuantity(g.cfg.QuantityPerGrid)
	if err != nil {
		return err
	}
	g.cfg.QuantityPerGrid = qty

	step := (g.cfg.UpperPrice - g.cfg.LowerPrice) / float64(g.cfg.NumGrids-1)
	g.levels = g.levels[:0]
	for i := 0; i < g.cfg.NumGrids; i++ {
		level, err := g.val.ClampPrice(g.cfg.LowerPrice + float64(i)*step)
		if err != nil {
			return err
		}
		g.levels = append(g.levels, level)
	}
	sort.Float64s(g.levels)

	if err := g.val.CheckNotional(g.levels[0], qty); err != nil {
		return err
	}

	current, err := g.venue.TickerPrice(ctx, g.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetching current price: %w", err)
	}

	estimated := 0.0
	for _, level := range g.levels {
		if level <= current {
			estimated += qty * current
		}
	}
	balance, err := g.venue.AvailableBalance(ctx, g.val.Rules.QuoteAsset)
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}
	if estimated > balance {
		g.log.WithFields(logger.Fields{
			"estimated_cost": estimated,
			"balance":        balance,
		}).Warn("estimated cost exceeds balance, some buy orders may fail")
	}

	g.log.WithFields(logger.Fields{
		"levels":   len(g.levels),
		"quantity": qty,
	}).Info("grid parameters validated")
	g.state = StateValidated
	return nil
}

// PlaceInitialOrders puts GTC limit BUY orders on every level below the
// current price and SELL orders on every level above it. Individual failures
// are logged and skipped.
func (g *Grid) PlaceInitialOrders(ctx context.Context) error {
	current, err := g.venue.TickerPrice(ctx, g.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetching current price: %w", err)
	}
	g.log.WithFields(logger.Fields{"price": current}).Info("placing initial grid orders")

	for _, level := range g.levels {
		var side models.Side
		switch {
		case level < current:
			side = models.SideBuy
		case level > current:
			side = models.SideSell
		default:
			g.log.WithFields(logger.Fields{"level": level}).Debug("level at market, skipped")
			continue
		}
		if err := g.placeLevel(ctx, side, level); err != nil {
			g.log.WithError(err).WithFields(logger.Fields{
				"side":  side,
				"level": level,
			}).Error("failed to place grid order")
		}
	}

	g.log.WithFields(logger.Fields{
		"buy_orders":  len(g.buyOrders),
		"sell_orders": len(g.sellOrders),
	}).Info("initial grid orders placed")
	g.state = StateOrdersPlaced
	return nil
}

func (g *Grid) placeLevel(ctx context.Context, side models.Side, level float64) error {
	handle, err := g.venue.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:      g.cfg.Symbol,
		Side:        side,
		Type:        models.OrderTypeLimit,
		TimeInForce: models.TimeInForceGTC,
		Quantity:    g.cfg.QuantityPerGrid,
		Price:       level,
	})
	if err != nil {
		return err
	}
	if side == models.SideBuy {
		if prev, ok := g.buyOrders[level]; ok {
			g.log.WithFields(logger.Fields{
				"level":    level,
				"order_id": prev.OrderID,
			}).Warn("buy level already tracked, previous order no longer managed")
		}
		g.buyOrders[level] = handle
	} else {
		if prev, ok := g.sellOrders[level]; ok {
			g.log.WithFields(logger.Fields{
				"level":    level,
				"order_id": prev.OrderID,
			}).Warn("sell level already tracked, previous order no longer managed")
		}
		g.sellOrders[level] = handle
	}
	g.log.WithFields(logger.Fields{
		"side":     side,
		"level":    level,
		"order_id": handle.OrderID,
	}).Info("grid order placed")
	return nil
}

// Poll queries every resting order and handles the ones that filled.
// Returns how many fills were processed. Per-order query errors are logged
// and the order stays tracked for the next poll.
func (g *Grid) Poll(ctx context.Context) (int, error) {
	type fill struct {
		side   models.Side
		level  float64
		handle *models.OrderHandle
	}
	var fills []fill

	for level, order := range g.buyOrders {
		status, err := g.venue.GetOrder(ctx, g.cfg.Symbol, order.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return len(fills), ctx.Err()
			}
			g.log.WithError(err).WithFields(logger.Fields{"level": level}).Error("error checking buy order")
			continue
		}
		if status.Status == models.OrderStatusFilled {
			delete(g.buyOrders, level)
			g.filledBuys = append(g.filledBuys, status)
			fills = append(fills, fill{models.SideBuy, level, status})
		}
	}
	for level, order := range g.sellOrders {
		status, err := g.venue.GetOrder(ctx, g.cfg.Symbol, order.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return len(fills), ctx.Err()
			}
			g.log.WithError(err).WithFields(logger.Fields{"level": level}).Error("error checking sell order")
			continue
		}
		if status.Status == models.OrderStatusFilled {
			delete(g.sellOrders, level)
			g.filledSells = append(g.filledSells, status)
			fills = append(fills, fill{models.SideSell, level, status})
		}
	}

	for _, f := range fills {
		logger.IncrementFillObserved()
		g.handleFill(ctx, f.side, f.level, f.handle)
	}
	return len(fills), nil
}

// handleFill places the counterpart order for a fill. A BUY fill spawns a
// SELL at the nearest level above; a SELL fill spawns a BUY at the nearest
// level below and realizes the spread. A fill on the outermost level has no
// counterpart: the grid continues with one fewer resting order.
func (g *Grid) handleFill(ctx context.Context, side models.Side, level float64, handle *models.OrderHandle) {
	log := g.log.WithFields(logger.Fields{"side": side, "level": level})
	log.Info("grid order filled")
	g.log.LogMetric("grid", "fill_quantity", handle.OrigQty, "counter", logger.Fields{
		"symbol": g.cfg.Symbol,
		"engine": "grid",
		"side":   string(side),
	})

	var profit float64
	defer func() {
		g.cfg.Journal.RecordFill(journal.FillRecord{
			Symbol:   g.cfg.Symbol,
			Side:     string(side),
			OrderID:  handle.OrderID,
			Level:    level,
			Price:    handle.AvgPrice,
			Quantity: handle.OrigQty,
			Profit:   profit,
		})
	}()

	if side == models.SideBuy {
		sellLevel, ok := g.nextLevelAbove(level)
		if !ok {
			log.Warn("grid boundary reached, no counterpart level above")
			return
		}
		if err := g.placeLevel(ctx, models.SideSell, sellLevel); err != nil {
			log.WithError(err).Error("failed to place counterpart sell order")
		}
		return
	}

	buyLevel, ok := g.nextLevelBelow(level)
	if !ok {
		log.Warn("grid boundary reached, no counterpart level below")
		return
	}
	if err := g.placeLevel(ctx, models.SideBuy, buyLevel); err != nil {
		log.WithError(err).Error("failed to place counterpart buy order")
		return
	}
	profit = (level - buyLevel) * g.cfg.QuantityPerGrid
	g.profit += profit
	log.WithFields(logger.Fields{"profit": profit, "total_profit": g.profit}).Info("profit realized")
}

func (g *Grid) nextLevelAbove(price float64) (float64, bool) {
	for _, level := range g.levels {
		if level > price {
			return level, true
		}
	}
	return 0, false
}

func (g *Grid) nextLevelBelow(price float64) (float64, bool) {
	for i := len(g.levels) - 1; i >= 0; i-- {
		if g.levels[i] < price {
			return g.levels[i], true
		}
	}
	return 0, false
}

// Run executes the full grid session: validate, confirm, place initial
// orders, then poll until the context is cancelled. Resting orders are
// cancelled on the way out.
func (g *Grid) Run(ctx context.Context) (*GridSummary, error) {
	if err := g.Validate(ctx); err != nil {
		return nil, err
	}

	if !g.cfg.Decider.ConfirmStart(g.plan()) {
		g.log.Info("grid trading not confirmed, aborting")
		g.state = StateAborted
		return g.summary(), nil
	}

	if err := g.PlaceInitialOrders(ctx); err != nil {
		g.state = StateTerminated
		return g.summary(), err
	}

	g.state = StateMonitoring
	g.log.WithFields(logger.Fields{
		"poll_interval": g.cfg.PollInterval.String(),
	}).Info("grid trading active")

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			g.log.Info("grid trading stopped")
			g.Cleanup(context.WithoutCancel(ctx))
			g.state = StateTerminated
			g.logStatus(context.WithoutCancel(ctx))
			return g.summary(), nil
		case <-ticker.C:
			iteration++
			if _, err := g.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				g.log.WithError(err).Error("poll failed")
			}
			if iteration%g.cfg.StatusEvery == 0 {
				g.logStatus(ctx)
			}
		}
	}
}

// Cleanup cancels all resting orders best-effort and returns how many
// cancels succeeded.
func (g *Grid) Cleanup(ctx context.Context) int {
	g.log.Info("cancelling active grid orders")

	cancel := func(level float64, order *models.OrderHandle) {
		if err := g.venue.CancelOrder(ctx, g.cfg.Symbol, order.OrderID); err != nil {
			g.log.WithError(err).WithFields(logger.Fields{"level": level}).Error("failed to cancel grid order")
			return
		}
		g.canceled++
		g.cfg.Journal.RecordCancel(journal.CancelRecord{
			Symbol:  g.cfg.Symbol,
			OrderID: order.OrderID,
		})
		g.log.WithFields(logger.Fields{"level": level, "order_id": order.OrderID}).Info("grid order cancelled")
	}

	for level, order := range g.buyOrders {
		cancel(level, order)
		delete(g.buyOrders, level)
	}
	for level, order := range g.sellOrders {
		cancel(level, order)
		delete(g.sellOrders, level)
	}

	g.log.WithFields(logger.Fields{"cancelled": g.canceled}).Info("grid cleanup complete")
	return g.canceled
}

// Summary returns the session accounting so far.
func (g *Grid) Summary() *GridSummary { return g.summary() }

func (g *Grid) summary() *GridSummary {
	return &GridSummary{
		State:          g.state,
		ActiveBuys:     len(g.buyOrders),
		ActiveSells:    len(g.sellOrders),
		FilledBuys:     len(g.filledBuys),
		FilledSells:    len(g.filledSells),
		RealizedProfit: g.profit,
		Canceled:       g.canceled,
	}
}

func (g *Grid) plan() string {
	var b strings.Builder
	fmt.Fprintf(&b, "grid %s range %s-%s, %d levels, %s per level\n",
		g.cfg.Symbol, fmtFloat(g.cfg.LowerPrice), fmtFloat(g.cfg.UpperPrice),
		g.cfg.NumGrids, fmtFloat(g.cfg.QuantityPerGrid))
	for i, level := range g.levels {
		fmt.Fprintf(&b, "  level %2d: %s\n", i+1, fmtFloat(level))
	}
	return b.String()
}

func (g *Grid) logStatus(ctx context.Context) {
	fields := logger.Fields{
		"buy_orders":      len(g.buyOrders),
		"sell_orders":     len(g.sellOrders),
		"buys_filled":     len(g.filledBuys),
		"sells_filled":    len(g.filledSells),
		"realized_profit": g.profit,
	}
	if current, err := g.venue.TickerPrice(ctx, g.cfg.Symbol); err == nil {
		fields["price"] = current
	}
	g.log.WithFields(fields).Info("grid status")
}
