package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeflow/journal"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/validate"
	"tradeflow/venue"
)

// DefaultTWAPInterval is used when neither an interval nor a duration is
// given.
const DefaultTWAPInterval = 60 * time.Second

// TWAPConfig holds the parameters of one twap session.
type TWAPConfig struct {
	Symbol        string
	Side          models.Side
	TotalQuantity float64
	NumChunks     int

	// Interval between chunk submissions. Zero means derive it from
	// Duration, or fall back to DefaultTWAPInterval.
	Interval time.Duration
	// Duration is the target length of the whole execution, used only when
	// Interval is zero.
	Duration time.Duration

	Decider Decider
	Journal *journal.Session
}

// TWAP splits a large order into equal market-order chunks submitted on a
// fixed cadence, so the fill price tracks the time-weighted average instead
// of the book at one instant.
type TWAP struct {
	venue venue.Venue
	val   *validate.Validator
	cfg   TWAPConfig
	log   *logger.Entry

	state     State
	interval  time.Duration
	chunkSize float64
	// effectiveTotal is chunkSize*NumChunks after step clamping; it can
	// deviate from the requested total.
	effectiveTotal float64
	requestedTotal float64

	executed []*models.OrderHandle
	failed   []FailedChunk
}

// FailedChunk records one chunk submission that the venue rejected.
type FailedChunk struct {
	Seq       int
	Err       error
	Timestamp time.Time
}

// TWAPStats is the execution accounting of a twap session.
type TWAPStats struct {
	State          State
	TotalExecuted  float64
	AveragePrice   float64
	NumOrders      int
	NumFailed      int
	TotalCost      float64
	TotalProceeds  float64
	RequestedTotal float64
	EffectiveTotal float64
}

// ResolveInterval picks the chunk cadence: an explicit interval wins, then
// duration spread across the chunks, then the 60s default.
func ResolveInterval(interval, duration time.Duration, chunks int) time.Duration {
	if interval > 0 {
		return interval
	}
	if duration > 0 && chunks > 0 {
		return duration / time.Duration(chunks)
	}
	return DefaultTWAPInterval
}

// NewTWAP creates a twap engine. The validator must be for cfg.Symbol.
func NewTWAP(v venue.Venue, val *validate.Validator, cfg TWAPConfig) *TWAP {
	if cfg.Decider == nil {
		cfg.Decider = AutoDecider{}
	}
	return &TWAP{
		venue: v,
		val:   val,
		cfg:   cfg,
		log: logger.GetLogger().WithComponent("twap").WithFields(logger.Fields{
			"symbol": cfg.Symbol,
			"side":   cfg.Side,
		}),
		state:    StateUninitialized,
		interval: ResolveInterval(cfg.Interval, cfg.Duration, cfg.NumChunks),
	}
}

// State returns the engine's current lifecycle state.
func (t *TWAP) State() State { return t.state }

// Interval returns the resolved chunk cadence.
func (t *TWAP) Interval() time.Duration { return t.interval }

// ChunkSize returns the per-chunk quantity. Zero before Validate has run.
func (t *TWAP) ChunkSize() float64 { return t.chunkSize }

// Validate normalizes the side, clamps the chunk size to the symbol's
// quantity step and records the effective total that the clamped chunks add
// up to.
func (t *TWAP) Validate(ctx context.Context) error {
	side, err := validate.Side(string(t.cfg.Side))
	if err != nil {
		return err
	}
	t.cfg.Side = side

	if t.cfg.NumChunks <= 0 {
		return &validate.ValidationError{Field: "chunks", Value: t.cfg.NumChunks,
			Reason: "must be positive"}
	}
	if t.cfg.TotalQuantity <= 0 {
		return &validate.ValidationError{Field: "quantity", Value: t.cfg.TotalQuantity,
			Reason: "must be positive"}
	}
	if t.interval <= 0 {
		return &validate.ValidationError{Field: "interval", Value: t.interval.String(),
			Reason: "must be positive"}
	}

	chunk, err := t.val.ClampQuantity(t.cfg.TotalQuantity / float64(t.cfg.NumChunks))
	if err != nil {
		return err
	}
	t.chunkSize = chunk
	t.requestedTotal = t.cfg.TotalQuantity
	t.effectiveTotal = chunk * float64(t.cfg.NumChunks)

	log := t.log.WithFields(logger.Fields{
		"chunks":     t.cfg.NumChunks,
		"chunk_size": chunk,
		"interval":   t.interval.String(),
	})
	if t.effectiveTotal != t.requestedTotal {
		log = log.WithFields(logger.Fields{
			"requested_total": t.requestedTotal,
			"effective_total": t.effectiveTotal,
		})
	}
	log.Info("twap parameters validated")

	t.state = StateValidated
	return nil
}

// Run executes the full twap session: validate, balance check, confirm, then
// submit chunks on the resolved cadence. A failed chunk consults the Decider
// before the remaining chunks run. Context cancellation stops the schedule
// and the partial statistics stand.
func (t *TWAP) Run(ctx context.Context) (*TWAPStats, error) {
	if err := t.Validate(ctx); err != nil {
		return nil, err
	}

	current, err := t.venue.TickerPrice(ctx, t.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching current price: %w", err)
	}
	if t.cfg.Side == models.SideBuy {
		balance, err := t.venue.AvailableBalance(ctx, t.val.Rules.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("fetching balance: %w", err)
		}
		estimated := t.effectiveTotal * current
		if estimated > balance {
			return nil, &validate.ValidationError{Field: "balance", Value: balance,
				Reason: fmt.Sprintf("insufficient for estimated cost %.2f %s",
					estimated, t.val.Rules.QuoteAsset)}
		}
	}

	if !t.cfg.Decider.ConfirmStart(t.plan(current)) {
		t.log.Info("twap execution not confirmed, aborting")
		t.state = StateAborted
		return t.Stats(), nil
	}

	t.state = StateRunning
	started := time.Now()

	for seq := 1; seq <= t.cfg.NumChunks; seq++ {
		if ctx.Err() != nil {
			t.interrupted(seq)
			return t.Stats(), nil
		}

		chunkStart := time.Now()
		if err := t.executeChunk(ctx, seq); err != nil {
			if ctx.Err() != nil {
				t.interrupted(seq)
				return t.Stats(), nil
			}
			if seq < t.cfg.NumChunks && !t.cfg.Decider.ContinueAfterFailure(seq, err) {
				t.log.WithFields(logger.Fields{"chunk": seq}).Info("twap execution aborted after chunk failure")
				t.state = StateAborted
				return t.Stats(), nil
			}
		}

		// The last chunk never waits.
		if seq < t.cfg.NumChunks {
			wait := t.interval - time.Since(chunkStart)
			if wait > 0 {
				t.log.WithFields(logger.Fields{
					"wait":       wait.Round(100 * time.Millisecond).String(),
					"next_chunk": seq + 1,
				}).Debug("waiting for next chunk")
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					t.interrupted(seq + 1)
					return t.Stats(), nil
				case <-timer.C:
				}
			}
		}
	}

	t.state = StateComplete
	stats := t.Stats()
	fields := logger.Fields{
		"duration":       time.Since(started).Round(time.Second).String(),
		"orders":         stats.NumOrders,
		"failed":         stats.NumFailed,
		"total_executed": stats.TotalExecuted,
		"average_price":  stats.AveragePrice,
	}
	if t.effectiveTotal != t.requestedTotal {
		fields["requested_total"] = t.requestedTotal
		fields["effective_total"] = t.effectiveTotal
	}
	if t.cfg.Side == models.SideBuy {
		fields["total_cost"] = stats.TotalCost
	} else {
		fields["total_proceeds"] = stats.TotalProceeds
	}
	t.log.WithFields(fields).Info("twap execution complete")
	return stats, nil
}

func (t *TWAP) interrupted(seq int) {
	t.state = StateInterrupted
	t.log.WithFields(logger.Fields{
		"completed":  len(t.executed),
		"chunks":     t.cfg.NumChunks,
		"stopped_at": seq,
	}).Info("twap execution interrupted")
}

func (t *TWAP) executeChunk(ctx context.Context, seq int) error {
	log := t.log.WithFields(logger.Fields{"chunk": seq, "chunks": t.cfg.NumChunks})
	log.Info("executing chunk")

	handle, err := t.venue.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:   t.cfg.Symbol,
		Side:     t.cfg.Side,
		Type:     models.OrderTypeMarket,
		Quantity: t.chunkSize,
	})
	if err != nil {
		t.failed = append(t.failed, FailedChunk{Seq: seq, Err: err, Timestamp: time.Now()})
		t.cfg.Journal.RecordChunk(journal.ChunkRecord{
			Symbol:   t.cfg.Symbol,
			Side:     string(t.cfg.Side),
			Seq:      int32(seq),
			Quantity: t.chunkSize,
			Error:    err.Error(),
		})
		log.WithError(err).Error("chunk failed")
		return err
	}

	t.executed = append(t.executed, handle)
	t.log.LogMetric("twap", "chunk_quantity", handle.ExecutedQty, "counter", logger.Fields{
		"symbol": t.cfg.Symbol,
		"engine": "twap",
		"side":   string(t.cfg.Side),
	})
	t.cfg.Journal.RecordChunk(journal.ChunkRecord{
		Symbol:    t.cfg.Symbol,
		Side:      string(t.cfg.Side),
		Seq:       int32(seq),
		OrderID:   handle.OrderID,
		Quantity:  handle.ExecutedQty,
		AvgPrice:  handle.AvgPrice,
		Succeeded: true,
	})
	log.WithFields(logger.Fields{
		"order_id":  handle.OrderID,
		"executed":  handle.ExecutedQty,
		"avg_price": handle.AvgPrice,
	}).Info("chunk executed")
	return nil
}

// Stats computes the execution statistics so far. Average price is the
// quantity-weighted mean over executed chunks, zero when nothing filled.
func (t *TWAP) Stats() *TWAPStats {
	stats := &TWAPStats{
		State:          t.state,
		NumOrders:      len(t.executed),
		NumFailed:      len(t.failed),
		RequestedTotal: t.requestedTotal,
		EffectiveTotal: t.effectiveTotal,
	}
	totalNotional := 0.0
	for _, o := range t.executed {
		stats.TotalExecuted += o.ExecutedQty
		totalNotional += o.ExecutedQty * o.AvgPrice
	}
	if stats.TotalExecuted > 0 {
		stats.AveragePrice = totalNotional / stats.TotalExecuted
	}
	if t.cfg.Side == models.SideBuy {
		stats.TotalCost = totalNotional
	} else {
		stats.TotalProceeds = totalNotional
	}
	return stats
}

func (t *TWAP) plan(current float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "twap %s %s total %s in %d chunks of %s every %s (~%s)\n",
		t.cfg.Side, t.cfg.Symbol, fmtFloat(t.effectiveTotal), t.cfg.NumChunks,
		fmtFloat(t.chunkSize), t.interval,
		(t.interval * time.Duration(t.cfg.NumChunks)).Round(time.Second))
	fmt.Fprintf(&b, "  current price: %s\n", fmtFloat(current))
	if t.effectiveTotal != t.requestedTotal {
		fmt.Fprintf(&b, "  requested total %s adjusted to %s by quantity step\n",
			fmtFloat(t.requestedTotal), fmtFloat(t.effectiveTotal))
	}
	if t.cfg.Side == models.SideBuy {
		fmt.Fprintf(&b, "  estimated cost: %.2f %s\n", t.effectiveTotal*current, t.val.Rules.QuoteAsset)
	}
	return b.String()
}
