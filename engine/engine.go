// Package engine implements the two autonomous execution strategies: a grid
// of self-replenishing resting orders and a time-weighted average price
// schedule of market orders. Both engines are single-goroutine loops driven
// by a context; cancellation is the only way to stop them early.
package engine

import "strconv"

// State tracks an engine through its lifecycle. Engines only move forward
// through states, never back.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateValidated     State = "validated"
	StateOrdersPlaced  State = "orders_placed"
	StateMonitoring    State = "monitoring"
	StateRunning       State = "running"
	StateComplete      State = "complete"
	StateAborted       State = "aborted"
	StateInterrupted   State = "interrupted"
	StateTerminated    State = "terminated"
)

// Decider answers the judgement calls an engine cannot make alone: whether
// to start at all, and whether to keep going after a chunk fails. main wires
// an interactive stdin implementation; everything else uses AutoDecider.
type Decider interface {
	// ConfirmStart is shown the execution plan and decides whether to run.
	ConfirmStart(plan string) bool
	// ContinueAfterFailure decides whether to proceed after chunk seq failed.
	ContinueAfterFailure(seq int, err error) bool
}

// AutoDecider is the non-interactive default: always start, never continue
// past a failure.
type AutoDecider struct{}

func (AutoDecider) ConfirmStart(string) bool             { return true }
func (AutoDecider) ContinueAfterFailure(int, error) bool { return false }

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
