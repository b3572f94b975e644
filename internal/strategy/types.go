// Package strategy implements component E: the boundary-crawl algorithm
// that converts observed fills and current grid/fund state into an
// action plan (place/update/cancel) against the ladder.
package strategy

import (
	"github.com/shopspring/decimal"

	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/pkg/logging"
)

// ActionKind is the wire-level action the reconciliation package projects
// onto the working grid and eventually broadcasts.
type ActionKind int

const (
	Create ActionKind = iota
	Cancel
	Update
)

func (k ActionKind) String() string {
	switch k {
	case Create:
		return "CREATE"
	case Cancel:
		return "CANCEL"
	case Update:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Action is one step of a plan. Update carries both the released slot's
// old order id and the acquiring slot's target shape as a single atomic
// "move" — not two separate actions (spec §9 design notes).
type Action struct {
	Kind ActionKind
	Side grid.Type

	// Create / Cancel target.
	SlotID          string
	Price           decimal.Decimal
	Size            money.Amount
	ExchangeOrderID string // populated for Cancel and as the "old" id for Update

	// Update-only fields: the new slot the order migrates to.
	NewSlotID string
	NewPrice  decimal.Decimal
	NewSize   money.Amount
}

// Plan is the strategy's sole output: an ordered action list. Broadcast
// order within a plan does not affect correctness (spec §5).
type Plan struct {
	Actions     []Action
	NewBoundary int
}

// Empty reports whether the plan carries no actions (spec R2).
func (p *Plan) Empty() bool { return p == nil || len(p.Actions) == 0 }

// FillEvent is a fill observed since the last cycle, as the strategy
// needs to see it: which slot/role it came from, and whether it was
// partial (partial fills never move the boundary, spec §4.2 step 1).
type FillEvent struct {
	SlotIndex int
	Side      grid.Type // BUY or SELL role the filled slot had
	IsPartial bool
}

// WindowConfig is the per-side target count of on-book orders
// (active_orders in spec §6).
type WindowConfig struct {
	Buy  int
	Sell int
}

// SideFloat is a per-side weighting parameter in [0,1].
type SideFloat struct {
	Buy  float64
	Sell float64
}

// Params bundles the per-cycle configuration the strategy needs.
type Params struct {
	Window           WindowConfig
	Weight           SideFloat
	IncrementPercent float64
	NativeAssetID    string
}

// Strategy holds no mutable state of its own. Rebalance reassigns the
// slot roles, boundary and gap of the grid it is given
// (grid.ReassignRoles) and otherwise only reads its inputs.
type Strategy struct {
	logger logging.Logger
}

// New constructs a Strategy.
func New(logger logging.Logger) *Strategy {
	return &Strategy{logger: logger.WithField("component", "strategy")}
}

func precisionForSide(pair money.Pair, side money.Side) int {
	if side == money.SideA {
		return pair.A.Precision
	}
	return pair.B.Precision
}

// sideOf maps a BUY/SELL role to the money.Side whose balance it
// consumes: BUY consumes quote (B), SELL consumes base (A) (spec §3).
func sideOf(role grid.Type) money.Side {
	if role == grid.SELL {
		return money.SideA
	}
	return money.SideB
}
