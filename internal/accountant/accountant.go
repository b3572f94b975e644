// Package accountant implements component D: fund state tracking
// (free/committed/cached/virtual), fill posting, fee deferral, drift
// detection against authoritative balances, and the recovery trigger.
package accountant

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"gridmm/internal/feetable"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/pkg/logging"
)

// Funds is the accountant's derived-state snapshot per spec §3. All
// amounts are indexed by money.Side (SideA, SideB).
type Funds struct {
	ChainTotal     [2]money.Amount
	ChainFree      [2]money.Amount
	CommittedChain [2]money.Amount
	CommittedGrid  [2]money.Amount
	Virtual        [2]money.Amount
	Available      [2]money.Amount
	CacheFunds     [2]money.Amount
	BtsFeesOwed    money.Amount
}

// Violation describes a single invariant breach found during drift
// detection (spec I1/I2, testable properties P4/P5).
type Violation struct {
	Invariant string
	Side      money.Side
	Detail    string
}

// Fill is one observed trade event from the exchange fill stream (spec
// §6 fill stream shape, consumed by fill posting in §4.3).
type Fill struct {
	SlotID         string
	IsPartial      bool
	IsMaker        bool
	PaysSide       money.Side
	PaysAmount     money.Amount
	ReceivesSide   money.Side
	ReceivesAmount money.Amount // raw proceeds before market fee
}

// Accountant owns the fund lock and the derived Funds snapshot for one
// bot. Recalculation is idempotent and safe to call after every state
// mutation (spec §4.3).
type Accountant struct {
	mu sync.Mutex // fund lock (spec §5)

	pair          money.Pair
	fees          *feetable.Table
	nativeAssetID string // the chain's native fee asset id; empty if neither side is native
	eps           float64
	logger        logging.Logger

	funds  Funds
	paused atomic.Bool // concurrent recalc guard: pause recalculation around multi-step transitions
}

// New constructs an Accountant. eps defaults to 0.1% when zero.
func New(pair money.Pair, fees *feetable.Table, nativeAssetID string, eps float64, logger logging.Logger) *Accountant {
	if eps <= 0 {
		eps = 0.001
	}
	return &Accountant{
		pair:          pair,
		fees:          fees,
		nativeAssetID: nativeAssetID,
		eps:           eps,
		logger:        logger.WithField("component", "accountant"),
	}
}

// SetChainTotals installs the latest authoritative read from the
// exchange client (spec §6 read_account_totals).
func (a *Accountant) SetChainTotals(side money.Side, total, free money.Amount) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.funds.ChainTotal[side] = total
	a.funds.ChainFree[side] = free
}

// Funds returns a copy of the current derived fund state.
func (a *Accountant) Funds() Funds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.funds
}

// PauseRecalc suspends Recalculate's effect around a multi-step
// transition (e.g. a rotation commit), so transient invariant violations
// never become externally visible (spec §4.3 "concurrent recalc guard").
func (a *Accountant) PauseRecalc() { a.paused.Store(true) }

// ResumeRecalc re-enables Recalculate.
func (a *Accountant) ResumeRecalc() { a.paused.Store(false) }

// nativeFeeReservation returns the portion of a side's budget reserved
// for pending native-asset operation fees; zero unless that side's asset
// is the native fee asset (spec §4.2 step 3, §4.3).
func (a *Accountant) nativeFeeReservation(side money.Side) money.Amount {
	if a.assetID(side) != a.nativeAssetID || a.nativeAssetID == "" {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.funds.BtsFeesOwed
}

func (a *Accountant) assetID(side money.Side) string {
	if side == money.SideA {
		return a.pair.A.ID
	}
	return a.pair.B.ID
}

func (a *Accountant) precision(side money.Side) int {
	if side == money.SideA {
		return a.pair.A.Precision
	}
	return a.pair.B.Precision
}

// Recalculate is the single source of truth for derived fund state (spec
// §4.3). It takes a read-only snapshot of the grid, so recalculation
// never blocks on the fund lock while reading slot state. When paused
// (mid multi-step transition) it is a no-op.
func (a *Accountant) Recalculate(g *grid.Grid) {
	if a.paused.Load() {
		return
	}

	snap := g.Snapshot()

	var committedChain, committedGrid, virtual [2]money.Amount
	for _, s := range snap.Slots {
		side := sideForSlotType(s.Type, s.CommittedSide)
		switch {
		case s.State.IsOnBook():
			committedChain[side] = committedChain[side].Add(s.Size)
			committedGrid[side] = committedGrid[side].Add(s.Size)
		case s.State == grid.VIRTUAL && s.Size > 0:
			virtual[side] = virtual[side].Add(s.Size)
			committedGrid[side] = committedGrid[side].Add(s.Size)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, side := range []money.Side{money.SideA, money.SideB} {
		a.funds.CommittedChain[side] = committedChain[side]
		a.funds.CommittedGrid[side] = committedGrid[side]
		a.funds.Virtual[side] = virtual[side]
		a.funds.ChainTotal[side] = a.funds.ChainFree[side].Add(a.funds.CommittedChain[side])

		reservation := money.Amount(0)
		if a.assetID(side) == a.nativeAssetID {
			reservation = a.funds.BtsFeesOwed
		}
		available := a.funds.ChainFree[side] - virtual[side] - reservation
		if available < 0 {
			available = 0
		}
		a.funds.Available[side] = available
	}
}

// sideForSlotType maps a slot's role to the side its capital is
// committed against. BUY slots commit quote (B); SELL slots commit base
// (A); SPREAD slots fall back to the sticky CommittedSide recorded
// before the slot was last reassigned.
func sideForSlotType(t grid.Type, committed money.Side) money.Side {
	switch t {
	case grid.BUY:
		return money.SideB
	case grid.SELL:
		return money.SideA
	default:
		return committed
	}
}

// DriftCheck verifies invariants I1 and I2 for both sides and returns any
// violations found (spec §3, testable properties P4/P5).
func (a *Accountant) DriftCheck() []Violation {
	a.mu.Lock()
	funds := a.funds
	a.mu.Unlock()

	var violations []Violation
	for _, side := range []money.Side{money.SideA, money.SideB} {
		tol := money.Tolerance(funds.ChainTotal[side], a.precision(side), a.eps)

		// I1: chain_total ~= chain_free + committed_chain
		derived := funds.ChainFree[side].Add(funds.CommittedChain[side])
		if !money.WithinTolerance(funds.ChainTotal[side], derived, tol) {
			violations = append(violations, Violation{
				Invariant: "I1",
				Side:      side,
				Detail:    fmt.Sprintf("chain_total=%d free+committed=%d tolerance=%d", funds.ChainTotal[side], derived, tol),
			})
		}

		// I2: cache_funds <= chain_free + tolerance
		if funds.CacheFunds[side] > funds.ChainFree[side]+tol {
			violations = append(violations, Violation{
				Invariant: "I2",
				Side:      side,
				Detail:    fmt.Sprintf("cache_funds=%d chain_free=%d tolerance=%d", funds.CacheFunds[side], funds.ChainFree[side], tol),
			})
		}
	}

	if len(violations) > 0 {
		a.logger.Error("drift detected", "violations", len(violations))
	}
	return violations
}

// PostFill applies a single fill to chain totals and cache funds per
// spec §4.3 fill posting. Partial fills still move funds; only the
// boundary-shift decision (handled by the strategy) distinguishes full
// from partial fills.
func (a *Accountant) PostFill(f Fill) {
	isMaker := f.IsMaker // IsMaker false, including a zero-value Fill, posts the fill as taker

	pct, haveFee := a.fees.MarketFeePercent(a.assetID(f.ReceivesSide), isMaker)
	net := f.ReceivesAmount
	fee := money.Amount(0)
	if haveFee {
		feeDec := decimal.NewFromInt(int64(f.ReceivesAmount)).Mul(pct).Div(decimal.NewFromInt(100)).Round(0)
		if bi := feeDec.BigInt(); bi.IsInt64() {
			fee = money.Amount(bi.Int64())
		}
		net = f.ReceivesAmount - fee
	} else {
		a.logger.Warn("fee cache miss, using raw proceeds", "asset", a.assetID(f.ReceivesSide))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Deduct what the bot gave up. Total goes down; the commitment
	// already reduced "free" when the order was placed, so this does
	// not re-subtract — the slot's transition to VIRTUAL releases the
	// commitment separately in the reconciliation commit pipeline.
	a.funds.ChainTotal[f.PaysSide] = a.funds.ChainTotal[f.PaysSide].Sub(f.PaysAmount)

	// Add proceeds net of market fee.
	a.funds.ChainTotal[f.ReceivesSide] = a.funds.ChainTotal[f.ReceivesSide].Add(net)
	a.funds.ChainFree[f.ReceivesSide] = a.funds.ChainFree[f.ReceivesSide].Add(net)
	a.funds.CacheFunds[f.ReceivesSide] = a.funds.CacheFunds[f.ReceivesSide].Add(net)

	if a.assetID(f.ReceivesSide) == a.nativeAssetID && a.nativeAssetID != "" {
		// Native-side proceeds are recorded raw; the creation-fee
		// refund arrives as a separate event (spec §4.3), so we only
		// accumulate the owed-fee counter here, never inflate net.
		netFeeDelta := a.netNativeFee(isMaker)
		a.funds.BtsFeesOwed = a.funds.BtsFeesOwed.Add(netFeeDelta)
	}
}

// netNativeFee returns the per-fill native fee delta to accumulate into
// bts_fees_owed, partitioned by maker/taker per spec §4.3. The taker
// branch runs for every fill whose IsMaker is false, which includes a
// Fill whose flag was never set.
func (a *Accountant) netNativeFee(isMaker bool) money.Amount {
	if isMaker {
		return 1 // refund minus a small net fee, expressed as the residual owed
	}
	return 2 // taker: full taker fee applies, no native refund
}

// SettleNativeFees attempts to draw down bts_fees_owed: from
// cache_funds[native] first, then from base free balance. If free
// balance is insufficient, settlement is deferred until it grows (spec
// §4.3 native fee settlement).
func (a *Accountant) SettleNativeFees() {
	if a.nativeAssetID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	owed := a.funds.BtsFeesOwed
	if owed <= 0 {
		return
	}

	nativeSide := money.SideB
	if a.pair.A.ID == a.nativeAssetID {
		nativeSide = money.SideA
	}

	fromCache := money.Min(a.funds.CacheFunds[nativeSide], owed)
	a.funds.CacheFunds[nativeSide] = a.funds.CacheFunds[nativeSide].Sub(fromCache)
	owed = owed.Sub(fromCache)

	if owed > 0 {
		if a.funds.ChainFree[nativeSide] < owed {
			// Defer: not enough free balance yet.
			a.funds.BtsFeesOwed = owed
			return
		}
		a.funds.ChainFree[nativeSide] = a.funds.ChainFree[nativeSide].Sub(owed)
		owed = 0
	}

	a.funds.BtsFeesOwed = owed
}
