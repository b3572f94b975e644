// Package reconcile implements component F (copy-on-write working-grid
// planning and the commit gate) and component G (startup/recovery sync
// against authoritative open orders), spec §4.4.
package reconcile

import (
	"fmt"

	"gridmm/internal/accountant"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/internal/strategy"
)

// RejectReason categorizes why a plan failed the commit gate (spec §7
// "Plan stale" / "Shortfall during plan validation").
type RejectReason string

const (
	RejectStale           RejectReason = "stale_version"
	RejectEmptyDelta       RejectReason = "empty_delta"
	RejectCreateOntoLive   RejectReason = "create_onto_live_order"
	RejectFundShortfall    RejectReason = "fund_shortfall"
)

// CommitRejection describes a plan that did not pass the commit gate.
type CommitRejection struct {
	Reason    RejectReason
	Detail    string
	Shortfall map[money.Side]money.Amount
}

func (r *CommitRejection) Error() string {
	return fmt.Sprintf("reconcile: plan rejected: %s: %s", r.Reason, r.Detail)
}

// WorkingGrid is a cheap clone of the master grid captured at plan
// start, plus the master version it was captured from (spec §4.4
// "Working grid").
type WorkingGrid struct {
	BaseVersion uint64
	Pair        money.Pair
	Slots       []*grid.Slot
	Boundary    int
	Gap         int
}

// NewWorkingGrid snapshots master under its read lock.
func NewWorkingGrid(master *grid.Grid) *WorkingGrid {
	snap := master.Snapshot()
	return &WorkingGrid{
		BaseVersion: snap.Version,
		Pair:        snap.Pair,
		Slots:       snap.Slots,
		Boundary:    snap.BoundaryIndex,
		Gap:         snap.Gap,
	}
}

func (w *WorkingGrid) slotByID(id string) (*grid.Slot, int, error) {
	for i, s := range w.Slots {
		if s.ID == id {
			return s, i, nil
		}
	}
	return nil, -1, fmt.Errorf("reconcile: unknown slot id %q", id)
}

// ProjectPlan applies the strategy's action plan onto the working grid
// in place (spec §4.4 "Plan production"). It never touches the master.
func (w *WorkingGrid) ProjectPlan(plan *strategy.Plan) error {
	w.Boundary = plan.NewBoundary
	for _, act := range plan.Actions {
		if err := w.projectAction(act); err != nil {
			return err
		}
	}
	return nil
}

func (w *WorkingGrid) projectAction(act strategy.Action) error {
	switch act.Kind {
	case strategy.Create:
		slot, _, err := w.slotByID(act.SlotID)
		if err != nil {
			return err
		}
		slot.State = grid.VIRTUAL
		slot.ExchangeOrderID = ""
		slot.Size = act.Size
		slot.CommittedSide = sideOf(act.Side)
		return nil

	case strategy.Cancel:
		slot, _, err := w.slotByID(act.SlotID)
		if err != nil {
			return err
		}
		slot.ResetToSpreadPlaceholder()
		return nil

	case strategy.Update:
		newSlot, _, err := w.slotByID(act.NewSlotID)
		if err != nil {
			return err
		}
		oldState, oldOrderID := w.findReleasedOrder(act.ExchangeOrderID)
		newSlot.State = oldState
		newSlot.ExchangeOrderID = oldOrderID
		newSlot.Size = act.NewSize
		newSlot.CommittedSide = sideOf(act.Side)
		return nil

	default:
		return fmt.Errorf("reconcile: unknown action kind %v", act.Kind)
	}
}

// findReleasedOrder locates the slot currently on-book under
// exchangeOrderID (the "old" side of an Update/rotation) and resets it
// to a SPREAD placeholder, returning the state/order-id that
// transfers to the acquiring slot (spec §4.4 UPDATE rotation).
func (w *WorkingGrid) findReleasedOrder(exchangeOrderID string) (grid.State, string) {
	if exchangeOrderID == "" {
		return grid.VIRTUAL, ""
	}
	for _, s := range w.Slots {
		if s.ExchangeOrderID == exchangeOrderID {
			state := s.State
			id := s.ExchangeOrderID
			s.ResetToSpreadPlaceholder()
			return state, id
		}
	}
	return grid.VIRTUAL, ""
}

func sideOf(role grid.Type) money.Side {
	if role == grid.SELL {
		return money.SideA
	}
	return money.SideB
}

// delta reports whether w differs from master's current slot state.
func (w *WorkingGrid) delta(master *grid.Grid) bool {
	if len(w.Slots) != len(master.Slots) {
		return true
	}
	for i, s := range w.Slots {
		m := master.Slots[i]
		if s.Type != m.Type || s.State != m.State || s.Size != m.Size || s.ExchangeOrderID != m.ExchangeOrderID {
			return true
		}
	}
	return w.Boundary != master.BoundaryIndex
}

// createsOntoLiveOrder reports whether any CREATE in the plan targets
// a slot still holding a valid on-book order not itself released by
// this same plan (spec §4.4 commit gate check 3, B3).
func createsOntoLiveOrder(master *grid.Grid, plan *strategy.Plan) (string, bool) {
	released := make(map[string]bool)
	for _, a := range plan.Actions {
		switch a.Kind {
		case strategy.Cancel:
			released[a.SlotID] = true
		case strategy.Update:
			// An Update names the order it moves, not the slot it leaves.
			for _, s := range master.Slots {
				if a.ExchangeOrderID != "" && s.ExchangeOrderID == a.ExchangeOrderID && s.ID != a.NewSlotID {
					released[s.ID] = true
				}
			}
		}
	}
	for _, a := range plan.Actions {
		if a.Kind != strategy.Create {
			continue
		}
		for _, s := range master.Slots {
			if s.ID == a.SlotID && s.State.IsOnBook() && !released[a.SlotID] {
				return a.SlotID, true
			}
		}
	}
	return "", false
}

// Commit applies the commit gate (spec §4.4) under master's exclusive
// grid lock, then mutates master in place and bumps its Version.
func Commit(master *grid.Grid, w *WorkingGrid, plan *strategy.Plan) error {
	master.Lock()
	defer master.Unlock()

	if master.Version != w.BaseVersion {
		return &CommitRejection{Reason: RejectStale, Detail: fmt.Sprintf("master=%d base=%d", master.Version, w.BaseVersion)}
	}
	if !w.delta(master) {
		return &CommitRejection{Reason: RejectEmptyDelta, Detail: "working grid matches master"}
	}
	if slotID, bad := createsOntoLiveOrder(master, plan); bad {
		return &CommitRejection{Reason: RejectCreateOntoLive, Detail: fmt.Sprintf("slot %s still on-book", slotID)}
	}

	for i, s := range w.Slots {
		master.Slots[i].Type = s.Type
		master.Slots[i].State = s.State
		master.Slots[i].Size = s.Size
		master.Slots[i].ExchangeOrderID = s.ExchangeOrderID
		master.Slots[i].CommittedSide = s.CommittedSide
	}
	master.BoundaryIndex = w.Boundary
	master.Gap = w.Gap
	master.Version++
	return nil
}

// ValidateFunds checks the working grid's required per-side capital
// against chain_total (not just available), since the plan replaces
// existing on-book commitments with new ones of the same asset (spec
// §4.4 "Fund validation", P6).
func ValidateFunds(w *WorkingGrid, funds accountant.Funds) (bool, map[money.Side]money.Amount) {
	var required [2]money.Amount
	for _, s := range w.Slots {
		if !s.State.IsOnBook() && !(s.State == grid.VIRTUAL && s.Size > 0) {
			continue
		}
		required[s.CommittedSide] = required[s.CommittedSide].Add(s.Size)
	}

	shortfall := make(map[money.Side]money.Amount)
	ok := true
	for _, side := range []money.Side{money.SideA, money.SideB} {
		if required[side] > funds.ChainTotal[side] {
			ok = false
			shortfall[side] = required[side].Sub(funds.ChainTotal[side])
		}
	}
	return ok, shortfall
}
