package strategy

import (
	"sort"

	"gridmm/internal/accountant"
	"gridmm/internal/grid"
	"gridmm/internal/money"
)

// Rebalance is the strategy's sole entry point: given the current grid,
// accounted funds, observed fills, and cycle parameters, it produces an
// action plan (spec §4.2).
func (s *Strategy) Rebalance(g *grid.Grid, funds accountant.Funds, fills []FillEvent, params Params) (*Plan, error) {
	// Step 1: ingest fills, shift boundary.
	newBoundary := g.BoundaryIndex
	fullFillCount := 0
	for _, f := range fills {
		if f.IsPartial {
			continue
		}
		fullFillCount++
		switch f.Side {
		case grid.SELL:
			newBoundary++
		case grid.BUY:
			newBoundary--
		}
	}
	newBoundary = grid.ClampBoundary(newBoundary, g.Len())

	// Step 2: reassign roles under the new boundary/gap. Slots that are
	// still on-book keep their old role until the strategy schedules a
	// release for them (handled implicitly: they remain classified as
	// surplus on their old side below).
	g.ReassignRoles(newBoundary, g.Gap)

	precA := precisionForSide(g.Pair, money.SideA)
	precB := precisionForSide(g.Pair, money.SideB)

	buyIdeal, err := idealSizes(windowSlots(g, grid.BUY, params.Window.Buy), sideBudget(funds, params, money.SideB), params.Weight.Buy, params.IncrementPercent, precB)
	if err != nil {
		return nil, err
	}
	sellIdeal, err := idealSizes(windowSlots(g, grid.SELL, params.Window.Sell), sideBudget(funds, params, money.SideA), params.Weight.Sell, params.IncrementPercent, precA)
	if err != nil {
		return nil, err
	}

	buyDust := hasDustPartial(g, windowSlots(g, grid.BUY, params.Window.Buy), buyIdeal)
	sellDust := hasDustPartial(g, windowSlots(g, grid.SELL, params.Window.Sell), sellIdeal)

	// Rebalance-skip predicate (spec §4.2, R2): no full fills and not
	// both sides dust simultaneously => empty plan, master unchanged.
	// This does not apply to the very first cycle against a freshly
	// built grid (nothing on book yet): R2's "zero fills, zero dust"
	// premise describes a grid already at its target window, not an
	// unpopulated one, so cold start always runs the full algorithm to
	// seed the ladder (spec S1).
	if fullFillCount == 0 && !(buyDust && sellDust) && gridHasAnyOnBookOrder(g) {
		return &Plan{NewBoundary: g.BoundaryIndex}, nil
	}

	coldStart := !gridHasAnyOnBookOrder(g)

	reactionCap := fullFillCount
	if reactionCap == 0 {
		reactionCap = 1 // dust-triggered cycle still gets one restructuring unit
	}
	if coldStart && fullFillCount == 0 {
		// Initial population with no fills observed is not a
		// fill-triggered reaction: the cap exists to pace boundary-crawl
		// restructuring, not to throttle seeding an empty ladder (spec
		// S1). A cycle that carries full fills keeps the fill-count cap.
		reactionCap = params.Window.Buy + params.Window.Sell
	}

	plan := &Plan{NewBoundary: newBoundary}

	s.rebalanceSide(g, plan, grid.BUY, windowSlots(g, grid.BUY, params.Window.Buy), buyIdeal, sideAvailablePool(funds, money.SideB), reactionCap)
	s.rebalanceSide(g, plan, grid.SELL, windowSlots(g, grid.SELL, params.Window.Sell), sellIdeal, sideAvailablePool(funds, money.SideA), reactionCap)

	return plan, nil
}

// gridHasAnyOnBookOrder reports whether any slot in the grid currently
// has a live or partially-filled order, distinguishing a freshly built
// grid (nothing placed yet) from a steady-state grid that happens to
// have zero fills and zero dust this cycle.
func gridHasAnyOnBookOrder(g *grid.Grid) bool {
	for _, s := range g.Slots {
		if s.State.IsOnBook() {
			return true
		}
	}
	return false
}

func sideBudget(funds accountant.Funds, params Params, side money.Side) money.Amount {
	reservation := money.Amount(0)
	budget := funds.ChainFree[side].Add(funds.CommittedChain[side]).Sub(reservation)
	if budget < 0 {
		budget = 0
	}
	return budget
}

func sideAvailablePool(funds accountant.Funds, side money.Side) money.Amount {
	pool := funds.Available[side].Add(funds.CacheFunds[side])
	if pool < 0 {
		pool = 0
	}
	return pool
}

func hasDustPartial(g *grid.Grid, indices []int, ideal map[int]money.Amount) bool {
	for _, idx := range indices {
		slot := g.Slots[idx]
		if slot.State == grid.PARTIAL && slot.Size < dustAmount(ideal[idx]) {
			return true
		}
	}
	return false
}

// adjacentInnerIndex returns the slot index one step closer to market
// than idx on the given side, or -1 if none exists.
func adjacentInnerIndex(idx int, side grid.Type, boundary int) int {
	if side == grid.BUY {
		if idx+1 <= boundary {
			return idx + 1
		}
		return -1
	}
	if idx-1 > boundary {
		return idx - 1
	}
	return -1
}

// rebalanceSide runs steps 6-9 of the algorithm for one side in place,
// appending actions to plan.
func (s *Strategy) rebalanceSide(g *grid.Grid, plan *Plan, side grid.Type, indices []int, ideal map[int]money.Amount, availablePool money.Amount, reactionCap int) {
	handled := make(map[int]bool)

	// Step 6: partial handling before rotation.
	for _, idx := range indices {
		slot := g.Slots[idx]
		if slot.State != grid.PARTIAL {
			continue
		}
		idealSize := ideal[idx]
		if slot.Size < dustAmount(idealSize) {
			plan.Actions = append(plan.Actions, Action{
				Kind: Update, Side: side,
				ExchangeOrderID: slot.ExchangeOrderID,
				NewSlotID:       slot.ID, NewPrice: slot.Price, NewSize: idealSize + slot.Size,
			})
			handled[idx] = true
			continue
		}

		adj := adjacentInnerIndex(idx, side, g.BoundaryIndex)
		residual := slot.Size - idealSize
		if residual > 0 && adj >= 0 && adj < len(g.Slots) && g.Slots[adj].State == grid.VIRTUAL {
			plan.Actions = append(plan.Actions, Action{
				Kind: Update, Side: side,
				ExchangeOrderID: slot.ExchangeOrderID,
				NewSlotID:       slot.ID, NewPrice: slot.Price, NewSize: idealSize,
			})
			plan.Actions = append(plan.Actions, Action{
				Kind: Create, Side: side,
				SlotID: g.Slots[adj].ID, Price: g.Slots[adj].Price, Size: residual,
			})
			handled[adj] = true
		} else {
			plan.Actions = append(plan.Actions, Action{
				Kind: Update, Side: side,
				ExchangeOrderID: slot.ExchangeOrderID,
				NewSlotID:       slot.ID, NewPrice: slot.Price, NewSize: idealSize,
			})
		}
		handled[idx] = true
	}

	// Step 5 (remaining): classify shortage/surplus/healthy.
	var shortages, surpluses []int
	for _, idx := range indices {
		if handled[idx] {
			continue
		}
		slot := g.Slots[idx]
		idealSize := ideal[idx]
		switch {
		case !slot.State.IsOnBook():
			shortages = append(shortages, idx)
		case slot.Size < dustAmount(idealSize):
			shortages = append(shortages, idx)
			surpluses = append(surpluses, idx)
		}
	}

	// On-book orders of this role sitting outside the target window are
	// pure surplus: the role shifted away from them but they have not
	// been released yet.
	for idx, slot := range g.Slots {
		if slot.Type != side || handled[idx] || containsInt(indices, idx) {
			continue
		}
		if slot.State.IsOnBook() {
			surpluses = append(surpluses, idx)
		}
	}

	sortShortages(shortages, g, side)
	sortSurpluses(surpluses, g, side)

	// Step 7: rotation.
	rotations := 0
	for rotations < reactionCap && len(shortages) > 0 && len(surpluses) > 0 {
		shortIdx := shortages[0]
		shortages = shortages[1:]
		surpIdx := surpluses[0]
		surpluses = surpluses[1:]

		plan.Actions = append(plan.Actions, Action{
			Kind: Update, Side: side,
			ExchangeOrderID: g.Slots[surpIdx].ExchangeOrderID,
			NewSlotID:       g.Slots[shortIdx].ID,
			NewPrice:        g.Slots[shortIdx].Price,
			NewSize:         ideal[shortIdx],
		})
		rotations++
	}

	// Step 8: placement for remaining shortages, furthest-from-market
	// first, capped at the reaction budget and the liquid pool. A
	// shortage slot that is VIRTUAL but already carries an allocated
	// size (a prior cycle's CREATE already confirmed, awaiting this
	// cycle's topping-up) contributes that existing size for free; only
	// the increase over it draws from the pool (spec §4.2 step 8).
	remainingCap := reactionCap - rotations
	remainingShortages := shortages
	if len(remainingShortages) > remainingCap {
		remainingShortages = remainingShortages[len(remainingShortages)-remainingCap:]
	}
	placementCount := len(remainingShortages)
	for i := len(remainingShortages) - 1; i >= 0; i-- {
		idx := remainingShortages[i]
		slot := g.Slots[idx]
		target := ideal[idx]
		existing := money.Amount(0)
		if slot.State == grid.VIRTUAL && slot.Size > 0 && slot.Size < target {
			existing = slot.Size
		}
		draw := target - existing
		if placementCount > 0 {
			cap := availablePool / money.Amount(placementCount)
			if draw > cap {
				draw = cap
			}
		}
		if draw < 0 {
			draw = 0
		}
		size := existing + draw
		if size <= 0 {
			continue
		}
		plan.Actions = append(plan.Actions, Action{
			Kind: Create, Side: side,
			SlotID: g.Slots[idx].ID, Price: g.Slots[idx].Price, Size: size,
		})
		availablePool -= draw
		placementCount--
	}

	// Step 9: cancellation for any surplus not consumed by rotation.
	for _, idx := range surpluses {
		plan.Actions = append(plan.Actions, Action{
			Kind: Cancel, Side: side,
			SlotID: g.Slots[idx].ID, ExchangeOrderID: g.Slots[idx].ExchangeOrderID,
		})
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// sortShortages always puts the slot closest to market first (spec
// §4.2 tie-breaking).
func sortShortages(idx []int, g *grid.Grid, side grid.Type) {
	sort.Slice(idx, func(i, j int) bool {
		return closerToMarket(g, side, idx[i], idx[j])
	})
}

// sortSurpluses puts PARTIAL before ACTIVE, then farthest-from-market
// first (spec §4.2 tie-breaking). By the time this runs, in-window
// PARTIALs have already been handled in step 6, so this mostly orders
// ACTIVE surplus slots by distance.
func sortSurpluses(idx []int, g *grid.Grid, side grid.Type) {
	sort.Slice(idx, func(i, j int) bool {
		si, sj := g.Slots[idx[i]], g.Slots[idx[j]]
		if si.State != sj.State {
			return si.State == grid.PARTIAL
		}
		return !closerToMarket(g, side, idx[i], idx[j])
	})
}

// closerToMarket reports whether slot a is closer to market than slot b
// for the given side: BUY is closer-to-market at higher index (nearer
// the boundary, descending price order being ascending index), SELL is
// closer-to-market at lower index.
func closerToMarket(g *grid.Grid, side grid.Type, a, b int) bool {
	if side == grid.BUY {
		return a > b
	}
	return a < b
}
