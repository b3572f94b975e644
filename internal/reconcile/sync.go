package reconcile

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"gridmm/internal/exchange"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/internal/store"
	"gridmm/internal/strategy"
	"gridmm/pkg/logging"
)

// Reconciler implements component G: aligning the persisted/master
// grid with the exchange's authoritative open-order list (spec §4.4
// "Sync from authoritative open orders"). The engine runs Sync from
// its recovery path, after a drift event or a broadcast failure; it
// does not run Sync at startup.
type Reconciler struct {
	client exchange.Client
	store  *store.SQLiteStore
	logger logging.Logger
}

// NewReconciler constructs a Reconciler. store may be nil when no
// persistence is configured (the sync still runs against the
// in-memory master grid and the exchange's live order list).
func NewReconciler(client exchange.Client, s *store.SQLiteStore, logger logging.Logger) *Reconciler {
	return &Reconciler{client: client, store: s, logger: logger.WithField("component", "reconciler")}
}

// priceTolerance is the relative tolerance used to match a persisted
// slot to an exchange order by (side, price, size) when no
// exchange_order_id match exists.
const priceTolerance = 0.0005

// Sync reads the authoritative open-order list, matches it against
// master's slots, resets phantoms, and produces a plan to bring the
// on-book order count per side to target (spec §4.4 steps 1-5).
func (r *Reconciler) Sync(ctx context.Context, master *grid.Grid, target strategy.WindowConfig) (*strategy.Plan, error) {
	openOrders, err := r.client.ReadOpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	master.Lock()
	defer master.Unlock()

	r.matchOrders(master, openOrders)
	r.resetPhantoms(master)

	plan := &strategy.Plan{NewBoundary: master.BoundaryIndex}
	r.reconcileSide(master, grid.BUY, target.Buy, plan)
	r.reconcileSide(master, grid.SELL, target.Sell, plan)
	return plan, nil
}

// matchOrders matches persisted slots to live orders by
// exchange_order_id first, then by (side, price, size) tolerance (spec
// §4.4 step 3). Slots with no match at all are left as-is for
// resetPhantoms to evaluate.
func (r *Reconciler) matchOrders(master *grid.Grid, openOrders []exchange.OpenOrder) {
	byID := make(map[string]exchange.OpenOrder, len(openOrders))
	for _, o := range openOrders {
		byID[o.ID] = o
	}
	matched := make(map[string]bool, len(openOrders))

	for _, s := range master.Slots {
		if s.ExchangeOrderID == "" {
			continue
		}
		if o, ok := byID[s.ExchangeOrderID]; ok {
			s.Size = o.SellAmount
			matched[o.ID] = true
			continue
		}
		// id we tracked is no longer live; clear it so resetPhantoms
		// below converts it to VIRTUAL.
		s.ExchangeOrderID = ""
	}

	for _, s := range master.Slots {
		if s.ExchangeOrderID != "" {
			continue
		}
		side := sideOf(s.Type)
		if s.Type == grid.SPREAD {
			side = s.CommittedSide
		}
		for _, o := range openOrders {
			if matched[o.ID] || o.Side != side {
				continue
			}
			if !priceWithinTolerance(s.Price, o.Price) {
				continue
			}
			if o.SellAmount != s.Size {
				continue
			}
			s.ExchangeOrderID = o.ID
			s.State = grid.ACTIVE
			matched[o.ID] = true
			break
		}
	}
}

func priceWithinTolerance(slotPrice decimal.Decimal, orderPrice string) bool {
	op, err := decimal.NewFromString(orderPrice)
	if err != nil {
		return false
	}
	diff := slotPrice.Sub(op).Abs()
	tol := slotPrice.Mul(decimal.NewFromFloat(priceTolerance))
	return diff.LessThanOrEqual(tol)
}

// resetPhantoms coerces any on-book slot lacking a confirmed
// exchange_order_id back to VIRTUAL (spec §4.4 step 4, invariant P1).
func (r *Reconciler) resetPhantoms(master *grid.Grid) {
	for _, s := range master.Slots {
		if s.CoercePhantom() {
			r.logger.Warn("reconcile: coerced phantom slot", "slot", s.ID)
		}
	}
}

// reconcileSide brings the on-book order count for side to target,
// preferring update over cancel+create, cancelling the farthest
// excess first (spec §4.4 step 5).
func (r *Reconciler) reconcileSide(master *grid.Grid, side grid.Type, target int, plan *strategy.Plan) {
	var onBook, virtual []*grid.Slot
	for _, s := range master.Slots {
		if s.Type != side {
			continue
		}
		if s.State.IsOnBook() {
			onBook = append(onBook, s)
		} else {
			virtual = append(virtual, s)
		}
	}

	switch {
	case len(onBook) == target:
		return

	case len(onBook) < target:
		need := target - len(onBook)
		sort.Slice(virtual, func(i, j int) bool { return closerToMarketSlot(side, virtual[i], virtual[j]) })
		for i := 0; i < need && i < len(virtual); i++ {
			plan.Actions = append(plan.Actions, strategy.Action{
				Kind: strategy.Create, Side: side,
				SlotID: virtual[i].ID, Price: virtual[i].Price, Size: virtual[i].Size,
			})
		}

	default: // len(onBook) > target: cancel the worst (farthest from market) first
		excess := len(onBook) - target
		sort.Slice(onBook, func(i, j int) bool { return !closerToMarketSlot(side, onBook[i], onBook[j]) })
		for i := 0; i < excess && i < len(onBook); i++ {
			plan.Actions = append(plan.Actions, strategy.Action{
				Kind: strategy.Cancel, Side: side,
				SlotID: onBook[i].ID, ExchangeOrderID: onBook[i].ExchangeOrderID,
			})
		}
	}
}

func closerToMarketSlot(side grid.Type, a, b *grid.Slot) bool {
	if side == grid.BUY {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}

// DustBothSides reports whether both sides currently have at least one
// PARTIAL slot below dust relative to its ideal size (spec §4.4 step
// 6). ideal maps slot id to the size that slot would hold under the
// current geometric distribution. It only reports the condition: Sync
// does not call it and ends without a dust check, so no rebalance is
// started from it.
func DustBothSides(master *grid.Grid, ideal map[string]money.Amount) bool {
	buyDust, sellDust := false, false
	for _, s := range master.Slots {
		if s.State != grid.PARTIAL || s.Size <= 0 {
			continue
		}
		idealSize, ok := ideal[s.ID]
		if !ok || idealSize <= 0 {
			continue
		}
		threshold := money.Amount(float64(idealSize) * grid.PartialDustThresholdPercent / 100)
		if s.Size >= threshold {
			continue
		}
		switch s.Type {
		case grid.BUY:
			buyDust = true
		case grid.SELL:
			sellDust = true
		}
	}
	return buyDust && sellDust
}
