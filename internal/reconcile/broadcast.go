package reconcile

import (
	"context"
	"fmt"
	"sync"

	"gridmm/internal/exchange"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/internal/strategy"
	"gridmm/pkg/concurrency"
	"gridmm/pkg/logging"
)

// ActionResult is the outcome of broadcasting one action.
type ActionResult struct {
	Action strategy.Action
	OrderID string
	Err    error
}

// Broadcaster fans out a plan's actions to the exchange outside the
// commit lock (spec §4.4 "Broadcast and reversal": "Broadcast is
// outside the commit lock. Each action is attempted independently").
type Broadcaster struct {
	client exchange.Client
	pair   money.Pair
	pool   *concurrency.WorkerPool
	logger logging.Logger
}

// NewBroadcaster builds a Broadcaster backed by a bounded worker pool.
func NewBroadcaster(client exchange.Client, pair money.Pair, logger logging.Logger) *Broadcaster {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "broadcast",
		MaxWorkers: 8,
	}, logger)
	return &Broadcaster{client: client, pair: pair, pool: pool, logger: logger.WithField("component", "broadcaster")}
}

// Broadcast attempts every action in plan independently and returns
// one result per action, in plan order.
func (b *Broadcaster) Broadcast(ctx context.Context, plan *strategy.Plan) []ActionResult {
	results := make([]ActionResult, len(plan.Actions))
	var wg sync.WaitGroup
	for i, act := range plan.Actions {
		i, act := i, act
		wg.Add(1)
		label := fmt.Sprintf("%s %s", act.Kind, act.SlotID)
		_ = b.pool.Submit(label, func() {
			defer wg.Done()
			results[i] = b.broadcastOne(ctx, act)
		})
	}
	wg.Wait()
	return results
}

func (b *Broadcaster) broadcastOne(ctx context.Context, act strategy.Action) ActionResult {
	switch act.Kind {
	case strategy.Create:
		id, err := b.client.CreateOrder(ctx, exchange.CreateOrderRequest{
			SellAmount:  act.Size,
			SellAssetID: b.sellAssetID(act.Side),
		})
		if err != nil {
			b.logger.Error("create order failed", "slot", act.SlotID, "error", err)
		}
		return ActionResult{Action: act, OrderID: id, Err: err}

	case strategy.Cancel:
		err := b.client.CancelOrder(ctx, act.ExchangeOrderID)
		if err != nil {
			b.logger.Error("cancel order failed", "slot", act.SlotID, "order", act.ExchangeOrderID, "error", err)
		}
		return ActionResult{Action: act, Err: err}

	case strategy.Update:
		err := b.client.UpdateOrder(ctx, exchange.UpdateOrderRequest{
			OrderID:    act.ExchangeOrderID,
			SellAmount: act.NewSize,
		})
		if err != nil {
			b.logger.Error("update order failed", "old_order", act.ExchangeOrderID, "new_slot", act.NewSlotID, "error", err)
		}
		return ActionResult{Action: act, Err: err}
	}
	return ActionResult{Action: act}
}

// sellAssetID returns the asset a slot of the given role sells: BUY
// sells B (quote) to acquire A; SELL sells A (base) to acquire B (spec
// §3).
func (b *Broadcaster) sellAssetID(side grid.Type) string {
	if side == grid.SELL {
		return b.pair.A.ID
	}
	return b.pair.B.ID
}

// Stop releases the broadcaster's worker pool.
func (b *Broadcaster) Stop() { b.pool.Stop() }
