package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SimulatedClient is an in-memory paper-trading Client: orders are
// "filled" only when a test or the dry-run CLI pushes a Fill onto it
// explicitly via PushFill. Pushed fills are carried over a real local
// websocket connection (see wsfeed.go) so the engine's fill-stream
// consumption path is exercised against the same wire protocol a live
// exchange collaborator would use, per spec §6's fill stream.
type SimulatedClient struct {
	mu     sync.Mutex
	totals map[string]AccountTotals
	orders map[string]OpenOrder
	feed   *fillFeed
}

// NewSimulatedClient builds a SimulatedClient seeded with the given
// per-asset totals. Panics only if the loopback listener for the fill
// feed cannot be opened, which does not happen in normal test/CI
// environments.
func NewSimulatedClient(seed map[string]AccountTotals) *SimulatedClient {
	totals := make(map[string]AccountTotals, len(seed))
	for k, v := range seed {
		totals[k] = v
	}
	feed, err := newFillFeed()
	if err != nil {
		panic(err)
	}
	return &SimulatedClient{
		totals: totals,
		orders: make(map[string]OpenOrder),
		feed:   feed,
	}
}

func (c *SimulatedClient) ReadAccountTotals(ctx context.Context, assetID string) (AccountTotals, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[assetID], nil
}

func (c *SimulatedClient) ReadOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := make([]OpenOrder, 0, len(c.orders))
	for _, o := range c.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *SimulatedClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totals[req.SellAssetID]
	if total.Free < req.SellAmount {
		return "", fmt.Errorf("exchange: insufficient free %s balance: have %d need %d", req.SellAssetID, total.Free, req.SellAmount)
	}
	total.Free = total.Free.Sub(req.SellAmount)
	c.totals[req.SellAssetID] = total

	id := uuid.NewString()
	c.orders[id] = OpenOrder{
		ID:         id,
		SellAmount: req.SellAmount,
		SellAsset:  req.SellAssetID,
	}
	return id, nil
}

func (c *SimulatedClient) UpdateOrder(ctx context.Context, req UpdateOrderRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[req.OrderID]
	if !ok {
		return fmt.Errorf("exchange: unknown order %s", req.OrderID)
	}
	total := c.totals[o.SellAsset]
	delta := req.SellAmount.Sub(o.SellAmount)
	if total.Free < delta {
		return fmt.Errorf("exchange: insufficient free %s balance: have %d need %d", o.SellAsset, total.Free, delta)
	}
	total.Free = total.Free.Sub(delta)
	c.totals[o.SellAsset] = total
	o.SellAmount = req.SellAmount
	o.Price = req.NewPrice
	c.orders[req.OrderID] = o
	return nil
}

func (c *SimulatedClient) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return fmt.Errorf("exchange: unknown order %s", orderID)
	}
	total := c.totals[o.SellAsset]
	total.Free = total.Free.Add(o.SellAmount)
	c.totals[o.SellAsset] = total
	delete(c.orders, orderID)
	return nil
}

// Fills dials the in-process fill feed over a websocket connection and
// returns the decoded stream; the channel closes when ctx is
// cancelled.
func (c *SimulatedClient) Fills(ctx context.Context) (<-chan Fill, error) {
	return dialFills(ctx, c.feed.addr())
}

// PushFill injects a synthetic fill, for dry-run walkthroughs and
// tests that exercise the engine's fill-processing path without a
// live exchange connection.
func (c *SimulatedClient) PushFill(f Fill) {
	c.feed.broadcast(f)
}

// Close tears down the fill feed's listener and any open connections.
func (c *SimulatedClient) Close() error {
	return c.feed.close()
}

var _ Client = (*SimulatedClient)(nil)
