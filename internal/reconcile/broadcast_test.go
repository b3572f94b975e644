package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridmm/internal/exchange"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/internal/strategy"
	"gridmm/pkg/logging"
)

func testBroadcastPair() money.Pair {
	return money.Pair{
		A: money.Asset{ID: "BTS", Precision: 5},
		B: money.Asset{ID: "USD", Precision: 4},
	}
}

func TestBroadcaster_CreateUsesCorrectSellAsset(t *testing.T) {
	client := exchange.NewSimulatedClient(map[string]exchange.AccountTotals{
		"USD": {Free: 1000, Total: 1000},
		"BTS": {Free: 100000, Total: 100000},
	})
	b := NewBroadcaster(client, testBroadcastPair(), logging.NopLogger{})
	defer b.Stop()

	plan := &strategy.Plan{Actions: []strategy.Action{
		{Kind: strategy.Create, Side: grid.BUY, SlotID: "slot-1", Size: 100},
		{Kind: strategy.Create, Side: grid.SELL, SlotID: "slot-2", Size: 500},
	}}

	results := b.Broadcast(context.Background(), plan)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.OrderID)
	}

	usdTotals, _ := client.ReadAccountTotals(context.Background(), "USD")
	assert.Equal(t, int64(900), int64(usdTotals.Free))
	btsTotals, _ := client.ReadAccountTotals(context.Background(), "BTS")
	assert.Equal(t, int64(99500), int64(btsTotals.Free))
}

func TestBroadcaster_IndependentFailureDoesNotAbortOthers(t *testing.T) {
	client := exchange.NewSimulatedClient(map[string]exchange.AccountTotals{
		"USD": {Free: 10, Total: 10},
		"BTS": {Free: 100000, Total: 100000},
	})
	b := NewBroadcaster(client, testBroadcastPair(), logging.NopLogger{})
	defer b.Stop()

	plan := &strategy.Plan{Actions: []strategy.Action{
		{Kind: strategy.Create, Side: grid.BUY, SlotID: "slot-1", Size: 5000}, // fails: insufficient USD
		{Kind: strategy.Create, Side: grid.SELL, SlotID: "slot-2", Size: 1},
	}}

	results := b.Broadcast(context.Background(), plan)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}
