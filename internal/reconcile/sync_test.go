package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridmm/internal/exchange"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/internal/strategy"
	"gridmm/pkg/logging"
)

func TestSync_MatchesOrderByExchangeID(t *testing.T) {
	master := buildTestMaster(t)
	buySlot := master.Slots[0]
	buySlot.State = grid.ACTIVE
	buySlot.ExchangeOrderID = "ex-1"
	buySlot.Size = 100

	fake := &fakeOrderLister{orders: []exchange.OpenOrder{{ID: "ex-1", SellAmount: 150, Price: buySlot.Price.String()}}}

	r := NewReconciler(fake, nil, logging.NopLogger{})
	_, err := r.Sync(context.Background(), master, strategy.WindowConfig{Buy: 3, Sell: 3})
	require.NoError(t, err)

	assert.Equal(t, money.Amount(150), buySlot.Size, "matched order size should be refreshed from the authoritative read")
}

func TestSync_CoercesPhantomWhenOrderGone(t *testing.T) {
	master := buildTestMaster(t)
	buySlot := master.Slots[0]
	buySlot.State = grid.ACTIVE
	buySlot.ExchangeOrderID = "ex-missing"
	buySlot.Size = 100

	fake := &fakeOrderLister{orders: nil}
	r := NewReconciler(fake, nil, logging.NopLogger{})
	_, err := r.Sync(context.Background(), master, strategy.WindowConfig{Buy: 0, Sell: 0})
	require.NoError(t, err)

	assert.Equal(t, grid.VIRTUAL, buySlot.State)
	assert.Empty(t, buySlot.ExchangeOrderID)
	assert.Equal(t, money.Amount(0), buySlot.Size)
}

func TestSync_CreatesMissingOrdersToReachTarget(t *testing.T) {
	master := buildTestMaster(t)
	fake := &fakeOrderLister{}
	r := NewReconciler(fake, nil, logging.NopLogger{})

	plan, err := r.Sync(context.Background(), master, strategy.WindowConfig{Buy: 2, Sell: 2})
	require.NoError(t, err)

	creates := 0
	for _, a := range plan.Actions {
		if a.Kind == strategy.Create {
			creates++
		}
	}
	assert.Equal(t, 4, creates)
}

func TestSync_CancelsExcessFarthestFirst(t *testing.T) {
	master := buildTestMaster(t)
	var buySlots []*grid.Slot
	for _, s := range master.Slots {
		if s.Type == grid.BUY {
			buySlots = append(buySlots, s)
		}
	}
	require.GreaterOrEqual(t, len(buySlots), 2)
	var liveOrders []exchange.OpenOrder
	for i, s := range buySlots {
		id := fmt.Sprintf("ex-buy-%d", i)
		s.State = grid.ACTIVE
		s.ExchangeOrderID = id
		s.Size = 100
		liveOrders = append(liveOrders, exchange.OpenOrder{ID: id, SellAmount: 100, Price: s.Price.String()})
	}

	fake := &fakeOrderLister{orders: liveOrders}
	r := NewReconciler(fake, nil, logging.NopLogger{})
	plan, err := r.Sync(context.Background(), master, strategy.WindowConfig{Buy: 1, Sell: 0})
	require.NoError(t, err)

	closest := buySlots[len(buySlots)-1] // slots ascend by price; the highest BUY is closest to market
	cancels := 0
	for _, a := range plan.Actions {
		if a.Kind == strategy.Cancel {
			cancels++
			assert.NotEqual(t, closest.ID, a.SlotID, "the BUY order closest to market must be kept")
		}
	}
	assert.Equal(t, len(buySlots)-1, cancels)
}

type fakeOrderLister struct {
	orders []exchange.OpenOrder
}

func (f *fakeOrderLister) ReadAccountTotals(ctx context.Context, assetID string) (exchange.AccountTotals, error) {
	return exchange.AccountTotals{}, nil
}
func (f *fakeOrderLister) ReadOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	return f.orders, nil
}
func (f *fakeOrderLister) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (string, error) {
	return "id", nil
}
func (f *fakeOrderLister) UpdateOrder(ctx context.Context, req exchange.UpdateOrderRequest) error {
	return nil
}
func (f *fakeOrderLister) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeOrderLister) Fills(ctx context.Context) (<-chan exchange.Fill, error) {
	return nil, nil
}

var _ exchange.Client = (*fakeOrderLister)(nil)
