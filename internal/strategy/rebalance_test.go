package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridmm/internal/accountant"
	"gridmm/internal/grid"
	"gridmm/internal/money"
	"gridmm/pkg/logging"
)

func testPair() money.Pair {
	return money.Pair{
		A: money.Asset{ID: "BTS", Symbol: "BTS", Precision: 5},
		B: money.Asset{ID: "USD", Symbol: "USD", Precision: 4},
	}
}

func buildTestGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.BuildGrid(testPair(), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.01"), decimal.RequireFromString("0.04"), decimal.RequireFromString("1"), decimal.RequireFromString("2"))
	require.NoError(t, err)
	return g
}

func testParams() Params {
	return Params{
		Window:           WindowConfig{Buy: 3, Sell: 3},
		Weight:           SideFloat{Buy: 1, Sell: 1},
		IncrementPercent: 1,
		NativeAssetID:    "",
	}
}

func testFunds() accountant.Funds {
	var f accountant.Funds
	f.ChainFree[money.SideA] = 100000
	f.ChainFree[money.SideB] = 100000
	f.Available[money.SideA] = 100000
	f.Available[money.SideB] = 100000
	return f
}

// S3: one-sided dust alone must not trigger a rebalance (R2).
func TestRebalance_OneSidedDustNoFills_EmptyPlan(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()

	idx := windowSlots(g, grid.BUY, params.Window.Buy)
	require.NotEmpty(t, idx)
	g.Slots[idx[0]].State = grid.PARTIAL
	g.Slots[idx[0]].ExchangeOrderID = "ex-1"
	g.Slots[idx[0]].Size = 1 // well under any ideal size, dust

	plan, err := s.Rebalance(g, testFunds(), nil, params)
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "one-sided dust with zero fills must not trigger a rebalance")
}

// S4: dust on both sides simultaneously does trigger a rebalance.
func TestRebalance_DualSideDust_Triggers(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()

	buyIdx := windowSlots(g, grid.BUY, params.Window.Buy)
	sellIdx := windowSlots(g, grid.SELL, params.Window.Sell)
	require.NotEmpty(t, buyIdx)
	require.NotEmpty(t, sellIdx)

	g.Slots[buyIdx[0]].State = grid.PARTIAL
	g.Slots[buyIdx[0]].ExchangeOrderID = "ex-buy"
	g.Slots[buyIdx[0]].Size = 1

	g.Slots[sellIdx[0]].State = grid.PARTIAL
	g.Slots[sellIdx[0]].ExchangeOrderID = "ex-sell"
	g.Slots[sellIdx[0]].Size = 1

	plan, err := s.Rebalance(g, testFunds(), nil, params)
	require.NoError(t, err)
	assert.False(t, plan.Empty(), "dust on both sides must trigger a rebalance cycle")
}

// S1: cold start against a freshly built grid (nothing on book, zero
// fills, zero dust) must still seed the ladder rather than hit the
// steady-state rebalance-skip predicate.
func TestRebalance_ColdStartSeedsLadderDespiteNoFills(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()

	plan, err := s.Rebalance(g, testFunds(), nil, params)
	require.NoError(t, err)
	require.False(t, plan.Empty(), "cold start must produce CREATE actions")

	creates := 0
	for _, a := range plan.Actions {
		if a.Kind == Create {
			creates++
		}
		assert.NotEqual(t, Update, a.Kind, "cold start has nothing to update")
		assert.NotEqual(t, Cancel, a.Kind, "cold start has nothing to cancel")
	}
	assert.LessOrEqual(t, creates, 6)
	assert.Greater(t, creates, 0)
}

// S1/S2-style: a full fill shifts the boundary and produces a non-empty plan.
func TestRebalance_FullFillShiftsBoundaryAndProducesPlan(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()
	startBoundary := g.BoundaryIndex

	fills := []FillEvent{{SlotIndex: g.BoundaryIndex, Side: grid.SELL, IsPartial: false}}
	plan, err := s.Rebalance(g, testFunds(), fills, params)
	require.NoError(t, err)
	assert.False(t, plan.Empty())
	assert.Equal(t, startBoundary+1, plan.NewBoundary)
}

// B1: boundary shift must clamp at the grid edges rather than go out of range.
func TestRebalance_BoundaryClampsAtEdge(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()

	var fills []FillEvent
	for i := 0; i < g.Len()+5; i++ {
		fills = append(fills, FillEvent{Side: grid.BUY, IsPartial: false})
	}

	plan, err := s.Rebalance(g, testFunds(), fills, params)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.NewBoundary, 0)
	assert.Less(t, plan.NewBoundary, g.Len())
}

// Reaction cap: the number of rotate/create actions per side must not exceed
// the number of full fills observed this cycle.
func TestRebalance_ReactionCapLimitsActionsPerCycle(t *testing.T) {
	s := New(logging.NopLogger{})
	g := buildTestGrid(t)
	params := testParams()

	fills := []FillEvent{{Side: grid.SELL, IsPartial: false}}
	plan, err := s.Rebalance(g, testFunds(), fills, params)
	require.NoError(t, err)

	buyActions := 0
	for _, a := range plan.Actions {
		if a.Side == grid.BUY && a.Kind != Cancel {
			buyActions++
		}
	}
	assert.LessOrEqual(t, buyActions, 1, "one full fill must cap restructuring actions on the reacting side to one")
}

func TestWindowSlots_BuyDescendingSellAscending(t *testing.T) {
	g := buildTestGrid(t)
	buy := windowSlots(g, grid.BUY, 3)
	for i := 1; i < len(buy); i++ {
		assert.Greater(t, buy[i-1], buy[i])
	}
	sell := windowSlots(g, grid.SELL, 3)
	for i := 1; i < len(sell); i++ {
		assert.Less(t, sell[i-1], sell[i])
	}
}

func TestIdealSizes_SumsCloseToBudget(t *testing.T) {
	g := buildTestGrid(t)
	idx := windowSlots(g, grid.BUY, 3)
	sizes, err := idealSizes(idx, 9000, 1, 1, 4)
	require.NoError(t, err)
	var sum money.Amount
	for _, v := range sizes {
		sum += v
	}
	assert.InDelta(t, 9000, int64(sum), 100)
}

func TestIdealSizes_ZeroBudgetYieldsZeroSizes(t *testing.T) {
	idx := []int{0, 1, 2}
	sizes, err := idealSizes(idx, 0, 1, 1, 4)
	require.NoError(t, err)
	for _, v := range sizes {
		assert.Equal(t, money.Amount(0), v)
	}
}
