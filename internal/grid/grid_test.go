package grid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridmm/internal/money"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testPair() money.Pair {
	return money.Pair{
		A: money.Asset{ID: "BTS", Symbol: "BTS", Precision: 5},
		B: money.Asset{ID: "USD", Symbol: "USD", Precision: 4},
	}
}

func TestValidateGeometry(t *testing.T) {
	assert.NoError(t, ValidateGeometry(dec("0.02"), dec("0.01"), dec("0.04"), dec("1")))
	assert.Error(t, ValidateGeometry(dec("0.02"), dec("0.04"), dec("0.01"), dec("1")), "min >= max must fail")
	assert.Error(t, ValidateGeometry(dec("0.1"), dec("0.01"), dec("0.04"), dec("1")), "start outside range must fail")
	assert.Error(t, ValidateGeometry(dec("0.02"), dec("0.01"), dec("0.04"), dec("0")), "increment must be > 0")
	assert.Error(t, ValidateGeometry(dec("0.02"), dec("0.01"), dec("0.04"), dec("100")), "increment must be < 100")
}

func TestBuildLadder_CoversRangeAndIsSorted(t *testing.T) {
	prices, err := BuildLadder(dec("0.02"), dec("0.01"), dec("0.04"), dec("1"))
	require.NoError(t, err)
	require.NotEmpty(t, prices)

	for i := 1; i < len(prices); i++ {
		assert.True(t, prices[i].GreaterThan(prices[i-1]), "ladder must be strictly ascending")
	}
	assert.True(t, prices[0].LessThanOrEqual(dec("0.02")))
	assert.True(t, prices[len(prices)-1].GreaterThanOrEqual(dec("0.02")))
}

func TestGapSize_FloorsAtMinSpreadFactor(t *testing.T) {
	// target spread smaller than increment*MinSpreadFactor should be
	// floored, producing the same gap as passing the floor directly.
	gapSmall := GapSize(dec("0.5"), dec("1"))
	gapFloor := GapSize(dec("2"), dec("1")) // 1 * MinSpreadFactor(2) = 2
	assert.Equal(t, gapFloor, gapSmall)
	assert.GreaterOrEqual(t, gapSmall, MinSpreadOrders)
}

func TestGapSize_AtLeastMinSpreadOrders(t *testing.T) {
	gap := GapSize(dec("0.0001"), dec("50"))
	assert.GreaterOrEqual(t, gap, MinSpreadOrders)
}

func TestInitialBoundary_StraddlesStartPrice(t *testing.T) {
	prices, err := BuildLadder(dec("0.02"), dec("0.01"), dec("0.04"), dec("1"))
	require.NoError(t, err)

	gap := GapSize(dec("2"), dec("1"))
	boundary := InitialBoundary(prices, dec("0.02"), gap)

	require.GreaterOrEqual(t, boundary, 0)
	require.Less(t, boundary, len(prices))

	// the gap window [boundary+1, boundary+gap] should bracket start_price
	if boundary+1 < len(prices) {
		assert.True(t, prices[boundary].LessThanOrEqual(dec("0.02")) || boundary == 0)
	}
}

func TestBuildGrid_RoleAssignmentMatchesBoundaryAndGap(t *testing.T) {
	g, err := BuildGrid(testPair(), dec("0.02"), dec("0.01"), dec("0.04"), dec("1"), dec("2"))
	require.NoError(t, err)
	require.NotNil(t, g)

	for i, s := range g.Slots {
		want := RoleForIndex(g.BoundaryIndex, g.Gap, i)
		assert.Equal(t, want, s.Type, "slot %d role mismatch", i)
		if want == SPREAD {
			assert.Equal(t, VIRTUAL, s.State)
			assert.Equal(t, money.Amount(0), s.Size)
		}
	}
}

func TestReassignRoles_DefersOnBookSlotsForcedToSpread(t *testing.T) {
	g, err := BuildGrid(testPair(), dec("0.02"), dec("0.01"), dec("0.04"), dec("1"), dec("2"))
	require.NoError(t, err)

	// Put the boundary slot (the innermost BUY) on-book so a boundary
	// shift that would reassign it to SPREAD must defer instead.
	idx := g.BoundaryIndex
	g.Slots[idx].State = ACTIVE
	g.Slots[idx].ExchangeOrderID = "ex-1"
	g.Slots[idx].Size = 100
	oldType := g.Slots[idx].Type

	deferred := g.ReassignRoles(g.BoundaryIndex-2, g.Gap)

	assert.Contains(t, deferred, idx)
	assert.Equal(t, oldType, g.Slots[idx].Type, "on-book slot must not be force-reassigned to SPREAD")
}

func TestClampBoundary(t *testing.T) {
	assert.Equal(t, 0, ClampBoundary(-5, 10))
	assert.Equal(t, 9, ClampBoundary(100, 10))
	assert.Equal(t, 5, ClampBoundary(5, 10))
	assert.Equal(t, 0, ClampBoundary(5, 0))
}

func TestSlot_CoercePhantom(t *testing.T) {
	s := &Slot{State: ACTIVE, ExchangeOrderID: "", Size: 100}
	assert.True(t, s.CoercePhantom())
	assert.Equal(t, VIRTUAL, s.State)
	assert.Equal(t, money.Amount(0), s.Size)

	s2 := &Slot{State: ACTIVE, ExchangeOrderID: "ex-1", Size: 100}
	assert.False(t, s2.CoercePhantom())

	s3 := &Slot{State: PARTIAL, ExchangeOrderID: "ex-2", Size: 0}
	assert.True(t, s3.CoercePhantom())
}

func TestGrid_SnapshotIsDeepCopy(t *testing.T) {
	g, err := BuildGrid(testPair(), dec("0.02"), dec("0.01"), dec("0.04"), dec("1"), dec("2"))
	require.NoError(t, err)

	snap := g.Snapshot()
	snap.Slots[0].Size = 999

	orig, err := g.SlotAt(0)
	require.NoError(t, err)
	assert.NotEqual(t, money.Amount(999), orig.Size)
}
