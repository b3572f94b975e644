package grid

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"gridmm/internal/money"
)

// BuildLadder constructs the geometric price ladder covering
// [minPrice, maxPrice] centered on startPrice, per spec §4.1. The sqrt(s)
// offset centers a slot *gap* symmetrically around start_price rather
// than placing a slot directly on it.
func BuildLadder(startPrice, minPrice, maxPrice, incrementPercent decimal.Decimal) ([]decimal.Decimal, error) {
	if err := ValidateGeometry(startPrice, minPrice, maxPrice, incrementPercent); err != nil {
		return nil, err
	}

	iF, _ := incrementPercent.Float64()
	sF := 1 + iF/100
	sqrtS := math.Sqrt(sF)

	start, _ := startPrice.Float64()
	min, _ := minPrice.Float64()
	max, _ := maxPrice.Float64()

	var levels []float64

	up := start * sqrtS
	for up <= max {
		levels = append(levels, up)
		up *= sF
	}

	down := start / sqrtS
	for down >= min {
		levels = append(levels, down)
		down /= sF
	}

	if len(levels) == 0 {
		return nil, fmt.Errorf("grid: no levels generated within [%s, %s]", minPrice, maxPrice)
	}

	sort.Float64s(levels)

	prices := make([]decimal.Decimal, len(levels))
	for i, lv := range levels {
		prices[i] = decimal.NewFromFloat(lv)
	}
	return prices, nil
}

// GapSize computes the SPREAD gap width in slots, per spec §4.1:
//
//	gap = max(MinSpreadOrders, ceil(ln(1+t/100) / ln(s)))
//
// with t floored at incrementPercent * MinSpreadFactor.
func GapSize(targetSpreadPercent, incrementPercent decimal.Decimal) int {
	iF, _ := incrementPercent.Float64()
	tF, _ := targetSpreadPercent.Float64()

	floor := iF * MinSpreadFactor
	if tF < floor {
		tF = floor
	}

	sF := 1 + iF/100
	gap := int(math.Ceil(math.Log(1+tF/100) / math.Log(sF)))
	if gap < MinSpreadOrders {
		gap = MinSpreadOrders
	}
	return gap
}

// InitialBoundary locates the first level at or above startPrice and
// returns boundary = thatIndex - floor(gap/2) - 1, so the gap straddles
// start_price (spec §4.1), clamped into [0, len(prices)-1].
func InitialBoundary(prices []decimal.Decimal, startPrice decimal.Decimal, gap int) int {
	idx := len(prices) - 1
	for i, p := range prices {
		if p.GreaterThanOrEqual(startPrice) {
			idx = i
			break
		}
	}
	boundary := idx - gap/2 - 1
	return ClampBoundary(boundary, len(prices))
}

// ValidateGeometry checks the construction preconditions of spec §4.1:
// start_price finite and within [min_price, max_price]; min_price <
// max_price; 0 < increment_percent < 100. Violations are fatal at
// construction.
func ValidateGeometry(startPrice, minPrice, maxPrice, incrementPercent decimal.Decimal) error {
	if !minPrice.LessThan(maxPrice) {
		return fmt.Errorf("grid: min_price (%s) must be less than max_price (%s)", minPrice, maxPrice)
	}
	if startPrice.LessThan(minPrice) || startPrice.GreaterThan(maxPrice) {
		return fmt.Errorf("grid: start_price (%s) must lie within [%s, %s]", startPrice, minPrice, maxPrice)
	}
	zero := decimal.Zero
	hundred := decimal.NewFromInt(100)
	if incrementPercent.LessThanOrEqual(zero) || incrementPercent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("grid: increment_percent (%s) must be in (0, 100)", incrementPercent)
	}
	return nil
}

// BuildSlots turns the raw price ladder into stable-id Slot records, all
// VIRTUAL with no size — the state every slot starts in (spec §3
// lifecycle).
func BuildSlots(prices []decimal.Decimal) []*Slot {
	slots := make([]*Slot, len(prices))
	for i, p := range prices {
		slots[i] = &Slot{
			ID:    fmt.Sprintf("slot-%d", i),
			Price: p,
			Type:  SPREAD,
			State: VIRTUAL,
		}
	}
	return slots
}

// BuildGrid is the full construction pipeline: geometry -> slots ->
// initial boundary/gap -> initial role assignment.
func BuildGrid(pair money.Pair, startPrice, minPrice, maxPrice, incrementPercent, targetSpreadPercent decimal.Decimal) (*Grid, error) {
	prices, err := BuildLadder(startPrice, minPrice, maxPrice, incrementPercent)
	if err != nil {
		return nil, err
	}

	gap := GapSize(targetSpreadPercent, incrementPercent)
	boundary := InitialBoundary(prices, startPrice, gap)

	slots := BuildSlots(prices)
	for i, s := range slots {
		s.Type = RoleForIndex(boundary, gap, i)
	}

	g := &Grid{
		Pair:          pair,
		Slots:         slots,
		BoundaryIndex: boundary,
		Gap:           gap,
	}
	return g, nil
}
