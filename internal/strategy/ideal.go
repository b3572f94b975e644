package strategy

import (
	"math"

	"gridmm/internal/grid"
	"gridmm/internal/money"
)

// windowSlots returns the indices of the target window for a side,
// ordered closest-to-market first: for BUY that is descending from the
// boundary; for SELL that is ascending from boundary+gap+1 (spec §4.2
// tie-breaking rules: "BUY side is sorted descending by price... SELL
// ascending").
func windowSlots(g *grid.Grid, side grid.Type, windowSize int) []int {
	var indices []int
	switch side {
	case grid.BUY:
		for i := g.BoundaryIndex; i >= 0 && len(indices) < windowSize; i-- {
			indices = append(indices, i)
		}
	case grid.SELL:
		start := g.BoundaryIndex + g.Gap + 1
		for i := start; i < len(g.Slots) && len(indices) < windowSize; i++ {
			indices = append(indices, i)
		}
	}
	return indices
}

// idealSizes computes the geometric weight distribution of spec §4.2
// step 4: slot k (0 = closest to market) within the side gets weight
// (1 - increment/100)^(k*w), normalized to sum to 1 and scaled by the
// side's total budget, then round-tripped through float->int->float at
// the side's precision so ideal sizes are exactly representable.
func idealSizes(indices []int, totalBudget money.Amount, weight, incrementPercent float64, precision int) (map[int]money.Amount, error) {
	result := make(map[int]money.Amount, len(indices))
	if len(indices) == 0 || totalBudget <= 0 {
		for _, idx := range indices {
			result[idx] = 0
		}
		return result, nil
	}

	base := 1 - incrementPercent/100
	weights := make([]float64, len(indices))
	var sum float64
	for k := range indices {
		w := math.Pow(base, float64(k)*weight)
		weights[k] = w
		sum += w
	}

	budgetF, err := money.AmountToFloat(totalBudget, precision)
	if err != nil {
		return nil, err
	}

	for k, idx := range indices {
		share := weights[k] / sum * budgetF
		rounded, err := money.RoundFloat(share, precision)
		if err != nil {
			return nil, err
		}
		amt, err := money.FloatToAmount(rounded, precision)
		if err != nil {
			return nil, err
		}
		result[idx] = amt
	}
	return result, nil
}

// dustAmount returns PartialDustThresholdPercent of ideal, the threshold
// below which an on-book order is dust (spec §4.2 step 5).
func dustAmount(ideal money.Amount) money.Amount {
	if ideal <= 0 {
		return 0
	}
	thresholdF := float64(ideal) * grid.PartialDustThresholdPercent / 100
	return money.Amount(thresholdF)
}
