package grid

// Single source-of-truth constant block for the dust threshold and the
// minimum-spread factor. Per the design notes open question, these values
// appeared in multiple places with slightly different effects in the
// system this engine is modeled on; here they are defined exactly once
// and every consumer is listed so future changes stay coherent.
const (
	// MinSpreadFactor floors target_spread_percent at
	// increment_percent * MinSpreadFactor. Consumers: GapSize (this
	// package).
	MinSpreadFactor = 2.0

	// MinSpreadOrders is the minimum gap width in slots, regardless of
	// how small the computed logarithmic gap would otherwise be.
	// Consumers: GapSize (this package).
	MinSpreadOrders = 1

	// PartialDustThresholdPercent is the percentage of a slot's ideal
	// size below which an on-book order is considered dust: a shortage
	// if it's the only thing occupying an in-target slot, a surplus if
	// it's outside the target window. Consumers: internal/strategy
	// (shortage/surplus/healthy classification, partial handling,
	// rebalance-skip predicate), internal/reconcile (DustBothSides,
	// which Sync does not call).
	PartialDustThresholdPercent = 1.0
)
