// Package feetable caches per-asset fee parameters: create/cancel/update
// operation fees and maker/taker market-fee percentages (component B).
// It is process-wide, read-only after initialization (spec §9 "global
// state: the fee cache and asset-metadata cache... a frozen value handed
// to each bot on construction").
package feetable

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"gridmm/internal/money"
)

// AssetFees holds the fee parameters for one asset.
type AssetFees struct {
	Asset money.Asset

	// Native operation fees, denominated in this asset's own units, paid
	// to create/cancel/update an on-book order when this asset is the
	// chain's fee asset.
	CreateFee money.Amount
	CancelFee money.Amount
	UpdateFee money.Amount

	// Market-fee percentages applied to trade proceeds.
	MakerFeePercent decimal.Decimal
	TakerFeePercent decimal.Decimal
}

// Table is a frozen, read-only-after-Freeze cache of AssetFees keyed by
// asset id. It is safe for concurrent reads; Set is only intended to be
// called during process startup before the table is handed to any bot.
type Table struct {
	mu     sync.RWMutex
	fees   map[string]AssetFees
	frozen bool
}

// New creates an empty, mutable fee table.
func New() *Table {
	return &Table{fees: make(map[string]AssetFees)}
}

// Set installs the fee parameters for an asset. It panics if called after
// Freeze, because the table is meant to be a process-wide constant handed
// to every bot — mutating it post-freeze would violate that contract.
func (t *Table) Set(f AssetFees) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic("feetable: Set called after Freeze")
	}
	t.fees[f.Asset.ID] = f
}

// Freeze marks the table read-only. Subsequent Set calls panic.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Lookup returns the fee parameters for assetID.
func (t *Table) Lookup(assetID string) (AssetFees, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.fees[assetID]
	return f, ok
}

// MarketFeePercent returns the maker or taker fee percentage for
// assetID. A miss returns zero and false; callers apply the "fee cache
// miss" degradation of spec §7: log, use raw proceeds, continue.
func (t *Table) MarketFeePercent(assetID string, isMaker bool) (decimal.Decimal, bool) {
	f, ok := t.Lookup(assetID)
	if !ok {
		return decimal.Zero, false
	}
	if isMaker {
		return f.MakerFeePercent, true
	}
	return f.TakerFeePercent, true
}

// ApplyMarketFee returns proceeds minus the market fee, and the fee
// amount deducted, rounded to the asset's own precision. A missing fee
// entry degrades gracefully: the raw proceeds are returned unchanged and
// ok is false so the caller can log the cache miss (spec §7).
func ApplyMarketFee(t *Table, assetID string, proceeds money.Amount, precision int, isMaker bool) (net money.Amount, fee money.Amount, ok bool) {
	pct, found := t.MarketFeePercent(assetID, isMaker)
	if !found {
		return proceeds, 0, false
	}
	feeDec := decimal.NewFromInt(int64(proceeds)).Mul(pct).Div(decimal.NewFromInt(100)).Round(0)
	bi := feeDec.BigInt()
	var feeAmt money.Amount
	if bi.IsInt64() {
		feeAmt = money.Amount(bi.Int64())
	}
	return proceeds - feeAmt, feeAmt, true
}

// String is a debug-friendly summary, used in logs on fee-table load.
func (f AssetFees) String() string {
	return fmt.Sprintf("%s: create=%d cancel=%d update=%d maker=%s%% taker=%s%%",
		f.Asset.Symbol, f.CreateFee, f.CancelFee, f.UpdateFee, f.MakerFeePercent.String(), f.TakerFeePercent.String())
}
