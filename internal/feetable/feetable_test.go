package feetable

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridmm/internal/money"
)

func sampleFees() AssetFees {
	return AssetFees{
		Asset:           money.Asset{ID: "BTS", Symbol: "BTS", Precision: 5},
		CreateFee:       10,
		CancelFee:       0,
		UpdateFee:       5,
		MakerFeePercent: decimal.NewFromFloat(0.1),
		TakerFeePercent: decimal.NewFromFloat(0.3),
	}
}

func TestTable_SetLookupFreeze(t *testing.T) {
	tbl := New()
	tbl.Set(sampleFees())

	f, ok := tbl.Lookup("BTS")
	require.True(t, ok)
	assert.Equal(t, money.Amount(10), f.CreateFee)

	tbl.Freeze()
	assert.Panics(t, func() { tbl.Set(sampleFees()) })
}

func TestTable_LookupMiss(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup("NOPE")
	assert.False(t, ok)
}

func TestMarketFeePercent_MakerVsTaker(t *testing.T) {
	tbl := New()
	tbl.Set(sampleFees())

	maker, ok := tbl.MarketFeePercent("BTS", true)
	require.True(t, ok)
	assert.True(t, maker.Equal(decimal.NewFromFloat(0.1)))

	taker, ok := tbl.MarketFeePercent("BTS", false)
	require.True(t, ok)
	assert.True(t, taker.Equal(decimal.NewFromFloat(0.3)))
}

func TestApplyMarketFee_Computes(t *testing.T) {
	tbl := New()
	tbl.Set(sampleFees())

	net, fee, ok := ApplyMarketFee(tbl, "BTS", 100000, 5, true)
	require.True(t, ok)
	assert.Equal(t, money.Amount(100), fee) // 0.1% of 100000
	assert.Equal(t, money.Amount(99900), net)
}

func TestApplyMarketFee_MissDegradesGracefully(t *testing.T) {
	tbl := New()
	net, fee, ok := ApplyMarketFee(tbl, "UNKNOWN", 100000, 5, true)
	assert.False(t, ok)
	assert.Equal(t, money.Amount(100000), net)
	assert.Equal(t, money.Amount(0), fee)
}
