// Package oracle derives a reference price in B-per-A terms for
// start_price resolution and min/max "Nx" tokens (spec §6
// derive_price).
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode selects how the price is derived.
type Mode string

const (
	ModePool   Mode = "pool"
	ModeMarket Mode = "market"
	ModeAuto   Mode = "auto"
)

// PoolReserves is an AMM pair reserve snapshot.
type PoolReserves struct {
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal
}

// OrderBookTop is the best bid/ask, or the last trade price as a
// market-mode fallback when the book is empty.
type OrderBookTop struct {
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastTrade decimal.Decimal
	HasBook   bool
}

// Source supplies the raw quotes the oracle derives a price from.
// Implementations talk to the chain/exchange; this package only knows
// how to combine their outputs.
type Source interface {
	PoolReserves(ctx context.Context, assetA, assetB string) (PoolReserves, error)
	OrderBookTop(ctx context.Context, assetA, assetB string) (OrderBookTop, error)
}

// DerivePrice returns the B-per-A price per spec §6 derive_price.
func DerivePrice(ctx context.Context, src Source, assetA, assetB string, mode Mode) (decimal.Decimal, error) {
	switch mode {
	case ModePool:
		return poolPrice(ctx, src, assetA, assetB)
	case ModeMarket:
		return marketPrice(ctx, src, assetA, assetB)
	case ModeAuto:
		if p, err := poolPrice(ctx, src, assetA, assetB); err == nil {
			return p, nil
		}
		return marketPrice(ctx, src, assetA, assetB)
	default:
		return decimal.Zero, fmt.Errorf("oracle: unknown price mode %q", mode)
	}
}

func poolPrice(ctx context.Context, src Source, assetA, assetB string) (decimal.Decimal, error) {
	reserves, err := src.PoolReserves(ctx, assetA, assetB)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: pool reserves: %w", err)
	}
	if reserves.ReserveA.IsZero() {
		return decimal.Zero, fmt.Errorf("oracle: pool reserve for %s is zero", assetA)
	}
	return reserves.ReserveB.Div(reserves.ReserveA), nil
}

func marketPrice(ctx context.Context, src Source, assetA, assetB string) (decimal.Decimal, error) {
	top, err := src.OrderBookTop(ctx, assetA, assetB)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: order book: %w", err)
	}
	if top.HasBook && top.BestBid.IsPositive() && top.BestAsk.IsPositive() {
		return top.BestBid.Add(top.BestAsk).Div(decimal.NewFromInt(2)), nil
	}
	if top.LastTrade.IsPositive() {
		return top.LastTrade, nil
	}
	return decimal.Zero, fmt.Errorf("oracle: no book and no last trade for %s/%s", assetA, assetB)
}
