// Package money implements integer-exact conversion between displayed
// floats and chain-native integer units at per-asset precision. This is
// component A: every other subsystem transports and stores amounts as
// Amount (an integer count of 10^-p units); floats exist only at the
// display boundary and wherever an external API hands one back.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is an integer count of 10^-precision units of some asset. It is
// never a float: every arithmetic operation on committed, chain, or cache
// funds happens in this type.
type Amount int64

// Asset identifies a tradeable unit: a display symbol and the integer
// decimal precision p used to convert between Amount and float64.
type Asset struct {
	ID        string
	Symbol    string
	Precision int
}

// Pair is exactly two assets: A (base) and B (quote). A BUY order sells B
// to acquire A; a SELL order sells A to acquire B (spec §3). Sizes are
// denominated in the asset sold: SELL size in A-units, BUY size in
// B-units, invariant across every subsystem that touches a Pair.
type Pair struct {
	A Asset
	B Asset
}

// Side identifies one of the two assets in a Pair by role, not by which
// asset it happens to be — BUY/SELL semantics are layered on top in the
// grid package.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

func validatePrecision(p int) error {
	if p < 0 {
		return fmt.Errorf("money: precision must be non-negative, got %d", p)
	}
	return nil
}

// pow10 returns 10^p as a decimal.Decimal, p >= 0.
func pow10(p int) decimal.Decimal {
	return decimal.New(1, int32(p))
}

// FloatToAmount converts a displayed float into an Amount at the given
// precision, rounding to the nearest integer unit (round-half-away-from-zero
// via shopspring/decimal's banker-avoiding Round, matching the exchange's
// own integer-unit rounding). Implements the float->int half of R1.
func FloatToAmount(x float64, precision int) (Amount, error) {
	if err := validatePrecision(precision); err != nil {
		return 0, err
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("money: value %v is not finite", x)
	}

	d := decimal.NewFromFloat(x).Mul(pow10(precision)).Round(0)
	if !d.IsInteger() {
		// unreachable after Round(0), but keep the engine honest
		return 0, fmt.Errorf("money: internal rounding produced non-integer %s", d.String())
	}

	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("money: amount %s overflows int64 atomic units", d.String())
	}
	return Amount(bi.Int64()), nil
}

// AmountToFloat converts an Amount back into a displayed float at the
// given precision. Implements the int->float half of R1.
func AmountToFloat(a Amount, precision int) (float64, error) {
	if err := validatePrecision(precision); err != nil {
		return 0, err
	}
	d := decimal.NewFromInt(int64(a)).Div(pow10(precision))
	f, _ := d.Float64()
	return f, nil
}

// RoundFloat rounds x to precision decimal digits the same way the
// float->int->float round trip would, without allocating an Amount. Used
// by the strategy's ideal-size computation (spec §4.2 step 4: "round-trip
// each ideal through float -> int(at precision) -> float").
func RoundFloat(x float64, precision int) (float64, error) {
	a, err := FloatToAmount(x, precision)
	if err != nil {
		return 0, err
	}
	return AmountToFloat(a, precision)
}

// Add returns a+b. Amounts are plain integers so overflow is the caller's
// responsibility at the scale this engine operates (exchange-native
// integer units always fit int64).
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a > 0 }

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Tolerance computes max(precision_slack, amount*eps) per spec I1/P4,
// where precision_slack = 10^-p expressed in atomic units (i.e. 1 unit)
// and eps defaults to 0.1%.
func Tolerance(total Amount, precision int, eps float64) Amount {
	if eps <= 0 {
		eps = 0.001
	}
	precisionSlack := Amount(1) // 10^-p in atomic units is exactly 1 unit
	scaled := decimal.NewFromInt(int64(total)).Mul(decimal.NewFromFloat(eps)).Round(0)
	bi := scaled.BigInt()
	var scaledAmount Amount
	if bi.IsInt64() {
		scaledAmount = Amount(bi.Int64())
	} else {
		scaledAmount = Amount(math.MaxInt64)
	}
	if scaledAmount < 0 {
		scaledAmount = -scaledAmount
	}
	return Max(precisionSlack, scaledAmount)
}

// WithinTolerance reports whether |a-b| <= tolerance.
func WithinTolerance(a, b, tolerance Amount) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
