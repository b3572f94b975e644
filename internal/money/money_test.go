package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatToAmount_AmountToFloat_RoundTrip(t *testing.T) {
	cases := []struct {
		x         float64
		precision int
	}{
		{0.02, 5},
		{1234.56789, 4},
		{0, 8},
		{100, 0},
		{0.00001, 5},
	}

	for _, c := range cases {
		a, err := FloatToAmount(c.x, c.precision)
		require.NoError(t, err)

		back, err := AmountToFloat(a, c.precision)
		require.NoError(t, err)

		want := math.Round(c.x*math.Pow(10, float64(c.precision))) / math.Pow(10, float64(c.precision))
		assert.InDelta(t, want, back, 1e-12, "round trip for %v at precision %d", c.x, c.precision)
	}
}

func TestFloatToAmount_RejectsNonFinite(t *testing.T) {
	_, err := FloatToAmount(math.NaN(), 5)
	assert.Error(t, err)

	_, err = FloatToAmount(math.Inf(1), 5)
	assert.Error(t, err)
}

func TestFloatToAmount_RejectsNegativePrecision(t *testing.T) {
	_, err := FloatToAmount(1.0, -1)
	assert.Error(t, err)
}

func TestRoundFloat_IsIdempotent(t *testing.T) {
	once, err := RoundFloat(1.23456789, 4)
	require.NoError(t, err)

	twice, err := RoundFloat(once, 4)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestTolerance_UsesPrecisionSlackFloor(t *testing.T) {
	tol := Tolerance(10, 5, 0.001)
	assert.Equal(t, Amount(1), tol, "tiny totals should floor at precision_slack")
}

func TestTolerance_ScalesWithAmount(t *testing.T) {
	tol := Tolerance(1_000_000, 5, 0.001)
	assert.Equal(t, Amount(1000), tol)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(100, 105, 5))
	assert.False(t, WithinTolerance(100, 106, 5))
	assert.True(t, WithinTolerance(-100, -105, 5))
}

func TestAmount_AddSubHelpers(t *testing.T) {
	a := Amount(10)
	b := Amount(3)
	assert.Equal(t, Amount(13), a.Add(b))
	assert.Equal(t, Amount(7), a.Sub(b))
	assert.Equal(t, Amount(10), Max(a, b))
	assert.Equal(t, Amount(3), Min(a, b))
	assert.True(t, Amount(0).IsZero())
	assert.True(t, a.IsPositive())
}
