package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/money"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, "$12.99", money.Format(1299))
	require.Equal(t, "$0.00", money.Format(0))
	require.Equal(t, "$0.05", money.Format(5))
	require.Equal(t, "$1234.50", money.Format(123450))
	require.Equal(t, "-$5.00", money.Format(-500))
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]money.Cents{
		"$12.99":    1299,
		"12.99":     1299,
		"12":        1200,
		" $0.05 ":   5,
		"$1,234.50": 123450,
		"12.995":    1300,
		"12.994":    1299,
		"-$5.00":    -500,
	}
	for in, want := range cases {
		got, err := money.Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "$", "abc", "$12.x", "--1", "$-3"} {
		_, err := money.Parse(bad)
		require.ErrorIs(t, err, money.ErrInvalidPrice, bad)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []money.Cents{0, 1, 9, 10, 99, 100, 101, 1299, 4894, 100000, 123456789} {
		got, err := money.Parse(money.Format(n))
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestRoundingHalfUp(t *testing.T) {
	t.Parallel()

	require.Equal(t, money.Cents(394), money.MulRate(4500, decimal.RequireFromString("0.0875")))
	require.Equal(t, money.Cents(500), money.Percent(5000, decimal.NewFromInt(10)))
	require.Equal(t, money.Cents(8), money.Percent(15, decimal.NewFromInt(50)))
	require.Equal(t, money.Cents(3), money.FromDecimal(decimal.RequireFromString("2.5")))
	require.Equal(t, money.Cents(0), money.Clamp(-10))
}

func TestFromDecimalSaturates(t *testing.T) {
	t.Parallel()

	require.Equal(t, money.MaxCents, money.FromDecimal(decimal.RequireFromString("5e19")))
	require.Equal(t, money.Cents(0), money.FromDecimal(decimal.RequireFromString("-12.4")))
}

func TestSumSaturates(t *testing.T) {
	t.Parallel()

	require.Equal(t, money.Cents(600), money.Sum(100, 200, 300))
	require.Equal(t, money.Cents(100), money.Sum(100, -50))
	require.Equal(t, money.MaxCents, money.Sum(money.MaxCents, 1))
	require.Equal(t, money.MaxCents, money.Sum(money.MaxCents-1, money.MaxCents))
}
