package money

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestAddSub(t *testing.T) {
	a := FromCents(1050, USD)
	b := FromCents(450, USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, int64(1500), sum.Cents())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, int64(600), diff.Cents())
}

func TestCurrencyMismatch(t *testing.T) {
	a := FromCents(100, USD)
	b := FromCents(100, EUR)

	_, err := a.Add(b)
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Sub(b)
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = Min(a, b)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestPercentRounding(t *testing.T) {
	// 10.01 increased by 10% is 11.011, which rounds to 11.01.
	m := FromCents(1001, USD).IncreasePercent(10)
	require.Equal(t, int64(1101), m.Cents())

	// 10.05 increased by 10% is 11.055, half rounds away from zero to 11.06.
	m = FromCents(1005, USD).IncreasePercent(10)
	require.Equal(t, int64(1106), m.Cents())

	// 10.00 reduced by 25% is 7.50 exactly.
	m = FromCents(1000, USD).ReducePercent(25)
	require.Equal(t, int64(750), m.Cents())

	// -10.05 increased by 10% is -11.055, half away from zero gives -11.06.
	m = FromCents(-1005, USD).IncreasePercent(10)
	require.Equal(t, int64(-1106), m.Cents())
}

func TestMinAndPredicates(t *testing.T) {
	a := FromCents(200, USD)
	b := FromCents(300, USD)

	least, err := Min(a, b)
	require.NoError(t, err)
	require.True(t, least.Equal(a))

	require.True(t, Zero(USD).IsZero())
	require.True(t, a.IsPositive())
	require.True(t, FromCents(-1, USD).IsNegative())
	require.True(t, a.Less(b))
}

func TestString(t *testing.T) {
	require.Equal(t, "USD 10.50", FromCents(1050, USD).String())
	require.Equal(t, "USD -0.05", FromCents(-5, USD).String())
}

func TestFormatIsDisplayOnly(t *testing.T) {
	out := FromCents(1050, USD).Format(language.AmericanEnglish)
	require.NotEmpty(t, out)
	// Unknown currency codes fall back to the plain representation.
	require.Equal(t, "XXZ 1.00", FromCents(100, Currency("XXZ")).Format(language.AmericanEnglish))
}
