// Package money implements the integer-cent monetary value type used by the
// settlement core. All arithmetic is exact; mixing currencies is a hard error.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Currency tags a monetary amount. Values are ISO 4217 codes.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// ErrCurrencyMismatch is returned when arithmetic mixes currencies.
var ErrCurrencyMismatch = fmt.Errorf("money: currency mismatch")

// Money is an amount of integer cents in a single currency.
type Money struct {
	cents    int64
	currency Currency
}

// FromCents builds a Money from a raw cent count.
func FromCents(cents int64, cur Currency) Money {
	return Money{cents: cents, currency: cur}
}

// Zero returns the zero amount in the given currency.
func Zero(cur Currency) Money {
	return Money{currency: cur}
}

// Cents returns the raw cent count.
func (m Money) Cents() int64 { return m.cents }

// Currency returns the currency tag.
func (m Money) Currency() Currency { return m.currency }

// Add returns m + other, failing on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{cents: m.cents + other.cents, currency: m.currency}, nil
}

// Sub returns m - other, failing on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{cents: m.cents - other.cents, currency: m.currency}, nil
}

// MustAdd is Add for amounts already known to share a currency.
func (m Money) MustAdd(other Money) Money {
	out, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return out
}

// MustSub is Sub for amounts already known to share a currency.
func (m Money) MustSub(other Money) Money {
	out, err := m.Sub(other)
	if err != nil {
		panic(err)
	}
	return out
}

// IncreasePercent returns m increased by pct percent, rounded to the nearest
// cent (half away from zero).
func (m Money) IncreasePercent(pct float64) Money {
	return m.scale(decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))))
}

// ReducePercent returns m reduced by pct percent, rounded to the nearest cent
// (half away from zero).
func (m Money) ReducePercent(pct float64) Money {
	return m.scale(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))))
}

// scale multiplies the cent count by factor. decimal.Round rounds half away
// from zero, which is the required cent-rounding rule.
func (m Money) scale(factor decimal.Decimal) Money {
	cents := decimal.NewFromInt(m.cents).Mul(factor).Round(0).IntPart()
	return Money{cents: cents, currency: m.currency}
}

// Min returns the smaller of two same-currency amounts.
func Min(a, b Money) (Money, error) {
	if a.currency != b.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	if a.cents <= b.cents {
		return a, nil
	}
	return b, nil
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.cents == other.cents && m.currency == other.currency
}

// Less reports m < other; both must share a currency for the result to be
// meaningful.
func (m Money) Less(other Money) bool { return m.cents < other.cents }

// IsZero reports a zero amount.
func (m Money) IsZero() bool { return m.cents == 0 }

// IsPositive reports a strictly positive amount.
func (m Money) IsPositive() bool { return m.cents > 0 }

// IsNegative reports a strictly negative amount.
func (m Money) IsNegative() bool { return m.cents < 0 }

// String renders a plain machine-friendly representation, e.g. "USD 10.50".
func (m Money) String() string {
	sign := ""
	cents := m.cents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", m.currency, sign, cents/100, cents%100)
}

// Format renders a locale-specific display string. Display only; value
// semantics live in the cent count.
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(string(m.currency))
	if err != nil {
		return m.String()
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.Symbol(unit.Amount(float64(m.cents) / 100)))
}
