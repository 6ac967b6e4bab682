// Package money provides a fixed-point monetary amount used across
// pricing, charges, and commission splits.
//
// Amounts are stored as int64 minor units (cents for EUR/USD) with two
// decimal places. Arithmetic never mixes currencies.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const Decimals = 2

var (
	ErrInvalidAmount    = errors.New("money: invalid amount")
	ErrNegativeAmount   = errors.New("money: negative amount")
	ErrInvalidCurrency  = errors.New("money: invalid currency")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// Money is an amount in minor units of an ISO 4217 currency.
// The zero value is "no amount" and formats as 0.00 with no currency.
type Money struct {
	Amount   int64  `json:"-"`
	Currency string `json:"-"`
}

// New builds a Money from minor units and a currency code.
func New(amount int64, currency string) (Money, error) {
	if amount < 0 {
		return Money{}, ErrNegativeAmount
	}
	cur, ok := normalizeCurrency(currency)
	if !ok {
		return Money{}, ErrInvalidCurrency
	}
	return Money{Amount: amount, Currency: cur}, nil
}

// MustNew is New for trusted inputs (plan catalogues, tests). Panics on error.
func MustNew(amount int64, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse converts a decimal string (e.g. "149.50") and currency code into
// minor units (14950). Fractional digits beyond two are rejected, not
// silently truncated: prices are authored data, never computed residue.
func Parse(s, currency string) (Money, error) {
	cur, ok := normalizeCurrency(currency)
	if !ok {
		return Money{}, ErrInvalidCurrency
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Money{}, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return Money{}, ErrInvalidAmount
	}
	if len(frac) > Decimals {
		return Money{}, ErrInvalidAmount
	}
	for len(frac) < Decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	var amount int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return Money{}, ErrInvalidAmount
		}
		d := int64(r - '0')
		if amount > (1<<63-1-d)/10 {
			return Money{}, ErrInvalidAmount
		}
		amount = amount*10 + d
	}

	return Money{Amount: amount, Currency: cur}, nil
}

// Format renders the amount as a decimal string with exactly two
// decimal places (e.g. 14950 -> "149.50").
func (m Money) Format() string {
	neg := m.Amount < 0
	abs := m.Amount
	if neg {
		abs = -abs
	}
	s := fmt.Sprintf("%03d", abs)
	out := s[:len(s)-Decimals] + "." + s[len(s)-Decimals:]
	if neg {
		out = "-" + out
	}
	return out
}

// String renders amount and currency for logs ("149.50 EUR").
func (m Money) String() string {
	if m.Currency == "" {
		return m.Format()
	}
	return m.Format() + " " + m.Currency
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// Add returns m + other. Both sides must carry the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// MulInt returns m multiplied by a non-negative integer (nightly rate x nights).
func (m Money) MulInt(n int64) (Money, error) {
	if n < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{Amount: m.Amount * n, Currency: m.Currency}, nil
}

// SplitBps divides the amount into a basis-point fee and the remainder.
// The fee rounds down to the minor unit; the remainder absorbs the rounding
// so that fee + rest == m exactly. 40000 split at 500bps -> (2000, 38000).
func (m Money) SplitBps(bps int64) (fee Money, rest Money) {
	if bps < 0 {
		bps = 0
	}
	if bps > 10000 {
		bps = 10000
	}
	f := m.Amount * bps / 10000
	fee = Money{Amount: f, Currency: m.Currency}
	rest = Money{Amount: m.Amount - f, Currency: m.Currency}
	return fee, rest
}

// normalizeCurrency upper-cases and validates a three-letter ISO code.
func normalizeCurrency(c string) (string, bool) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return c, true
}

// jsonMoney is the wire shape: decimal string plus currency code.
type jsonMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders {"amount":"149.50","currency":"EUR"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMoney{Amount: m.Format(), Currency: m.Currency})
}

// UnmarshalJSON parses the wire shape back into minor units.
func (m *Money) UnmarshalJSON(data []byte) error {
	var jm jsonMoney
	if err := json.Unmarshal(data, &jm); err != nil {
		return err
	}
	parsed, err := Parse(jm.Amount, jm.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
