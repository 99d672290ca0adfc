// Package money represents ruble amounts as integer kopecks to keep
// balance arithmetic exact.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Set of errors for amount parsing.
var (
	ErrNotAnAmount = errors.New("not a valid amount")
	ErrNegative    = errors.New("negative amount")
	ErrFractional  = errors.New("fractional amount")
)

// Amount is a sum of money in kopecks.
type Amount int64

var hundred = decimal.NewFromInt(100)

// FromRubles converts a whole number of rubles to an Amount.
func FromRubles(r int64) Amount {
	return Amount(r * 100)
}

// Parse converts user entered text like "100", "100.50" or "100,50"
// to an Amount. At most two decimal places are accepted.
func Parse(s string) (Amount, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotAnAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrNegative, s)
	}

	kop := d.Mul(hundred)
	if !kop.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrNotAnAmount, s)
	}

	return Amount(kop.IntPart()), nil
}

// ParseWhole is like Parse but rejects amounts with a fractional part.
func ParseWhole(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if !a.Whole() {
		return 0, fmt.Errorf("%w: %q", ErrFractional, s)
	}
	return a, nil
}

// Whole reports whether the amount is a whole number of rubles.
func (a Amount) Whole() bool {
	return a%100 == 0
}

// String renders the amount the way it is shown to users: "1234.50 ₽".
func (a Amount) String() string {
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%02d ₽", sign, a/100, a%100)
}
