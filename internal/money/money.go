package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an amount cannot be represented in minor units
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a sum of money in minor units (øre). All arithmetic is integer arithmetic.
type Amount int64

// Sum adds the given amounts
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// Min returns the smaller of two amounts
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two amounts
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// Abs returns the absolute value of the amount
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Decimal returns the amount in major units
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount in major units with two fraction digits
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// FromDecimal converts a major-unit decimal into minor units.
// Values with more than two fraction digits are rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two fraction digits", ErrInvalidAmount, d.String())
	}
	if !minor.Abs().LessThan(decimal.New(1, 18)) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return Amount(minor.IntPart()), nil
}

// ParseDecimal parses a major-unit decimal string such as "9989.00"
func ParseDecimal(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %q: %v", ErrInvalidAmount, s, err)
	}
	return FromDecimal(d)
}
