// Package fixedpoint implements the 7-decimal fixed-point arithmetic used by
// the pool and the position engine.
//
// Every amount is a whole number of scaled units (1.0 == 10_000_000) carried
// in a shopspring/decimal value, so intermediate products never overflow.
// Each helper multiplies first and divides last, rounding the single
// division toward negative infinity (Floor) or positive infinity (Ceil).
// Values handed to users round down; fees charged to users round up.
package fixedpoint

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivideByZero is returned by the checked helpers when the divisor is zero.
var ErrDivideByZero = errors.New("fixedpoint: division by zero")

var (
	// Scalar7 is the fixed-point unit.
	Scalar7 = decimal.NewFromInt(10_000_000)

	one = decimal.NewFromInt(1)
)

// FromInt returns n whole units in scaled form (FromInt(5) == 50_000_000).
func FromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Mul(Scalar7)
}

// FromString parses a human-readable amount ("0.09", "1000") into scaled
// units, truncating anything past the seventh decimal place.
func FromString(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Mul(Scalar7).Truncate(0), nil
}

// ToUnits renders a scaled amount back into whole units.
func ToUnits(x decimal.Decimal) decimal.Decimal {
	return x.DivRound(Scalar7, 7)
}

// IsWhole reports whether x is a valid scaled amount (no fractional part).
func IsWhole(x decimal.Decimal) bool {
	return x.IsInteger()
}

// MulDivFloor returns floor(x*y/z). It panics if z is zero; callers guard
// divisors that can reach zero.
func MulDivFloor(x, y, z decimal.Decimal) decimal.Decimal {
	return quoFloor(x.Mul(y), z)
}

// MulDivCeil returns ceil(x*y/z).
func MulDivCeil(x, y, z decimal.Decimal) decimal.Decimal {
	return quoCeil(x.Mul(y), z)
}

// MulFloor returns floor(x*y/1e7).
func MulFloor(x, y decimal.Decimal) decimal.Decimal {
	return MulDivFloor(x, y, Scalar7)
}

// MulCeil returns ceil(x*y/1e7).
func MulCeil(x, y decimal.Decimal) decimal.Decimal {
	return MulDivCeil(x, y, Scalar7)
}

// DivFloor returns floor(x*1e7/y).
func DivFloor(x, y decimal.Decimal) decimal.Decimal {
	return MulDivFloor(x, Scalar7, y)
}

// DivCeil returns ceil(x*1e7/y).
func DivCeil(x, y decimal.Decimal) decimal.Decimal {
	return MulDivCeil(x, Scalar7, y)
}

// CheckedDivFloor is DivFloor returning ErrDivideByZero instead of panicking.
func CheckedDivFloor(x, y decimal.Decimal) (decimal.Decimal, error) {
	if y.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	return DivFloor(x, y), nil
}

// CheckedDivCeil is DivCeil returning ErrDivideByZero instead of panicking.
func CheckedDivCeil(x, y decimal.Decimal) (decimal.Decimal, error) {
	if y.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	return DivCeil(x, y), nil
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// quoFloor divides n by d rounding toward negative infinity.
// decimal.QuoRem truncates toward zero and leaves the remainder with the
// sign of n, so a non-zero remainder whose sign differs from d means the
// truncated quotient sits one above the floor.
func quoFloor(n, d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		panic(ErrDivideByZero)
	}
	q, r := n.QuoRem(d, 0)
	if !r.IsZero() && r.Sign() != d.Sign() {
		q = q.Sub(one)
	}
	return q
}

func quoCeil(n, d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		panic(ErrDivideByZero)
	}
	q, r := n.QuoRem(d, 0)
	if !r.IsZero() && r.Sign() == d.Sign() {
		q = q.Add(one)
	}
	return q
}
