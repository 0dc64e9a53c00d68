// Package limits bounds the size of a single leveraged position before the
// position engine borrows for it.
package limits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/model"
)

var (
	// ErrLeverageOutOfRange is returned when leverage is not positive or
	// exceeds the configured maximum.
	ErrLeverageOutOfRange = fmt.Errorf("%w: leverage out of range", model.ErrInvalidInput)

	// ErrBorrowLimitExceeded is returned when a position would borrow more
	// than one trader may hold.
	ErrBorrowLimitExceeded = fmt.Errorf("%w: borrow limit exceeded", model.ErrInvalidInput)
)

// PositionLimiter enforces per-position limits. Both values are scaled by
// 1e7; a zero MaxBorrow disables the borrow cap.
type PositionLimiter struct {
	// MaxLeverage is the highest leverage a position may open with.
	MaxLeverage decimal.Decimal

	// MaxBorrow is the most a single position may borrow from the pool.
	MaxBorrow decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given leverage and borrow
// caps.
func NewPositionLimiter(maxLeverage, maxBorrow decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxLeverage: maxLeverage,
		MaxBorrow:   maxBorrow,
	}
}

// CheckLimit validates a position about to borrow borrowed at leverage.
// Returns nil if the position is within limits.
func (l *PositionLimiter) CheckLimit(leverage, borrowed decimal.Decimal) error {
	// 1. Leverage in (0, MaxLeverage].
	if !leverage.IsPositive() || leverage.GreaterThan(l.MaxLeverage) {
		return fmt.Errorf("%w: %s, max %s", ErrLeverageOutOfRange, leverage, l.MaxLeverage)
	}

	// 2. Borrowed notional under the per-trader cap.
	if l.MaxBorrow.IsPositive() && borrowed.GreaterThan(l.MaxBorrow) {
		return fmt.Errorf("%w: %s, max %s", ErrBorrowLimitExceeded, borrowed, l.MaxBorrow)
	}

	return nil
}
