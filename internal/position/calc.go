package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/model"
)

var (
	// BaseFee is the flat part of every impact fee (0.0006).
	BaseFee = decimal.NewFromInt(6_000)

	// HourlyBaseFee is the funding rate per hour at 100% utilization (0.00008).
	HourlyBaseFee = decimal.NewFromInt(800)

	// ImpactFeeScalar divides notional into the proportional impact fee.
	ImpactFeeScalar = decimal.NewFromInt(7_600_000_000_000_000)

	// MaxLeverage normalizes the maintenance margin (100x).
	MaxLeverage = fixedpoint.FromInt(100)

	secondsPerHour = decimal.NewFromInt(3600)
)

// ImpactFee is the fee for opening size at price:
// BaseFee + ceil(ceil(size*price/1e7) * 1e7 / ImpactFeeScalar).
func ImpactFee(size, price decimal.Decimal) decimal.Decimal {
	notional := fixedpoint.MulCeil(size, price)
	return BaseFee.Add(fixedpoint.DivCeil(notional, ImpactFeeScalar))
}

// RepayAndFee computes what closing a filled position costs at current.
// supply and held are the pool's recorded supply and held balance of the
// borrowed asset. The steps and their rounding directions are fixed:
// values round down, fees round up, and the summed fee is scaled by
// borrowed once more at the end.
func RepayAndFee(borrowed, entry, current, supply, held decimal.Decimal, elapsed time.Duration) (repay, fee decimal.Decimal, err error) {
	if !current.IsPositive() {
		return decimal.Zero, decimal.Zero, model.InvalidInputf("non-positive price %s", current)
	}
	if !held.IsPositive() {
		return decimal.Zero, decimal.Zero, model.InvalidInputf("pool holds none of the borrowed asset")
	}

	repay = fixedpoint.DivFloor(fixedpoint.MulFloor(borrowed, entry), current)

	utilization := fixedpoint.DivCeil(supply, held)
	hourly := fixedpoint.MulCeil(fixedpoint.MulCeil(utilization, borrowed), HourlyBaseFee)

	secs := decimal.NewFromInt(int64(elapsed / time.Second))
	if secs.IsNegative() {
		secs = decimal.Zero
	}
	hours := fixedpoint.DivCeil(secs.Mul(fixedpoint.Scalar7), secondsPerHour.Mul(fixedpoint.Scalar7))

	fee = fixedpoint.MulCeil(hourly, hours).Add(ImpactFee(borrowed, current))
	fee = fixedpoint.MulCeil(fee, borrowed)
	return repay, fee, nil
}

// LiquidationPrice returns the relative price at or below which a position
// may be liquidated. The margin left after the opening impact fee and a
// maintenance margin of total/MaxLeverage is expressed as a fraction of the
// position's total size; the threshold sits that fraction below entry.
// always is true when fees and maintenance exceed the whole position.
func LiquidationPrice(borrowed, collateral, entry decimal.Decimal) (threshold decimal.Decimal, always bool) {
	total := borrowed.Add(collateral)
	fee := ImpactFee(borrowed, entry)
	maintenance := fixedpoint.DivCeil(total, MaxLeverage)

	residual := collateral.Sub(fee).Sub(maintenance)
	coverage := total.Sub(fee).Sub(maintenance)
	if !coverage.IsPositive() {
		return entry, true
	}
	premium := fixedpoint.MulDivFloor(entry, residual, coverage).Neg()
	return entry.Add(premium), false
}

// LiquidationRepay is what a liquidation returns to the pool as principal:
// floor(floor(borrowed*entry/1e7) * 1e7 / current).
func LiquidationRepay(borrowed, entry, current decimal.Decimal) decimal.Decimal {
	return fixedpoint.DivFloor(fixedpoint.MulFloor(borrowed, entry), current)
}
