package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/metrics"
	"github.com/atmx/margin-pool/internal/model"
)

// Deposit adds amountA and amountB from user and mints shares for the value
// added. A deposit into a non-empty pool must not move either asset further
// from its target ratio; the first deposit must match the target exactly.
func (e *Engine) Deposit(ctx context.Context, user string, amountA, amountB decimal.Decimal) (decimal.Decimal, error) {
	if err := requireAmount("amount_a", amountA); err != nil {
		return decimal.Zero, err
	}
	if err := requireAmount("amount_b", amountB); err != nil {
		return decimal.Zero, err
	}

	start := time.Now()
	var minted decimal.Decimal
	var s *state
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, user); err != nil {
			return err
		}
		var err error
		if s, err = e.load(ctx); err != nil {
			return err
		}
		priceA, priceB, err := e.prices(ctx, s)
		if err != nil {
			return err
		}

		valueA := fixedpoint.MulFloor(s.tokenA.TotalSupply, priceA)
		valueB := fixedpoint.MulFloor(s.tokenB.TotalSupply, priceB)
		totalValue := valueA.Add(valueB)

		depositA := fixedpoint.MulFloor(amountA, priceA)
		depositB := fixedpoint.MulFloor(amountB, priceB)
		depositValue := depositA.Add(depositB)
		if !depositValue.IsPositive() {
			return model.InvalidInputf("deposit has no value")
		}

		if err := checkDepositRatio(s, valueA, totalValue, depositA, depositValue); err != nil {
			return err
		}

		s.tokenA.TotalSupply = s.tokenA.TotalSupply.Add(amountA)
		s.tokenB.TotalSupply = s.tokenB.TotalSupply.Add(amountB)

		lctx := e.asPool(ctx)
		if err := e.ledger.Transfer(lctx, s.tokenA.Asset, user, e.id, amountA); err != nil {
			return err
		}
		if err := e.ledger.Transfer(lctx, s.tokenB.Asset, user, e.id, amountB); err != nil {
			return err
		}

		if s.slpSupply.IsZero() {
			minted = depositValue
		} else {
			if totalValue.IsZero() {
				return model.InvalidInputf("pool has shares outstanding but no value")
			}
			minted = fixedpoint.DivFloor(fixedpoint.MulFloor(depositValue, s.slpSupply), totalValue)
		}
		if !minted.IsPositive() {
			return model.InvalidInputf("deposit too small to mint shares")
		}
		s.slpSupply = s.slpSupply.Add(minted)
		if err := e.ledger.Mint(lctx, s.slpToken, user, minted); err != nil {
			return err
		}

		return e.save(ctx, map[string]any{
			keyTokenA:    s.tokenA,
			keyTokenB:    s.tokenB,
			keySLPSupply: s.slpSupply,
		})
	})
	metrics.Observe("pool_deposit", start, err)
	if err != nil {
		return decimal.Zero, err
	}

	metrics.AddVolume(s.tokenA.Asset, "deposit", amountA)
	metrics.AddVolume(s.tokenB.Asset, "deposit", amountB)
	metrics.SLPSupply.Set(metrics.Units(s.slpSupply))
	slog.Info("liquidity deposited",
		"user", user,
		"amount_a", amountA.String(),
		"amount_b", amountB.String(),
		"minted", minted.String(),
		"slp_supply", s.slpSupply.String(),
	)
	return minted, nil
}

// checkDepositRatio applies the acceptance rule. Ratios are A's share of
// value; B's share is 1.0 minus A's.
func checkDepositRatio(s *state, valueA, totalValue, depositA, depositValue decimal.Decimal) error {
	targetA := s.tokenA.TargetRatio
	targetB := s.tokenB.TargetRatio

	if totalValue.IsZero() {
		ratioA := fixedpoint.DivFloor(depositA, depositValue)
		ratioB := fixedpoint.Scalar7.Sub(ratioA)
		if !ratioA.Equal(targetA) || !ratioB.Equal(targetB) {
			return ErrDepositDoesNotImproveRatio
		}
		return nil
	}

	ratioA := fixedpoint.DivFloor(valueA, totalValue)
	ratioB := fixedpoint.Scalar7.Sub(ratioA)
	newRatioA := fixedpoint.DivFloor(valueA.Add(depositA), totalValue.Add(depositValue))
	newRatioB := fixedpoint.Scalar7.Sub(newRatioA)

	if newRatioA.Sub(targetA).Abs().GreaterThan(ratioA.Sub(targetA).Abs()) ||
		newRatioB.Sub(targetB).Abs().GreaterThan(ratioB.Sub(targetB).Abs()) {
		return ErrDepositDoesNotImproveRatio
	}
	return nil
}

// Withdraw burns shares from user and pays out their value, split so that
// more of the over-weighted asset leaves the pool.
func (e *Engine) Withdraw(ctx context.Context, user string, shares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !shares.IsPositive() || !fixedpoint.IsWhole(shares) {
		return decimal.Zero, decimal.Zero, model.InvalidInputf("shares must be a positive whole number of units, got %s", shares)
	}

	start := time.Now()
	var amountA, amountB decimal.Decimal
	var s *state
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, user); err != nil {
			return err
		}
		var err error
		if s, err = e.load(ctx); err != nil {
			return err
		}
		if s.slpSupply.IsZero() {
			return ErrInsufficientFundsForWithdrawal
		}
		priceA, priceB, err := e.prices(ctx, s)
		if err != nil {
			return err
		}

		valueA := fixedpoint.MulFloor(s.tokenA.TotalSupply, priceA)
		valueB := fixedpoint.MulFloor(s.tokenB.TotalSupply, priceB)
		totalValue := valueA.Add(valueB)

		withdrawRatio := fixedpoint.DivFloor(shares, s.slpSupply)
		withdrawValue := fixedpoint.MulFloor(totalValue, withdrawRatio)
		if withdrawValue.IsZero() || withdrawValue.GreaterThan(totalValue) {
			return ErrInsufficientFundsForWithdrawal
		}

		valueOutA, valueOutB := splitWithdrawal(withdrawValue, valueA, totalValue, s.tokenA.TargetRatio)
		amountA = fixedpoint.DivFloor(valueOutA, priceA)
		amountB = fixedpoint.DivFloor(valueOutB, priceB)

		heldA, err := e.ledger.Balance(ctx, s.tokenA.Asset, e.id)
		if err != nil {
			return err
		}
		heldB, err := e.ledger.Balance(ctx, s.tokenB.Asset, e.id)
		if err != nil {
			return err
		}
		if amountA.GreaterThan(heldA) || amountB.GreaterThan(heldB) {
			return ErrInsufficientFundsForWithdrawal
		}

		s.tokenA.TotalSupply = s.tokenA.TotalSupply.Sub(amountA)
		s.tokenB.TotalSupply = s.tokenB.TotalSupply.Sub(amountB)
		s.slpSupply = s.slpSupply.Sub(shares)

		lctx := e.asPool(ctx)
		if err := e.ledger.Burn(lctx, s.slpToken, user, shares); err != nil {
			return err
		}
		if err := e.ledger.Transfer(lctx, s.tokenA.Asset, e.id, user, amountA); err != nil {
			return err
		}
		if err := e.ledger.Transfer(lctx, s.tokenB.Asset, e.id, user, amountB); err != nil {
			return err
		}

		return e.save(ctx, map[string]any{
			keyTokenA:    s.tokenA,
			keyTokenB:    s.tokenB,
			keySLPSupply: s.slpSupply,
		})
	})
	metrics.Observe("pool_withdraw", start, err)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	metrics.AddVolume(s.tokenA.Asset, "withdraw", amountA)
	metrics.AddVolume(s.tokenB.Asset, "withdraw", amountB)
	metrics.SLPSupply.Set(metrics.Units(s.slpSupply))
	slog.Info("liquidity withdrawn",
		"user", user,
		"shares", shares.String(),
		"amount_a", amountA.String(),
		"amount_b", amountB.String(),
		"slp_supply", s.slpSupply.String(),
	)
	return amountA, amountB, nil
}

// splitWithdrawal divides withdrawValue between the assets. At target the
// split is proportional; otherwise the over-weighted side's share grows by
// its relative excess. The skewed side is capped at the whole withdrawal so
// neither amount goes negative.
func splitWithdrawal(withdrawValue, valueA, totalValue, targetA decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	ratioA := fixedpoint.DivFloor(valueA, totalValue)
	ratioB := fixedpoint.Scalar7.Sub(ratioA)

	switch {
	case ratioA.Equal(targetA):
		outA := fixedpoint.MulFloor(withdrawValue, ratioA)
		return outA, withdrawValue.Sub(outA)
	case ratioA.GreaterThan(targetA):
		adjust := fixedpoint.DivFloor(ratioA.Sub(targetA), ratioA)
		outA := fixedpoint.MulFloor(fixedpoint.MulFloor(withdrawValue, ratioA), fixedpoint.Scalar7.Add(adjust))
		outA = fixedpoint.Min(outA, withdrawValue)
		return outA, withdrawValue.Sub(outA)
	default:
		adjust := fixedpoint.DivFloor(targetA.Sub(ratioA), ratioB)
		outB := fixedpoint.MulFloor(fixedpoint.MulFloor(withdrawValue, ratioB), fixedpoint.Scalar7.Add(adjust))
		outB = fixedpoint.Min(outB, withdrawValue)
		return withdrawValue.Sub(outB), outB
	}
}
