package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/metrics"
	"github.com/atmx/margin-pool/internal/model"
)

// reserveDivisor keeps a tenth of each asset's recorded supply in the pool.
var reserveDivisor = decimal.NewFromInt(10)

// Borrow lends amount of asset to the position engine and credits fee to the
// recorded supply. The engine must authorize both the call and the asset
// argument.
func (e *Engine) Borrow(ctx context.Context, asset string, amount, fee decimal.Decimal) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}
	if err := requireAmount("fee", fee); err != nil {
		return err
	}

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		s, err := e.load(ctx)
		if err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, s.positionManager); err != nil {
			return err
		}
		if err := e.auth.RequireAuthForArgs(ctx, s.positionManager, asset); err != nil {
			return err
		}
		token, key, err := s.token(asset)
		if err != nil {
			return err
		}

		held, err := e.ledger.Balance(ctx, asset, e.id)
		if err != nil {
			return err
		}
		if amount.GreaterThan(held) {
			return ErrInsufficientLiquidity
		}
		floor := token.TotalSupply.Div(reserveDivisor).Floor()
		if held.Sub(amount).LessThan(floor) {
			return ErrExcessiveBorrowing
		}

		if err := e.ledger.Transfer(e.asPool(ctx), asset, e.id, s.positionManager, amount); err != nil {
			return err
		}
		token.TotalSupply = token.TotalSupply.Add(fee)
		return e.store.Set(ctx, namespace, key, *token)
	})
	metrics.Observe("pool_borrow", start, err)
	if err != nil {
		return err
	}

	metrics.AddVolume(asset, "borrow", amount)
	metrics.AddFee(asset, fee)
	slog.Info("pool lent", "asset", asset, "amount", amount.String(), "fee", fee.String())
	return nil
}

// Repay pulls amount+fee of asset back from the position engine and credits
// fee to the recorded supply. fee may be negative when a liquidation cannot
// cover the debt; the shortfall is then written off the recorded supply.
func (e *Engine) Repay(ctx context.Context, asset string, amount, fee decimal.Decimal) error {
	if err := requireAmount("amount", amount); err != nil {
		return err
	}
	total := amount.Add(fee)
	if total.IsNegative() || !fee.IsInteger() {
		return model.InvalidInputf("repayment of %s with fee %s", amount, fee)
	}

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		s, err := e.load(ctx)
		if err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, s.positionManager); err != nil {
			return err
		}
		token, key, err := s.token(asset)
		if err != nil {
			return err
		}

		if err := e.ledger.Transfer(e.asPool(ctx), asset, s.positionManager, e.id, total); err != nil {
			return err
		}
		token.TotalSupply = token.TotalSupply.Add(fee)
		return e.store.Set(ctx, namespace, key, *token)
	})
	metrics.Observe("pool_repay", start, err)
	if err != nil {
		return err
	}

	metrics.AddVolume(asset, "repay", amount)
	metrics.AddFee(asset, fee)
	slog.Info("pool repaid", "asset", asset, "amount", amount.String(), "fee", fee.String())
	return nil
}
