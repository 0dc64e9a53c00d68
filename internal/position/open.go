package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/metrics"
	"github.com/atmx/margin-pool/internal/model"
)

// OpenPosition opens a filled position for user at the current relative
// price: input is posted as collateral, input*leverage is borrowed from the
// pool. It returns the impact fee charged on top of input.
func (e *Engine) OpenPosition(ctx context.Context, user string, input, leverage decimal.Decimal, asset string) (decimal.Decimal, error) {
	var fee decimal.Decimal
	var p model.Position

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		c, borrowed, err := e.prepareOpen(ctx, user, input, leverage, asset)
		if err != nil {
			return err
		}
		if borrowed.IsZero() {
			return model.InvalidInputf("position of %s at leverage %s borrows nothing", input, leverage)
		}

		entry, err := e.relativePrice(ctx, c, asset)
		if err != nil {
			return err
		}
		fee = ImpactFee(borrowed, entry)

		if err := e.ledger.Transfer(ctx, asset, user, e.id, input.Add(fee)); err != nil {
			return err
		}
		if err := e.borrow(ctx, asset, borrowed, fee); err != nil {
			return err
		}

		p = model.Position{
			User:       user,
			Filled:     true,
			Asset:      asset,
			EntryPrice: entry,
			StopLoss:   decimal.Zero,
			TakeProfit: decimal.Zero,
			Borrowed:   borrowed,
			Collateral: input,
			Leverage:   leverage,
			OpenedAt:   e.now(),
		}
		return e.savePosition(ctx, p)
	})
	metrics.Observe("position_open", start, err)
	if err != nil {
		return decimal.Zero, err
	}

	metrics.PositionEvents.WithLabelValues("opened").Inc()
	slog.Info("position opened",
		"user", user,
		"asset", asset,
		"entry_price", p.EntryPrice.String(),
		"collateral", input.String(),
		"borrowed", p.Borrowed.String(),
		"fee", fee.String(),
	)
	return fee, nil
}

// OpenLimitPosition places a resting order that fills once the relative
// price falls to limitPrice. Nothing is borrowed yet, but the impact fee at
// the limit price is collected up front with the collateral.
func (e *Engine) OpenLimitPosition(ctx context.Context, user string, input, leverage decimal.Decimal, asset string, limitPrice decimal.Decimal) (decimal.Decimal, error) {
	if !limitPrice.IsPositive() || !limitPrice.IsInteger() {
		return decimal.Zero, model.InvalidInputf("limit price %s", limitPrice)
	}

	var fee decimal.Decimal
	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		_, borrowed, err := e.prepareOpen(ctx, user, input, leverage, asset)
		if err != nil {
			return err
		}
		fee = ImpactFee(borrowed, limitPrice)

		if err := e.ledger.Transfer(ctx, asset, user, e.id, input.Add(fee)); err != nil {
			return err
		}
		return e.savePosition(ctx, model.Position{
			User:       user,
			Filled:     false,
			Asset:      asset,
			EntryPrice: limitPrice,
			StopLoss:   decimal.Zero,
			TakeProfit: decimal.Zero,
			Borrowed:   decimal.Zero,
			Collateral: input,
			Leverage:   leverage,
			OpenedAt:   e.now(),
		})
	})
	metrics.Observe("position_open_limit", start, err)
	if err != nil {
		return decimal.Zero, err
	}

	metrics.PositionEvents.WithLabelValues("limit_placed").Inc()
	slog.Info("limit position placed",
		"user", user,
		"asset", asset,
		"limit_price", limitPrice.String(),
		"collateral", input.String(),
		"fee", fee.String(),
	)
	return fee, nil
}

// prepareOpen runs the checks shared by both kinds of open and returns the
// amount the position will borrow.
func (e *Engine) prepareOpen(ctx context.Context, user string, input, leverage decimal.Decimal, asset string) (*config, decimal.Decimal, error) {
	if err := e.store.Extend(ctx, namespace); err != nil {
		return nil, decimal.Zero, err
	}
	c, err := e.config(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := e.auth.RequireAuth(ctx, user); err != nil {
		return nil, decimal.Zero, err
	}
	exists, err := e.hasPosition(ctx, user)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if exists {
		return nil, decimal.Zero, ErrPositionAlreadyExists
	}

	if !input.IsPositive() || !input.IsInteger() {
		return nil, decimal.Zero, model.InvalidInputf("collateral %s", input)
	}
	if !leverage.IsPositive() || !leverage.IsInteger() {
		return nil, decimal.Zero, model.InvalidInputf("leverage %s", leverage)
	}
	if _, err := c.pair.Other(asset); err != nil {
		return nil, decimal.Zero, model.InvalidInputf("%v", err)
	}

	borrowed := fixedpoint.MulFloor(input, leverage)
	if e.limiter != nil {
		if err := e.limiter.CheckLimit(leverage, borrowed); err != nil {
			return nil, decimal.Zero, err
		}
	}
	return c, borrowed, nil
}

// AddStopLoss sets the price at or below which FillPosition closes user's
// position. Zero clears it.
func (e *Engine) AddStopLoss(ctx context.Context, user string, price decimal.Decimal) error {
	return e.setTrigger(ctx, user, price, "stop_loss", func(p *model.Position) { p.StopLoss = price })
}

// AddTakeProfit sets the price at or above which FillPosition closes user's
// position. Zero clears it.
func (e *Engine) AddTakeProfit(ctx context.Context, user string, price decimal.Decimal) error {
	return e.setTrigger(ctx, user, price, "take_profit", func(p *model.Position) { p.TakeProfit = price })
}

func (e *Engine) setTrigger(ctx context.Context, user string, price decimal.Decimal, kind string, apply func(*model.Position)) error {
	if price.IsNegative() || !price.IsInteger() {
		return model.InvalidInputf("%s price %s", kind, price)
	}

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		if _, err := e.config(ctx); err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, user); err != nil {
			return err
		}
		p, err := e.position(ctx, user)
		if err != nil {
			return err
		}
		apply(&p)
		return e.savePosition(ctx, p)
	})
	metrics.Observe("position_"+kind, start, err)
	if err != nil {
		return err
	}

	slog.Info("position trigger set", "user", user, "kind", kind, "price", price.String())
	return nil
}
