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

// Settlement reasons.
const (
	ReasonClose       = "close"
	ReasonCancel      = "cancel"
	ReasonTakeProfit  = "take_profit"
	ReasonStopLoss    = "stop_loss"
	ReasonLiquidation = "liquidation"
)

// FillAction says what a FillPosition call did.
type FillAction string

const (
	FillNone       FillAction = "none"
	FillOpened     FillAction = "filled"
	FillTakeProfit FillAction = "take_profit"
	FillStopLoss   FillAction = "stop_loss"
)

// FillResult is the outcome of FillPosition. Position is set when a limit
// order filled; Settlement when a trigger closed the position.
type FillResult struct {
	Action     FillAction        `json:"action"`
	Position   *model.Position   `json:"position,omitempty"`
	Settlement *model.Settlement `json:"settlement,omitempty"`
}

// FillPosition is the keeper entry point and needs no authorization.
// A filled position is closed if its take-profit or stop-loss has been
// crossed, otherwise nothing happens. A resting limit order fills once the
// relative price is at or below its limit; the fee pre-collected at the
// limit price is trued up to the fee at the fill price and the excess
// returned to the trader. feeTaker is recorded for attribution only.
func (e *Engine) FillPosition(ctx context.Context, user, feeTaker string) (FillResult, error) {
	res := FillResult{Action: FillNone}

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		c, err := e.config(ctx)
		if err != nil {
			return err
		}
		p, err := e.position(ctx, user)
		if err != nil {
			return err
		}
		current, err := e.relativePrice(ctx, c, p.Asset)
		if err != nil {
			return err
		}

		if !p.Filled {
			filled, err := e.fillLimit(ctx, p, current)
			if err != nil {
				return err
			}
			res = FillResult{Action: FillOpened, Position: &filled}
			return nil
		}

		var reason string
		switch {
		case p.TakeProfit.IsPositive() && current.GreaterThanOrEqual(p.TakeProfit):
			reason = ReasonTakeProfit
		case p.StopLoss.IsPositive() && current.LessThanOrEqual(p.StopLoss):
			reason = ReasonStopLoss
		default:
			return nil
		}
		s, err := e.settle(ctx, p, current, reason)
		if err != nil {
			return err
		}
		res = FillResult{Action: FillAction(reason), Settlement: &s}
		return nil
	})
	metrics.Observe("position_fill", start, err)
	if err != nil {
		return FillResult{}, err
	}

	switch res.Action {
	case FillNone:
		slog.Debug("fill found nothing to do", "user", user, "fee_taker", feeTaker)
	case FillOpened:
		metrics.PositionEvents.WithLabelValues("filled").Inc()
		slog.Info("limit position filled",
			"user", user,
			"fee_taker", feeTaker,
			"entry_price", res.Position.EntryPrice.String(),
			"borrowed", res.Position.Borrowed.String(),
		)
	default:
		metrics.PositionEvents.WithLabelValues(string(res.Action)).Inc()
		slog.Info("position closed by trigger",
			"user", user,
			"fee_taker", feeTaker,
			"reason", res.Settlement.Reason,
			"price", res.Settlement.Price.String(),
			"to_user", res.Settlement.ToUser.String(),
		)
	}
	return res, nil
}

func (e *Engine) fillLimit(ctx context.Context, p model.Position, current decimal.Decimal) (model.Position, error) {
	if current.GreaterThan(p.EntryPrice) {
		return p, ErrPositionNotFilled
	}

	borrowed := fixedpoint.MulFloor(p.Collateral, p.Leverage)
	prepaid := ImpactFee(borrowed, p.EntryPrice)
	fee := ImpactFee(borrowed, current)

	if refund := prepaid.Sub(fee); refund.IsPositive() {
		if err := e.ledger.Transfer(e.asEngine(ctx), p.Asset, e.id, p.User, refund); err != nil {
			return p, err
		}
	}
	if err := e.borrow(ctx, p.Asset, borrowed, fee); err != nil {
		return p, err
	}

	p.Filled = true
	p.EntryPrice = current
	p.Borrowed = borrowed
	p.OpenedAt = e.now()
	return p, e.savePosition(ctx, p)
}

// ClosePosition closes user's position at the current relative price. The
// pool is repaid its principal in value terms, the engine keeps the fee and
// the rest goes back to the trader. A resting limit order is cancelled and
// its collateral and pre-collected fee refunded.
func (e *Engine) ClosePosition(ctx context.Context, user string) (model.Settlement, error) {
	var s model.Settlement

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		c, err := e.config(ctx)
		if err != nil {
			return err
		}
		if err := e.auth.RequireAuth(ctx, user); err != nil {
			return err
		}
		p, err := e.position(ctx, user)
		if err != nil {
			return err
		}

		if !p.Filled {
			s, err = e.cancel(ctx, p)
			return err
		}

		current, err := e.relativePrice(ctx, c, p.Asset)
		if err != nil {
			return err
		}
		s, err = e.settle(ctx, p, current, ReasonClose)
		return err
	})
	metrics.Observe("position_close", start, err)
	if err != nil {
		return model.Settlement{}, err
	}

	metrics.PositionEvents.WithLabelValues(s.Reason).Inc()
	slog.Info("position closed",
		"user", user,
		"reason", s.Reason,
		"price", s.Price.String(),
		"repay", s.Repay.String(),
		"fee", s.Fee.String(),
		"to_user", s.ToUser.String(),
	)
	return s, nil
}

// settle closes a filled position at current with the shared repay and fee
// calculation.
func (e *Engine) settle(ctx context.Context, p model.Position, current decimal.Decimal, reason string) (model.Settlement, error) {
	repay, fee, err := e.quote(ctx, p, current)
	if err != nil {
		return model.Settlement{}, err
	}
	toUser := p.Borrowed.Add(p.Collateral).Sub(repay).Sub(fee)
	if toUser.IsNegative() {
		return model.Settlement{}, model.InvalidInputf("position of %s is underwater, liquidate instead", p.User)
	}

	if err := e.repay(ctx, p.Asset, repay, decimal.Zero); err != nil {
		return model.Settlement{}, err
	}
	if err := e.ledger.Transfer(e.asEngine(ctx), p.Asset, e.id, p.User, toUser); err != nil {
		return model.Settlement{}, err
	}
	if err := e.removePosition(ctx, p.User); err != nil {
		return model.Settlement{}, err
	}
	return model.Settlement{
		User:      p.User,
		Asset:     p.Asset,
		Price:     current,
		Repay:     repay,
		Fee:       fee,
		ToUser:    toUser,
		Reason:    reason,
		SettledAt: e.now(),
	}, nil
}

func (e *Engine) cancel(ctx context.Context, p model.Position) (model.Settlement, error) {
	prepaid := ImpactFee(fixedpoint.MulFloor(p.Collateral, p.Leverage), p.EntryPrice)
	refund := p.Collateral.Add(prepaid)
	if err := e.ledger.Transfer(e.asEngine(ctx), p.Asset, e.id, p.User, refund); err != nil {
		return model.Settlement{}, err
	}
	if err := e.removePosition(ctx, p.User); err != nil {
		return model.Settlement{}, err
	}
	return model.Settlement{
		User:      p.User,
		Asset:     p.Asset,
		Price:     p.EntryPrice,
		Repay:     decimal.Zero,
		Fee:       decimal.Zero,
		ToUser:    refund,
		Reason:    ReasonCancel,
		SettledAt: e.now(),
	}, nil
}

// Liquidate force-closes user's position once the relative price is at or
// below its liquidation price. The whole position goes back to the pool:
// repay as principal and the remainder, possibly negative, as fee. The
// liquidator is recorded but receives nothing.
func (e *Engine) Liquidate(ctx context.Context, user, liquidator string) (model.Settlement, error) {
	var s model.Settlement

	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		c, err := e.config(ctx)
		if err != nil {
			return err
		}
		p, err := e.position(ctx, user)
		if err != nil {
			return err
		}
		if !p.Filled {
			return ErrPositionNotLiquidatable
		}
		current, err := e.relativePrice(ctx, c, p.Asset)
		if err != nil {
			return err
		}

		threshold, always := LiquidationPrice(p.Borrowed, p.Collateral, p.EntryPrice)
		if !always && current.GreaterThan(threshold) {
			return ErrPositionNotLiquidatable
		}

		repay := LiquidationRepay(p.Borrowed, p.EntryPrice, current)
		fee := p.Borrowed.Add(p.Collateral).Sub(repay)
		if err := e.repay(ctx, p.Asset, repay, fee); err != nil {
			return err
		}
		if err := e.removePosition(ctx, user); err != nil {
			return err
		}
		s = model.Settlement{
			User:      user,
			Asset:     p.Asset,
			Price:     current,
			Repay:     repay,
			Fee:       fee,
			ToUser:    decimal.Zero,
			Reason:    ReasonLiquidation,
			SettledAt: e.now(),
		}
		return nil
	})
	metrics.Observe("position_liquidate", start, err)
	if err != nil {
		return model.Settlement{}, err
	}

	metrics.PositionEvents.WithLabelValues("liquidated").Inc()
	slog.Warn("position liquidated",
		"user", user,
		"liquidator", liquidator,
		"price", s.Price.String(),
		"repay", s.Repay.String(),
		"fee", s.Fee.String(),
	)
	return s, nil
}

// Status is a read-only view of a position at the current price.
type Status struct {
	Position         model.Position  `json:"position"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Repay            decimal.Decimal `json:"repay"`
	Fee              decimal.Decimal `json:"fee"`
	ToUser           decimal.Decimal `json:"to_user"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Liquidatable     bool            `json:"liquidatable"`
}

// Status quotes what closing user's position would pay now. For a resting
// limit order only the position and current price are filled in.
func (e *Engine) Status(ctx context.Context, user string) (Status, error) {
	c, err := e.config(ctx)
	if err != nil {
		return Status{}, err
	}
	p, err := e.position(ctx, user)
	if err != nil {
		return Status{}, err
	}
	current, err := e.relativePrice(ctx, c, p.Asset)
	if err != nil {
		return Status{}, err
	}
	st := Status{Position: p, CurrentPrice: current}
	if !p.Filled {
		return st, nil
	}

	if st.Repay, st.Fee, err = e.quote(ctx, p, current); err != nil {
		return Status{}, err
	}
	st.ToUser = p.Borrowed.Add(p.Collateral).Sub(st.Repay).Sub(st.Fee)
	threshold, always := LiquidationPrice(p.Borrowed, p.Collateral, p.EntryPrice)
	st.LiquidationPrice = threshold
	st.Liquidatable = always || current.LessThanOrEqual(threshold)
	return st, nil
}
