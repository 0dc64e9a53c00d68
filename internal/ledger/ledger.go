// Package ledger is a store-backed fungible asset ledger: per-asset admins,
// balances and supply. It is the token layer the pool and the position
// engine move funds through.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/store"
)

const namespace = "ledger"

var (
	ErrUnknownAsset        = errors.New("ledger: unknown asset")
	ErrAssetExists         = errors.New("ledger: asset already exists")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

type assetRecord struct {
	Admin  string          `json:"admin"`
	Supply decimal.Decimal `json:"supply"`
}

// Ledger moves balances. Debits need the holder's authorization: the holder
// signed the request, is the direct invoker, or handed the invoker a
// matching single-use grant.
type Ledger struct {
	store store.Store
	auth  auth.Verifier
}

// New creates a ledger over st.
func New(st store.Store, v auth.Verifier) *Ledger {
	return &Ledger{store: st, auth: v}
}

// CreateAsset registers asset with admin as its minting authority.
func (l *Ledger) CreateAsset(ctx context.Context, asset, admin string) error {
	if asset == "" || admin == "" {
		return model.InvalidInputf("asset and admin are required")
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		exists, err := l.store.Has(ctx, namespace, assetKey(asset))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAssetExists, asset)
		}
		slog.Info("asset created", "asset", asset, "admin", admin)
		return l.store.Set(ctx, namespace, assetKey(asset), assetRecord{Admin: admin, Supply: decimal.Zero})
	})
}

// SetAdmin hands minting authority to newAdmin. The current admin must
// authorize.
func (l *Ledger) SetAdmin(ctx context.Context, asset, newAdmin string) error {
	if newAdmin == "" {
		return model.InvalidInputf("admin is required")
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		rec, err := l.asset(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.auth.RequireAuth(ctx, rec.Admin); err != nil {
			return err
		}
		rec.Admin = newAdmin
		return l.store.Set(ctx, namespace, assetKey(asset), rec)
	})
}

// Admin returns the asset's admin.
func (l *Ledger) Admin(ctx context.Context, asset string) (string, error) {
	rec, err := l.asset(ctx, asset)
	if err != nil {
		return "", err
	}
	return rec.Admin, nil
}

// Supply returns the total minted and not burned.
func (l *Ledger) Supply(ctx context.Context, asset string) (decimal.Decimal, error) {
	rec, err := l.asset(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.Supply, nil
}

// Balance returns holder's balance of asset.
func (l *Ledger) Balance(ctx context.Context, asset, holder string) (decimal.Decimal, error) {
	if _, err := l.asset(ctx, asset); err != nil {
		return decimal.Zero, err
	}
	return l.balance(ctx, asset, holder)
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := l.asset(ctx, asset); err != nil {
			return err
		}
		if amount.IsZero() || from == to {
			return nil
		}
		if err := l.authorizeDebit(ctx, asset, from, amount); err != nil {
			return err
		}
		if err := l.debit(ctx, asset, from, amount); err != nil {
			return err
		}
		return l.credit(ctx, asset, to, amount)
	})
}

// Mint creates amount of asset for to. Only the asset admin may mint.
func (l *Ledger) Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		rec, err := l.asset(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.auth.RequireAuth(ctx, rec.Admin); err != nil {
			return err
		}
		if err := l.credit(ctx, asset, to, amount); err != nil {
			return err
		}
		rec.Supply = rec.Supply.Add(amount)
		return l.store.Set(ctx, namespace, assetKey(asset), rec)
	})
}

// Burn destroys amount of asset held by from, which must authorize.
func (l *Ledger) Burn(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		rec, err := l.asset(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.auth.RequireAuth(ctx, from); err != nil {
			return err
		}
		if err := l.debit(ctx, asset, from, amount); err != nil {
			return err
		}
		rec.Supply = rec.Supply.Sub(amount)
		return l.store.Set(ctx, namespace, assetKey(asset), rec)
	})
}

// authorizeDebit falls back to the context grant only when from has not
// authorized directly; a grant for the wrong debit fails the transfer.
func (l *Ledger) authorizeDebit(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	err := l.auth.RequireAuth(ctx, from)
	if err == nil {
		return nil
	}
	g, ok := auth.GrantFrom(ctx)
	if !ok {
		return err
	}
	return g.Consume(from, auth.Invoker(ctx), asset, amount)
}

func (l *Ledger) debit(ctx context.Context, asset, holder string, amount decimal.Decimal) error {
	bal, err := l.balance(ctx, asset, holder)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, holder, bal, asset, amount)
	}
	return l.store.Set(ctx, namespace, balanceKey(asset, holder), bal.Sub(amount))
}

func (l *Ledger) credit(ctx context.Context, asset, holder string, amount decimal.Decimal) error {
	bal, err := l.balance(ctx, asset, holder)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, namespace, balanceKey(asset, holder), bal.Add(amount))
}

func (l *Ledger) balance(ctx context.Context, asset, holder string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := l.store.Get(ctx, namespace, balanceKey(asset, holder), &bal)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	return bal, err
}

func (l *Ledger) asset(ctx context.Context, asset string) (assetRecord, error) {
	var rec assetRecord
	err := l.store.Get(ctx, namespace, assetKey(asset), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return rec, err
}

func validAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return model.InvalidInputf("amount must be a non-negative whole number of units, got %s", amount)
	}
	return nil
}

func assetKey(asset string) string           { return "asset:" + asset }
func balanceKey(asset, holder string) string { return "balance:" + asset + ":" + holder }
