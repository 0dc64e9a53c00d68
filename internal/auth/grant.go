package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrGrantConsumed is returned when a grant is presented a second time.
	ErrGrantConsumed = errors.New("auth: grant already consumed")

	// ErrGrantMismatch is returned when a debit differs from what the grant
	// allows in granter, grantee, asset or amount.
	ErrGrantMismatch = errors.New("auth: debit does not match grant")
)

// Grant lets Grantee debit exactly Amount of Asset from Granter, once.
type Grant struct {
	CallID  string
	Granter string
	Grantee string
	Asset   string
	Amount  decimal.Decimal

	mu       sync.Mutex
	consumed bool
}

// NewGrant creates an unconsumed grant with a fresh call id.
func NewGrant(granter, grantee, asset string, amount decimal.Decimal) *Grant {
	return &Grant{
		CallID:  uuid.New().String(),
		Granter: granter,
		Grantee: grantee,
		Asset:   asset,
		Amount:  amount,
	}
}

// Consume spends the grant for one debit. It fails on replay or if any
// field differs; a mismatched attempt does not spend the grant.
func (g *Grant) Consume(granter, grantee, asset string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consumed {
		return fmt.Errorf("%w: call %s", ErrGrantConsumed, g.CallID)
	}
	if g.Granter != granter || g.Grantee != grantee || g.Asset != asset || !g.Amount.Equal(amount) {
		return fmt.Errorf("%w: call %s allows %s %s from %s to %s",
			ErrGrantMismatch, g.CallID, g.Amount, g.Asset, g.Granter, g.Grantee)
	}
	g.consumed = true
	return nil
}

// Consumed reports whether the grant has been spent.
func (g *Grant) Consumed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumed
}

type grantKey struct{}

// WithGrant attaches g to ctx for the next ledger debit.
func WithGrant(ctx context.Context, g *Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// GrantFrom returns the grant carried by ctx, if any.
func GrantFrom(ctx context.Context) (*Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(*Grant)
	return g, ok && g != nil
}
