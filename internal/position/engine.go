// Package position implements the leveraged position engine. A trader
// posts collateral in one pool asset, borrows a multiple of it from the
// pool, and later closes, is filled by a keeper, or is liquidated.
//
// Each trader holds at most one position. Prices are relative prices of
// the position's asset against the other pool asset.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/store"
)

const namespace = "positions"

const (
	keyPool   = "PoolContract"
	keyOracle = "Oracle"
	keyTokenA = "TokenA"
	keyTokenB = "TokenB"
)

// Pool is the lending side of the liquidity pool.
type Pool interface {
	ID() string
	Borrow(ctx context.Context, asset string, amount, fee decimal.Decimal) error
	Repay(ctx context.Context, asset string, amount, fee decimal.Decimal) error
	TokenInfo(ctx context.Context, asset string) (model.TokenInfo, error)
}

// AssetLedger moves collateral and proceeds.
type AssetLedger interface {
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
	Balance(ctx context.Context, asset, holder string) (decimal.Decimal, error)
}

// Limiter vets a position's size before it borrows.
type Limiter interface {
	CheckLimit(leverage, borrowed decimal.Decimal) error
}

// Engine is the position engine. id is its identity on the ledger and the
// position manager the pool was initialized with.
type Engine struct {
	id      string
	store   store.Store
	pool    Pool
	ledger  AssetLedger
	feeds   oracle.Directory
	auth    auth.Verifier
	limiter Limiter
	now     func() time.Time
}

// NewEngine creates a position engine. limiter may be nil.
func NewEngine(id string, st store.Store, p Pool, l AssetLedger, feeds oracle.Directory, v auth.Verifier, limiter Limiter) *Engine {
	return &Engine{
		id:      id,
		store:   st,
		pool:    p,
		ledger:  l,
		feeds:   feeds,
		auth:    v,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for price freshness and funding.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ID returns the engine's ledger identity.
func (e *Engine) ID() string { return e.id }

type config struct {
	pool   string
	oracle string
	pair   oracle.Pair
}

// Initialize records the pool, oracle and asset pair. It can run once.
func (e *Engine) Initialize(ctx context.Context, poolID, oracleID, assetA, assetB string) error {
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		initialized, err := e.store.Has(ctx, namespace, keyPool)
		if err != nil {
			return err
		}
		if initialized {
			return ErrAlreadyInitialized
		}
		if poolID != e.pool.ID() {
			return model.InvalidInputf("pool %s is not the pool this engine lends from", poolID)
		}
		if _, err := e.feeds.Feed(oracleID); err != nil {
			return model.InvalidInputf("%v", err)
		}
		if assetA == "" || assetB == "" || assetA == assetB {
			return model.InvalidInputf("engine needs two distinct assets")
		}
		for key, v := range map[string]string{
			keyPool:   poolID,
			keyOracle: oracleID,
			keyTokenA: assetA,
			keyTokenB: assetB,
		} {
			if err := e.store.Set(ctx, namespace, key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("position engine initialized", "engine", e.id, "pool", poolID, "oracle", oracleID, "asset_a", assetA, "asset_b", assetB)
	return nil
}

func (e *Engine) config(ctx context.Context) (*config, error) {
	ok, err := e.store.Has(ctx, namespace, keyPool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	var c config
	for key, dst := range map[string]*string{
		keyPool:   &c.pool,
		keyOracle: &c.oracle,
		keyTokenA: &c.pair.A,
		keyTokenB: &c.pair.B,
	} {
		if err := e.store.Get(ctx, namespace, key, dst); err != nil {
			return nil, fmt.Errorf("load engine %s: %w", key, err)
		}
	}
	return &c, nil
}

// GetPosition returns user's position.
func (e *Engine) GetPosition(ctx context.Context, user string) (model.Position, error) {
	if _, err := e.config(ctx); err != nil {
		return model.Position{}, err
	}
	return e.position(ctx, user)
}

func (e *Engine) position(ctx context.Context, user string) (model.Position, error) {
	var p model.Position
	err := e.store.Get(ctx, namespace, positionKey(user), &p)
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("%w: %s", ErrNoPositionExists, user)
	}
	return p, err
}

func (e *Engine) hasPosition(ctx context.Context, user string) (bool, error) {
	return e.store.Has(ctx, namespace, positionKey(user))
}

func (e *Engine) savePosition(ctx context.Context, p model.Position) error {
	return e.store.Set(ctx, namespace, positionKey(p.User), p)
}

func (e *Engine) removePosition(ctx context.Context, user string) error {
	return e.store.Delete(ctx, namespace, positionKey(user))
}

// relativePrice loads asset's price in units of the other pool asset.
func (e *Engine) relativePrice(ctx context.Context, c *config, asset string) (decimal.Decimal, error) {
	feed, err := e.feeds.Feed(c.oracle)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := oracle.LoadRelativePrice(ctx, feed, c.pair, asset, e.now())
	if errors.Is(err, oracle.ErrStalePriceData) {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrStalePriceData, err)
	}
	return price, err
}

// asEngine marks ledger calls as made by the engine itself.
func (e *Engine) asEngine(ctx context.Context) context.Context {
	return auth.WithInvoker(ctx, e.id)
}

// borrow draws from the pool, authorizing the call for asset only.
func (e *Engine) borrow(ctx context.Context, asset string, amount, fee decimal.Decimal) error {
	callCtx := auth.WithArgs(e.asEngine(ctx), e.id, asset)
	return e.pool.Borrow(callCtx, asset, amount, fee)
}

// repay returns funds to the pool under a grant covering exactly
// amount+fee of asset.
func (e *Engine) repay(ctx context.Context, asset string, amount, fee decimal.Decimal) error {
	g := auth.NewGrant(e.id, e.pool.ID(), asset, amount.Add(fee))
	callCtx := auth.WithGrant(e.asEngine(ctx), g)
	return e.pool.Repay(callCtx, asset, amount, fee)
}

// quote computes the pool repayment and fee for closing p at current.
func (e *Engine) quote(ctx context.Context, p model.Position, current decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	info, err := e.pool.TokenInfo(ctx, p.Asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	held, err := e.ledger.Balance(ctx, p.Asset, e.pool.ID())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return RepayAndFee(p.Borrowed, p.EntryPrice, current, info.TotalSupply, held, e.now().Sub(p.OpenedAt))
}

func positionKey(user string) string { return "Position:" + user }
