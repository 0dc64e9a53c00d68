// Package pool implements the two-asset liquidity pool: deposits and
// withdrawals against a target allocation, share (SLP) issuance, and the
// borrow/repay facility used by the position engine.
//
// Every exported mutator runs as one unit of work on the injected store;
// a failure anywhere, including in the ledger, leaves no trace.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/metrics"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/store"
)

const namespace = "pool"

const (
	keyAdmin           = "Admin"
	keyOracle          = "Oracle"
	keyPositionManager = "PositionManager"
	keySLPToken        = "SlpToken"
	keySLPSupply       = "SlpSupply"
	keyTokenA          = "TokenA"
	keyTokenB          = "TokenB"
)

// AssetLedger moves the pool's tokens and its share token.
type AssetLedger interface {
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
	Balance(ctx context.Context, asset, holder string) (decimal.Decimal, error)
	Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error
	Burn(ctx context.Context, asset, from string, amount decimal.Decimal) error
}

// Engine is one liquidity pool. id is the pool's own identity on the ledger.
type Engine struct {
	id     string
	store  store.Store
	ledger AssetLedger
	feeds  oracle.Directory
	auth   auth.Verifier
	now    func() time.Time
}

// NewEngine creates a pool engine. The pool is unusable until Initialize.
func NewEngine(id string, st store.Store, l AssetLedger, feeds oracle.Directory, v auth.Verifier) *Engine {
	return &Engine{
		id:     id,
		store:  st,
		ledger: l,
		feeds:  feeds,
		auth:   v,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for price freshness checks.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ID returns the pool's ledger identity.
func (e *Engine) ID() string { return e.id }

// state is the pool's persistent record, loaded per unit of work.
type state struct {
	admin           string
	oracle          string
	positionManager string
	slpToken        string
	slpSupply       decimal.Decimal
	tokenA          model.TokenInfo
	tokenB          model.TokenInfo
}

// token returns the entry for asset and the key it is stored under.
func (s *state) token(asset string) (*model.TokenInfo, string, error) {
	switch asset {
	case s.tokenA.Asset:
		return &s.tokenA, keyTokenA, nil
	case s.tokenB.Asset:
		return &s.tokenB, keyTokenB, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrInvalidTokenAddress, asset)
}

func (e *Engine) load(ctx context.Context) (*state, error) {
	ok, err := e.store.Has(ctx, namespace, keyAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	var s state
	for key, dst := range map[string]any{
		keyAdmin:           &s.admin,
		keyOracle:          &s.oracle,
		keyPositionManager: &s.positionManager,
		keySLPToken:        &s.slpToken,
		keySLPSupply:       &s.slpSupply,
		keyTokenA:          &s.tokenA,
		keyTokenB:          &s.tokenB,
	} {
		if err := e.store.Get(ctx, namespace, key, dst); err != nil {
			return nil, fmt.Errorf("load pool %s: %w", key, err)
		}
	}
	return &s, nil
}

func (e *Engine) save(ctx context.Context, kv map[string]any) error {
	for key, v := range kv {
		if err := e.store.Set(ctx, namespace, key, v); err != nil {
			return err
		}
	}
	return nil
}

// Initialize configures the pool once; admin must authorize. Both token entries must start with a
// zero supply and their target ratios must lie in [0, 1] and sum to exactly 1.0.
func (e *Engine) Initialize(ctx context.Context, admin, oracleID, positionManager, slpToken string, tokenA, tokenB model.TokenInfo) error {
	start := time.Now()
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.Extend(ctx, namespace); err != nil {
			return err
		}
		initialized, err := e.store.Has(ctx, namespace, keyAdmin)
		if err != nil {
			return err
		}
		if initialized {
			return ErrAlreadyInitialized
		}
		if err := e.auth.RequireAuth(ctx, admin); err != nil {
			return err
		}
		if admin == "" || oracleID == "" || positionManager == "" || slpToken == "" {
			return model.InvalidInputf("admin, oracle, position manager and share token are required")
		}
		if tokenA.Asset == "" || tokenB.Asset == "" || tokenA.Asset == tokenB.Asset {
			return model.InvalidInputf("pool needs two distinct assets")
		}
		if !tokenA.TotalSupply.IsZero() || !tokenB.TotalSupply.IsZero() {
			return ErrInvalidTokenSupply
		}
		for _, ratio := range []decimal.Decimal{tokenA.TargetRatio, tokenB.TargetRatio} {
			if ratio.IsNegative() || ratio.GreaterThan(fixedpoint.Scalar7) {
				return ErrInvalidTargetRatio
			}
		}
		if !tokenA.TargetRatio.Add(tokenB.TargetRatio).Equal(fixedpoint.Scalar7) {
			return ErrInvalidTargetRatio
		}
		if _, err := e.feeds.Feed(oracleID); err != nil {
			return model.InvalidInputf("%v", err)
		}
		return e.save(ctx, map[string]any{
			keyAdmin:           admin,
			keyOracle:          oracleID,
			keyPositionManager: positionManager,
			keySLPToken:        slpToken,
			keySLPSupply:       decimal.Zero,
			keyTokenA:          tokenA,
			keyTokenB:          tokenB,
		})
	})
	metrics.Observe("pool_initialize", start, err)
	if err != nil {
		return err
	}
	slog.Info("pool initialized",
		"pool", e.id,
		"admin", admin,
		"oracle", oracleID,
		"position_manager", positionManager,
		"token_a", tokenA.Asset,
		"token_b", tokenB.Asset,
	)
	return nil
}

// Oracle returns the configured oracle id.
func (e *Engine) Oracle(ctx context.Context) (string, error) {
	s, err := e.load(ctx)
	if err != nil {
		return "", err
	}
	return s.oracle, nil
}

// SLPSupply returns the outstanding share supply.
func (e *Engine) SLPSupply(ctx context.Context) (decimal.Decimal, error) {
	s, err := e.load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return s.slpSupply, nil
}

// TokenInfo returns the pool's entry for asset.
func (e *Engine) TokenInfo(ctx context.Context, asset string) (model.TokenInfo, error) {
	s, err := e.load(ctx)
	if err != nil {
		return model.TokenInfo{}, err
	}
	t, _, err := s.token(asset)
	if err != nil {
		return model.TokenInfo{}, err
	}
	return *t, nil
}

// State returns a snapshot of the whole pool record.
func (e *Engine) State(ctx context.Context) (model.PoolState, error) {
	s, err := e.load(ctx)
	if err != nil {
		return model.PoolState{}, err
	}
	return model.PoolState{
		Admin:           s.admin,
		Oracle:          s.oracle,
		PositionManager: s.positionManager,
		SLPToken:        s.slpToken,
		SLPSupply:       s.slpSupply,
		TokenA:          s.tokenA,
		TokenB:          s.tokenB,
	}, nil
}

// prices loads both token prices from the configured oracle.
func (e *Engine) prices(ctx context.Context, s *state) (decimal.Decimal, decimal.Decimal, error) {
	feed, err := e.feeds.Feed(s.oracle)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	now := e.now()
	priceA, err := oracle.LoadPrice(ctx, feed, s.tokenA.Asset, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	priceB, err := oracle.LoadPrice(ctx, feed, s.tokenB.Asset, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return priceA, priceB, nil
}

// asPool marks ledger calls as made by the pool itself.
func (e *Engine) asPool(ctx context.Context) context.Context {
	return auth.WithInvoker(ctx, e.id)
}

func requireAmount(name string, v decimal.Decimal) error {
	if v.IsNegative() || !fixedpoint.IsWhole(v) {
		return model.InvalidInputf("%s must be a non-negative whole number of units, got %s", name, v)
	}
	return nil
}
