package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/ledger"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/store"
)

const (
	poolID   = "pool"
	engineID = "position-engine"
	adminID  = "admin"
	issuer   = "issuer"
	oracleID = "oracle"
	usdc     = "USDC"
	xlm      = "XLM"
	slp      = "SLP"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func n(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func u(v int64) decimal.Decimal { return fixedpoint.FromInt(v) }

type testEnv struct {
	st     *store.MemoryStore
	ledger *ledger.Ledger
	feed   *oracle.MemoryFeed
	pool   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newUninitialized(t)
	err := env.pool.Initialize(signed(adminID), adminID, oracleID, engineID, slp,
		model.TokenInfo{Asset: usdc, TotalSupply: decimal.Zero, TargetRatio: n(5_000_000)},
		model.TokenInfo{Asset: xlm, TotalSupply: decimal.Zero, TargetRatio: n(5_000_000)},
	)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return env
}

func newUninitialized(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := ledger.New(st, auth.ContextVerifier{})
	for _, a := range []string{usdc, xlm} {
		if err := l.CreateAsset(ctx, a, issuer); err != nil {
			t.Fatalf("create %s: %v", a, err)
		}
	}
	if err := l.CreateAsset(ctx, slp, poolID); err != nil {
		t.Fatalf("create slp: %v", err)
	}

	feed := oracle.NewMemoryFeed()
	feed.Set(usdc, 10_000_000, t0)
	feed.Set(xlm, 1_000_000, t0)

	p := NewEngine(poolID, st, l, oracle.Directory{oracleID: feed}, auth.ContextVerifier{}).
		WithClock(func() time.Time { return t0 })

	env := &testEnv{st: st, ledger: l, feed: feed, pool: p}
	for _, user := range []string{"frodo", "henk", "samwise"} {
		env.fund(t, user, usdc, u(10_000))
		env.fund(t, user, xlm, u(100_000))
	}
	return env
}

func signed(id string) context.Context {
	return auth.WithSigner(context.Background(), id)
}

// asEngine builds the context the position engine presents to Borrow.
func asEngine(asset string) context.Context {
	return auth.WithArgs(auth.WithInvoker(context.Background(), engineID), engineID, asset)
}

func (env *testEnv) fund(t *testing.T, holder, asset string, amount decimal.Decimal) {
	t.Helper()
	if err := env.ledger.Mint(signed(issuer), asset, holder, amount); err != nil {
		t.Fatalf("mint %s to %s: %v", asset, holder, err)
	}
}

func (env *testEnv) balance(t *testing.T, holder, asset string) decimal.Decimal {
	t.Helper()
	b, err := env.ledger.Balance(context.Background(), asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (env *testEnv) supply(t *testing.T, asset string) decimal.Decimal {
	t.Helper()
	info, err := env.pool.TokenInfo(context.Background(), asset)
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	return info.TotalSupply
}

func (env *testEnv) deposit(t *testing.T, user string, a, b decimal.Decimal) decimal.Decimal {
	t.Helper()
	minted, err := env.pool.Deposit(signed(user), user, a, b)
	if err != nil {
		t.Fatalf("deposit by %s: %v", user, err)
	}
	return minted
}

func expect(t *testing.T, what string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(n(want)) {
		t.Errorf("%s = %s, want %d", what, got, want)
	}
}

// --- Initialize ---

func TestInitialize_Twice(t *testing.T) {
	env := newTestEnv(t)
	err := env.pool.Initialize(signed(adminID), adminID, oracleID, engineID, slp,
		model.TokenInfo{Asset: usdc, TargetRatio: n(5_000_000)},
		model.TokenInfo{Asset: xlm, TargetRatio: n(5_000_000)},
	)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name   string
		a, b   model.TokenInfo
		expect error
	}{
		{
			"ratios sum below one",
			model.TokenInfo{Asset: usdc, TargetRatio: n(5_000_000)},
			model.TokenInfo{Asset: xlm, TargetRatio: n(4_999_999)},
			ErrInvalidTargetRatio,
		},
		{
			"ratios sum above one",
			model.TokenInfo{Asset: usdc, TargetRatio: n(6_000_000)},
			model.TokenInfo{Asset: xlm, TargetRatio: n(5_000_000)},
			ErrInvalidTargetRatio,
		},
		{
			"negative ratio",
			model.TokenInfo{Asset: usdc, TargetRatio: n(-5_000_000)},
			model.TokenInfo{Asset: xlm, TargetRatio: n(15_000_000)},
			ErrInvalidTargetRatio,
		},
		{
			"ratio above one",
			model.TokenInfo{Asset: usdc, TargetRatio: n(10_000_001)},
			model.TokenInfo{Asset: xlm, TargetRatio: n(-1)},
			ErrInvalidTargetRatio,
		},
		{
			"non-zero supply",
			model.TokenInfo{Asset: usdc, TotalSupply: n(1), TargetRatio: n(5_000_000)},
			model.TokenInfo{Asset: xlm, TargetRatio: n(5_000_000)},
			ErrInvalidTokenSupply,
		},
		{
			"same asset twice",
			model.TokenInfo{Asset: usdc, TargetRatio: n(5_000_000)},
			model.TokenInfo{Asset: usdc, TargetRatio: n(5_000_000)},
			model.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newUninitialized(t)
			err := env.pool.Initialize(signed(adminID), adminID, oracleID, engineID, slp, tt.a, tt.b)
			if !errors.Is(err, tt.expect) {
				t.Errorf("expected %v, got %v", tt.expect, err)
			}
			if _, err := env.pool.State(context.Background()); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("failed initialize left state behind: %v", err)
			}
		})
	}
}

func TestInitialize_RequiresAdmin(t *testing.T) {
	env := newUninitialized(t)
	err := env.pool.Initialize(signed("mallory"), adminID, oracleID, engineID, slp,
		model.TokenInfo{Asset: usdc, TargetRatio: n(5_000_000)},
		model.TokenInfo{Asset: xlm, TargetRatio: n(5_000_000)},
	)
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	env := newUninitialized(t)
	if _, err := env.pool.Deposit(signed("frodo"), "frodo", u(1), u(1)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := env.pool.SLPSupply(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if id, _ := env.pool.Oracle(ctx); id != oracleID {
		t.Errorf("oracle = %s", id)
	}
	if _, err := env.pool.TokenInfo(ctx, "BTC"); !errors.Is(err, ErrInvalidTokenAddress) {
		t.Errorf("expected ErrInvalidTokenAddress, got %v", err)
	}
	st, err := env.pool.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.PositionManager != engineID || st.SLPToken != slp || !st.SLPSupply.IsZero() {
		t.Errorf("unexpected state %+v", st)
	}
	sum := st.TokenA.TargetRatio.Add(st.TokenB.TargetRatio)
	if !sum.Equal(fixedpoint.Scalar7) {
		t.Errorf("target ratios sum to %s", sum)
	}
}

// --- Deposit ---

func TestDeposit_BalancedFirstDeposit(t *testing.T) {
	env := newTestEnv(t)

	minted := env.deposit(t, "frodo", u(1000), u(10_000))
	expect(t, "minted", minted, 20_000_000_000)
	expect(t, "frodo SLP", env.balance(t, "frodo", slp), 20_000_000_000)
	expect(t, "pool USDC", env.balance(t, poolID, usdc), 10_000_000_000)
	expect(t, "pool XLM", env.balance(t, poolID, xlm), 100_000_000_000)
	expect(t, "USDC supply", env.supply(t, usdc), 10_000_000_000)

	minted = env.deposit(t, "henk", u(1000), u(10_000))
	expect(t, "second minted", minted, 20_000_000_000)
}

func TestDeposit_UnbalancedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))

	_, err := env.pool.Deposit(signed("henk"), "henk", u(1000), u(1000))
	if !errors.Is(err, ErrDepositDoesNotImproveRatio) {
		t.Fatalf("expected ErrDepositDoesNotImproveRatio, got %v", err)
	}
	expect(t, "henk USDC untouched", env.balance(t, "henk", usdc), 100_000_000_000)
	expect(t, "USDC supply untouched", env.supply(t, usdc), 10_000_000_000)
}

func TestDeposit_FirstDepositMustMatchTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pool.Deposit(signed("frodo"), "frodo", u(1000), u(9_999))
	if !errors.Is(err, ErrDepositDoesNotImproveRatio) {
		t.Errorf("expected ErrDepositDoesNotImproveRatio, got %v", err)
	}
}

func TestDeposit_RebalancingAfterPriceMove(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.deposit(t, "henk", u(1000), u(10_000))

	env.feed.Set(xlm, 900_000, t0)
	minted := env.deposit(t, "samwise", decimal.Zero, u(2222))
	expect(t, "minted", minted, 2_105_052_631)

	supply, _ := env.pool.SLPSupply(context.Background())
	expect(t, "slp supply", supply, 42_105_052_631)
}

func TestDeposit_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pool.Deposit(signed("mallory"), "frodo", u(1000), u(10_000))
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDeposit_StalePrice(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Set(xlm, 1_000_000, t0.Add(-25*time.Hour))
	_, err := env.pool.Deposit(signed("frodo"), "frodo", u(1000), u(10_000))
	if !errors.Is(err, oracle.ErrStalePriceData) {
		t.Errorf("expected ErrStalePriceData, got %v", err)
	}
}

func TestDeposit_InvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range [][2]decimal.Decimal{
		{n(-1), u(1)},
		{decimal.Zero, decimal.Zero},
		{decimal.NewFromFloat(0.5), u(1)},
	} {
		if _, err := env.pool.Deposit(signed("frodo"), "frodo", tc[0], tc[1]); !errors.Is(err, model.ErrInvalidInput) {
			t.Errorf("deposit(%s, %s): expected ErrInvalidInput, got %v", tc[0], tc[1], err)
		}
	}
}

func TestDeposit_TooSmallToMintShares(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.feed.Set(xlm, 10_000_000, t0)

	// One raw unit of USDC is worth floor(2000 * 1e7 / 11000e7) = 0 shares.
	_, err := env.pool.Deposit(signed("henk"), "henk", n(1), decimal.Zero)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	expect(t, "henk USDC untouched", env.balance(t, "henk", usdc), 100_000_000_000)
	expect(t, "USDC supply untouched", env.supply(t, usdc), 10_000_000_000)
}

func TestDeposit_InsufficientFundsRollsBack(t *testing.T) {
	env := newTestEnv(t)
	// mallory holds USDC but no XLM: the second transfer fails after the first succeeded.
	env.fund(t, "mallory", usdc, u(1000))
	_, err := env.pool.Deposit(signed("mallory"), "mallory", u(1000), u(10_000))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	expect(t, "mallory USDC", env.balance(t, "mallory", usdc), 10_000_000_000)
	expect(t, "pool USDC", env.balance(t, poolID, usdc), 0)
	expect(t, "USDC supply", env.supply(t, usdc), 0)
}

// --- Withdraw ---

func TestWithdraw_SkewedSequence(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.deposit(t, "henk", u(1000), u(10_000))
	env.feed.Set(xlm, 900_000, t0)
	env.deposit(t, "samwise", decimal.Zero, u(2222))

	// XLM is over-weighted at 0.09: more XLM leaves than a proportional split.
	a, b, err := env.pool.Withdraw(signed("frodo"), "frodo", u(1000))
	if err != nil {
		t.Fatalf("withdraw 1: %v", err)
	}
	expect(t, "w1 USDC", a, 4_750_045_274)
	expect(t, "w1 XLM", b, 52_777_235_833)
	expect(t, "USDC supply", env.supply(t, usdc), 15_249_954_726)
	expect(t, "XLM supply", env.supply(t, xlm), 169_442_764_167)
	supply, _ := env.pool.SLPSupply(context.Background())
	expect(t, "slp supply", supply, 32_105_052_631)

	env.feed.Set(xlm, 1_000_000, t0)
	a, b, err = env.pool.Withdraw(signed("henk"), "henk", u(1000))
	if err != nil {
		t.Fatalf("withdraw 2: %v", err)
	}
	expect(t, "w2 USDC", a, 4_486_144_203)
	expect(t, "w2 XLM", b, 55_416_312_080)
	expect(t, "USDC supply", env.supply(t, usdc), 10_763_810_523)
	expect(t, "XLM supply", env.supply(t, xlm), 114_026_452_087)

	env.feed.Set(xlm, 800_000, t0)
	a, b, err = env.pool.Withdraw(signed("frodo"), "frodo", u(200))
	if err != nil {
		t.Fatalf("withdraw 3: %v", err)
	}
	expect(t, "w3 USDC", a, 1_048_144_692)
	expect(t, "w3 XLM", b, 9_388_428_712)

	expect(t, "frodo SLP", env.balance(t, "frodo", slp), 8_000_000_000)
}

func TestWithdraw_BalancedPoolIsProportional(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))

	a, b, err := env.pool.Withdraw(signed("frodo"), "frodo", u(1000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expect(t, "USDC", a, 5_000_000_000)
	expect(t, "XLM", b, 50_000_000_000)
}

func TestWithdraw_MoreThanSupply(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	_, _, err := env.pool.Withdraw(signed("frodo"), "frodo", u(2001))
	if !errors.Is(err, ErrInsufficientFundsForWithdrawal) {
		t.Errorf("expected ErrInsufficientFundsForWithdrawal, got %v", err)
	}
}

func TestWithdraw_EmptyPool(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.pool.Withdraw(signed("frodo"), "frodo", u(1))
	if !errors.Is(err, ErrInsufficientFundsForWithdrawal) {
		t.Errorf("expected ErrInsufficientFundsForWithdrawal, got %v", err)
	}
}

func TestWithdraw_SharesNotOwned(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	_, _, err := env.pool.Withdraw(signed("henk"), "henk", u(100))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	expect(t, "USDC supply", env.supply(t, usdc), 10_000_000_000)
	supply, _ := env.pool.SLPSupply(context.Background())
	expect(t, "slp supply", supply, 20_000_000_000)
}

func TestWithdraw_HeldBalanceShort(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	if err := env.pool.Borrow(asEngine(xlm), xlm, u(9000), decimal.Zero); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	_, _, err := env.pool.Withdraw(signed("frodo"), "frodo", u(2000))
	if !errors.Is(err, ErrInsufficientFundsForWithdrawal) {
		t.Errorf("expected ErrInsufficientFundsForWithdrawal, got %v", err)
	}
}

func TestSplitWithdrawal_CapsSkew(t *testing.T) {
	// 90% A against a 50% target would skew A's share past the whole withdrawal.
	outA, outB := splitWithdrawal(u(100), u(900), u(1000), n(5_000_000))
	expect(t, "A", outA, 1_000_000_000)
	expect(t, "B", outB, 0)
}

// poolValue returns the pool's value and its ratio gap to the target at
// the given XLM price, computed the way the pool does.
func (env *testEnv) poolValue(t *testing.T, xlmPrice int64) (total, gap decimal.Decimal) {
	t.Helper()
	st, err := env.pool.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	valueA := fixedpoint.MulFloor(st.TokenA.TotalSupply, n(10_000_000))
	valueB := fixedpoint.MulFloor(st.TokenB.TotalSupply, n(xlmPrice))
	total = valueA.Add(valueB)
	if total.IsZero() {
		return total, decimal.Zero
	}
	return total, fixedpoint.DivFloor(valueA, total).Sub(st.TokenA.TargetRatio).Abs()
}

func TestLiquidity_SolventAcrossPriceMoves(t *testing.T) {
	env := newTestEnv(t)
	users := []string{"frodo", "henk", "samwise"}

	steps := []struct {
		xlmPrice int64
		user     string
		a, b     int64 // whole units to deposit
		shares   int64 // whole shares to withdraw; -1 withdraws half the balance
	}{
		{xlmPrice: 1_000_000, user: "frodo", a: 1000, b: 10_000},
		{xlmPrice: 1_000_000, user: "henk", a: 500, b: 5000},
		{xlmPrice: 900_000, user: "samwise", b: 2222},
		{xlmPrice: 900_000, user: "henk", b: 1000},
		{xlmPrice: 900_000, user: "frodo", shares: 500},
		{xlmPrice: 1_200_000, user: "samwise", a: 300},
		{xlmPrice: 1_200_000, user: "frodo", b: 500},
		{xlmPrice: 1_200_000, user: "henk", shares: -1},
		{xlmPrice: 800_000, user: "henk", a: 200},
		{xlmPrice: 800_000, user: "samwise", shares: -1},
		{xlmPrice: 1_000_000, user: "frodo", shares: -1},
	}

	// Fees repaid into the pool are the only value not brought by depositors.
	env.deposit(t, "frodo", u(100), u(1000))
	if err := env.pool.Borrow(asEngine(xlm), xlm, u(200), decimal.Zero); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.fund(t, engineID, xlm, u(5))
	g := auth.NewGrant(engineID, poolID, xlm, u(205))
	if err := env.pool.Repay(auth.WithGrant(auth.WithInvoker(context.Background(), engineID), g), xlm, u(200), u(5)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	deposited := map[string]decimal.Decimal{usdc: u(100), xlm: u(1000)}
	withdrawn := map[string]decimal.Decimal{usdc: decimal.Zero, xlm: decimal.Zero}
	fees := u(5)

	var acceptedDeposits, acceptedWithdrawals int
	for i, step := range steps {
		env.feed.Set(xlm, step.xlmPrice, t0)
		total, gap := env.poolValue(t, step.xlmPrice)

		if step.shares == 0 {
			a, b := u(step.a), u(step.b)
			_, err := env.pool.Deposit(signed(step.user), step.user, a, b)
			switch {
			case err == nil:
				acceptedDeposits++
				deposited[usdc] = deposited[usdc].Add(a)
				deposited[xlm] = deposited[xlm].Add(b)
				if _, after := env.poolValue(t, step.xlmPrice); after.GreaterThan(gap) {
					t.Errorf("step %d: accepted deposit widened the ratio gap from %s to %s", i, gap, after)
				}
			case errors.Is(err, ErrDepositDoesNotImproveRatio):
				if after, _ := env.poolValue(t, step.xlmPrice); !after.Equal(total) {
					t.Errorf("step %d: rejected deposit changed pool value", i)
				}
			default:
				t.Fatalf("step %d: deposit: %v", i, err)
			}
		} else {
			shares := u(step.shares)
			if step.shares < 0 {
				shares = env.balance(t, step.user, slp).Div(n(2)).Floor()
			}
			slpSupply, _ := env.pool.SLPSupply(context.Background())
			a, b, err := env.pool.Withdraw(signed(step.user), step.user, shares)
			switch {
			case err == nil:
				acceptedWithdrawals++
				withdrawn[usdc] = withdrawn[usdc].Add(a)
				withdrawn[xlm] = withdrawn[xlm].Add(b)
				// The payout is worth at most the withdrawn share of the pool.
				out := fixedpoint.MulFloor(a, n(10_000_000)).Add(fixedpoint.MulFloor(b, n(step.xlmPrice)))
				if out.Mul(slpSupply).GreaterThan(total.Mul(shares)) {
					t.Errorf("step %d: %s withdrew %s of value for %s/%s shares of %s", i, step.user, out, shares, slpSupply, total)
				}
			case errors.Is(err, ErrInsufficientFundsForWithdrawal):
				if after, _ := env.poolValue(t, step.xlmPrice); !after.Equal(total) {
					t.Errorf("step %d: rejected withdrawal changed pool value", i)
				}
			default:
				t.Fatalf("step %d: withdraw: %v", i, err)
			}
		}

		// Nothing is lent out, so held balances match recorded supply.
		for _, asset := range []string{usdc, xlm} {
			if held, sup := env.balance(t, poolID, asset), env.supply(t, asset); !held.Equal(sup) || held.IsNegative() {
				t.Errorf("step %d: pool holds %s %s, records %s", i, held, asset, sup)
			}
		}
		shareTotal := decimal.Zero
		for _, user := range users {
			shareTotal = shareTotal.Add(env.balance(t, user, slp))
		}
		if slpSupply, _ := env.pool.SLPSupply(context.Background()); !slpSupply.Equal(shareTotal) {
			t.Errorf("step %d: slp supply %s, holders own %s", i, slpSupply, shareTotal)
		}
	}

	if acceptedDeposits < 3 || acceptedWithdrawals < 1 {
		t.Fatalf("sequence too degenerate: %d deposits, %d withdrawals accepted", acceptedDeposits, acceptedWithdrawals)
	}
	if withdrawn[usdc].GreaterThan(deposited[usdc]) {
		t.Errorf("withdrew %s USDC of %s deposited", withdrawn[usdc], deposited[usdc])
	}
	if withdrawn[xlm].GreaterThan(deposited[xlm].Add(fees)) {
		t.Errorf("withdrew %s XLM of %s deposited plus %s fees", withdrawn[xlm], deposited[xlm], fees)
	}
}

// --- Borrow / Repay ---

func TestBorrow(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))

	if err := env.pool.Borrow(asEngine(xlm), xlm, u(2000), n(6003)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	expect(t, "engine XLM", env.balance(t, engineID, xlm), 20_000_000_000)
	expect(t, "pool XLM", env.balance(t, poolID, xlm), 80_000_000_000)
	expect(t, "XLM supply", env.supply(t, xlm), 100_000_006_003)
}

func TestBorrow_ReserveFloor(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))

	// Exactly down to 10% of supply is allowed.
	if err := env.pool.Borrow(asEngine(xlm), xlm, u(9000), decimal.Zero); err != nil {
		t.Fatalf("borrow to the floor: %v", err)
	}
	err := env.pool.Borrow(asEngine(xlm), xlm, n(1), decimal.Zero)
	if !errors.Is(err, ErrExcessiveBorrowing) {
		t.Errorf("expected ErrExcessiveBorrowing, got %v", err)
	}
	held := env.balance(t, poolID, xlm)
	floor := env.supply(t, xlm).Div(n(10))
	if held.LessThan(floor) {
		t.Errorf("held %s below reserve floor %s", held, floor)
	}
}

func TestBorrow_InsufficientLiquidity(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	err := env.pool.Borrow(asEngine(xlm), xlm, u(10_001), decimal.Zero)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestBorrow_Authorization(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))

	stranger := auth.WithArgs(auth.WithInvoker(context.Background(), "mallory"), "mallory", xlm)
	if err := env.pool.Borrow(stranger, xlm, u(1), decimal.Zero); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("stranger: expected ErrUnauthorized, got %v", err)
	}

	noArgs := auth.WithInvoker(context.Background(), engineID)
	if err := env.pool.Borrow(noArgs, xlm, u(1), decimal.Zero); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("missing args authorization: expected ErrUnauthorized, got %v", err)
	}

	if err := env.pool.Borrow(asEngine(usdc), xlm, u(1), decimal.Zero); !errors.Is(err, auth.ErrArgsMismatch) {
		t.Errorf("args for another asset: expected ErrArgsMismatch, got %v", err)
	}
}

func TestBorrow_UnknownAsset(t *testing.T) {
	env := newTestEnv(t)
	err := env.pool.Borrow(asEngine("BTC"), "BTC", u(1), decimal.Zero)
	if !errors.Is(err, ErrInvalidTokenAddress) {
		t.Errorf("expected ErrInvalidTokenAddress, got %v", err)
	}
}

func TestRepay_WithGrant(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.pool.Borrow(asEngine(xlm), xlm, u(2000), decimal.Zero)
	env.fund(t, engineID, xlm, u(10))

	g := auth.NewGrant(engineID, poolID, xlm, u(2010))
	ctx := auth.WithGrant(auth.WithInvoker(context.Background(), engineID), g)
	if err := env.pool.Repay(ctx, xlm, u(2000), u(10)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !g.Consumed() {
		t.Error("grant was not consumed")
	}
	expect(t, "pool XLM", env.balance(t, poolID, xlm), 100_100_000_000)
	expect(t, "XLM supply", env.supply(t, xlm), 100_100_000_000)

	// Replaying the spent grant fails and changes nothing.
	if err := env.pool.Repay(ctx, xlm, u(2000), u(10)); !errors.Is(err, auth.ErrGrantConsumed) {
		t.Errorf("expected ErrGrantConsumed, got %v", err)
	}
	expect(t, "XLM supply after replay", env.supply(t, xlm), 100_100_000_000)
}

func TestRepay_WithoutGrant(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.pool.Borrow(asEngine(xlm), xlm, u(2000), decimal.Zero)

	ctx := auth.WithInvoker(context.Background(), engineID)
	err := env.pool.Repay(ctx, xlm, u(2000), decimal.Zero)
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	expect(t, "pool XLM", env.balance(t, poolID, xlm), 80_000_000_000)
}

func TestRepay_GrantAmountMismatchRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.pool.Borrow(asEngine(xlm), xlm, u(2000), decimal.Zero)

	g := auth.NewGrant(engineID, poolID, xlm, u(1000))
	ctx := auth.WithGrant(auth.WithInvoker(context.Background(), engineID), g)
	err := env.pool.Repay(ctx, xlm, u(2000), u(5))
	if !errors.Is(err, auth.ErrGrantMismatch) {
		t.Fatalf("expected ErrGrantMismatch, got %v", err)
	}
	expect(t, "XLM supply", env.supply(t, xlm), 100_000_000_000)
}

func TestRepay_NegativeFeeWritesDownSupply(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "frodo", u(1000), u(10_000))
	env.pool.Borrow(asEngine(xlm), xlm, u(2000), decimal.Zero)

	// The engine returns only 1500 of the 2000 borrowed.
	g := auth.NewGrant(engineID, poolID, xlm, u(1500))
	ctx := auth.WithGrant(auth.WithInvoker(context.Background(), engineID), g)
	if err := env.pool.Repay(ctx, xlm, u(2000), u(-500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	expect(t, "XLM supply", env.supply(t, xlm), 95_000_000_000)
}

func TestRepay_OnlyPositionManager(t *testing.T) {
	env := newTestEnv(t)
	err := env.pool.Repay(signed("frodo"), xlm, u(1), decimal.Zero)
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
