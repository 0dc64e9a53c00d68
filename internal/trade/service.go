// Package trade provides the HTTP API over the liquidity pool and the
// position engine: liquidity provision, leveraged positions, keeper calls
// and price administration.
//
// All monetary values are scaled integers in shopspring/decimal, encoded as
// JSON strings. Identity comes from the bearer token installed by
// auth.Middleware; the engines decide what each identity may do.
package trade

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/pool"
	"github.com/atmx/margin-pool/internal/position"
)

// Pool is the liquidity pool as seen by the API.
type Pool interface {
	Initialize(ctx context.Context, admin, oracleID, positionManager, slpToken string, tokenA, tokenB model.TokenInfo) error
	Deposit(ctx context.Context, user string, amountA, amountB decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, user string, shares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	State(ctx context.Context) (model.PoolState, error)
	TokenInfo(ctx context.Context, asset string) (model.TokenInfo, error)
}

// Positions is the position engine as seen by the API.
type Positions interface {
	OpenPosition(ctx context.Context, user string, input, leverage decimal.Decimal, asset string) (decimal.Decimal, error)
	OpenLimitPosition(ctx context.Context, user string, input, leverage decimal.Decimal, asset string, limitPrice decimal.Decimal) (decimal.Decimal, error)
	AddStopLoss(ctx context.Context, user string, price decimal.Decimal) error
	AddTakeProfit(ctx context.Context, user string, price decimal.Decimal) error
	FillPosition(ctx context.Context, user, feeTaker string) (position.FillResult, error)
	ClosePosition(ctx context.Context, user string) (model.Settlement, error)
	Liquidate(ctx context.Context, user, liquidator string) (model.Settlement, error)
	GetPosition(ctx context.Context, user string) (model.Position, error)
	Status(ctx context.Context, user string) (position.Status, error)
}

// Balances is the read side of the asset ledger plus admin minting.
type Balances interface {
	Balance(ctx context.Context, asset, holder string) (decimal.Decimal, error)
	Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error
}

var (
	_ Pool      = (*pool.Engine)(nil)
	_ Positions = (*position.Engine)(nil)
)

// Service holds the HTTP handlers. The engines serialize their own units
// of work, so handlers need no locking.
type Service struct {
	pool      Pool
	positions Positions
	balances  Balances
	prices    oracle.PriceSetter
	admin     string
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a new API service. admin is the identity allowed to
// push prices. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(p Pool, positions Positions, balances Balances, prices oracle.PriceSetter, admin string, hub *WSHub) *Service {
	return &Service{
		pool:      p,
		positions: positions,
		balances:  balances,
		prices:    prices,
		admin:     admin,
		wsHub:     hub,
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the API routes, to be mounted under /api/v1.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/pool", func(r chi.Router) {
		r.Get("/", s.GetPool)
		r.Post("/initialize", s.InitializePool)
		r.Post("/deposit", s.Deposit)
		r.Post("/withdraw", s.Withdraw)
		r.Get("/tokens/{asset}", s.GetTokenInfo)
	})

	r.Route("/positions", func(r chi.Router) {
		r.Post("/", s.OpenPosition)
		r.Post("/limit", s.OpenLimitPosition)
		r.Post("/stop-loss", s.AddStopLoss)
		r.Post("/take-profit", s.AddTakeProfit)
		r.Post("/close", s.ClosePosition)
		r.Get("/{user}", s.GetPosition)
		r.Get("/{user}/status", s.GetStatus)
		r.Post("/{user}/fill", s.FillPosition)
		r.Post("/{user}/liquidate", s.Liquidate)
	})

	r.Post("/oracle/prices", s.SetPrice)
	r.Post("/ledger/mint", s.Mint)
	r.Get("/balances/{holder}/{asset}", s.GetBalance)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
	return r
}

// --- Pool ---

// TokenConfig configures one pool asset at initialization.
type TokenConfig struct {
	Asset       string          `json:"asset" validate:"required,asset"`
	TargetRatio decimal.Decimal `json:"target_ratio" validate:"positive_units"`
}

// InitializePoolRequest is the JSON body for POST /pool/initialize.
type InitializePoolRequest struct {
	Admin           string      `json:"admin" validate:"required"`
	Oracle          string      `json:"oracle" validate:"required"`
	PositionManager string      `json:"position_manager" validate:"required"`
	SLPToken        string      `json:"slp_token" validate:"required,asset"`
	TokenA          TokenConfig `json:"token_a" validate:"required"`
	TokenB          TokenConfig `json:"token_b" validate:"required"`
}

// DepositRequest is the JSON body for POST /pool/deposit.
type DepositRequest struct {
	User    string          `json:"user" validate:"required"`
	AmountA decimal.Decimal `json:"amount_a" validate:"units"`
	AmountB decimal.Decimal `json:"amount_b" validate:"units"`
}

// DepositResponse reports the shares minted by a deposit.
type DepositResponse struct {
	Minted decimal.Decimal `json:"minted"`
}

// WithdrawRequest is the JSON body for POST /pool/withdraw.
type WithdrawRequest struct {
	User   string          `json:"user" validate:"required"`
	Shares decimal.Decimal `json:"shares" validate:"positive_units"`
}

// WithdrawResponse reports the assets paid out for burned shares.
type WithdrawResponse struct {
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
}

// InitializePool handles POST /api/v1/pool/initialize
func (s *Service) InitializePool(w http.ResponseWriter, r *http.Request) {
	var req InitializePoolRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.pool.Initialize(r.Context(), req.Admin, req.Oracle, req.PositionManager, req.SLPToken,
		model.TokenInfo{Asset: req.TokenA.Asset, TotalSupply: decimal.Zero, TargetRatio: req.TokenA.TargetRatio},
		model.TokenInfo{Asset: req.TokenB.Asset, TotalSupply: decimal.Zero, TargetRatio: req.TokenB.TargetRatio},
	)
	if err != nil {
		writeEngineError(w, r, "initialize_pool", err)
		return
	}

	state, err := s.pool.State(r.Context())
	if err != nil {
		writeEngineError(w, r, "initialize_pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// GetPool handles GET /api/v1/pool
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	state, err := s.pool.State(r.Context())
	if err != nil {
		writeEngineError(w, r, "get_pool", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetTokenInfo handles GET /api/v1/pool/tokens/{asset}
func (s *Service) GetTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.pool.TokenInfo(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, r, "get_token_info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Deposit handles POST /api/v1/pool/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.decode(w, r, &req) {
		return
	}

	minted, err := s.pool.Deposit(r.Context(), req.User, req.AmountA, req.AmountB)
	if err != nil {
		writeEngineError(w, r, "deposit", err)
		return
	}

	s.broadcast(WSMessage{Type: "deposit", User: req.User, Amount: minted.String()})
	writeJSON(w, http.StatusOK, DepositResponse{Minted: minted})
}

// Withdraw handles POST /api/v1/pool/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !s.decode(w, r, &req) {
		return
	}

	a, b, err := s.pool.Withdraw(r.Context(), req.User, req.Shares)
	if err != nil {
		writeEngineError(w, r, "withdraw", err)
		return
	}

	s.broadcast(WSMessage{Type: "withdraw", User: req.User, Amount: req.Shares.String()})
	writeJSON(w, http.StatusOK, WithdrawResponse{AmountA: a, AmountB: b})
}

// --- Prices and balances ---

// SetPriceRequest is the JSON body for POST /oracle/prices. A zero
// timestamp means now.
type SetPriceRequest struct {
	Asset     string          `json:"asset" validate:"required,asset"`
	Price     decimal.Decimal `json:"price" validate:"positive_units"`
	Timestamp time.Time       `json:"timestamp"`
}

// SetPrice handles POST /api/v1/oracle/prices. Only the admin may push.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, "price source is read-only", http.StatusNotImplemented)
		return
	}
	if !auth.IsSigner(r.Context(), s.admin) {
		writeError(w, "admin only", http.StatusForbidden)
		return
	}
	var req SetPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}

	pd := model.PriceData{Price: req.Price, Timestamp: req.Timestamp.UTC()}
	if err := s.prices.SetPrice(r.Context(), req.Asset, pd); err != nil {
		writeEngineError(w, r, "set_price", err)
		return
	}

	slog.Info("price updated", "asset", req.Asset, "price", req.Price.String(), "timestamp", pd.Timestamp)
	s.broadcast(WSMessage{Type: "price_updated", Asset: req.Asset, Price: req.Price.String()})
	writeJSON(w, http.StatusOK, pd)
}

// MintRequest is the JSON body for POST /ledger/mint.
type MintRequest struct {
	Asset  string          `json:"asset" validate:"required,asset"`
	To     string          `json:"to" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"positive_units"`
}

// Mint handles POST /api/v1/ledger/mint. The ledger checks that the caller
// administers the asset.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.balances.Mint(r.Context(), req.Asset, req.To, req.Amount); err != nil {
		writeEngineError(w, r, "mint", err)
		return
	}
	slog.Info("minted", "asset", req.Asset, "to", req.To, "amount", req.Amount.String())

	bal, err := s.balances.Balance(r.Context(), req.Asset, req.To)
	if err != nil {
		writeEngineError(w, r, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Holder: req.To, Asset: req.Asset, Balance: bal})
}

// BalanceResponse is one holder's balance of one asset.
type BalanceResponse struct {
	Holder  string          `json:"holder"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance handles GET /api/v1/balances/{holder}/{asset}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, a := chi.URLParam(r, "holder"), chi.URLParam(r, "asset")
	bal, err := s.balances.Balance(r.Context(), a, holder)
	if err != nil {
		writeEngineError(w, r, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Holder: holder, Asset: a, Balance: bal})
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}
