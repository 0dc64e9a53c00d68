package pool

import "github.com/atmx/margin-pool/internal/model"

var (
	ErrNotInitialized                 = model.NewError(500, "NotInitialized", "pool: not initialized")
	ErrAlreadyInitialized             = model.NewError(501, "AlreadyInitialized", "pool: already initialized")
	ErrInvalidTokenSupply             = model.NewError(502, "InvalidTokenSupply", "pool: initial token supply must be zero")
	ErrInvalidTargetRatio             = model.NewError(503, "InvalidTargetRatio", "pool: target ratios must sum to 1.0")
	ErrDepositDoesNotImproveRatio     = model.NewError(504, "DepositDoesNotImproveRatio", "pool: deposit moves the pool away from its target ratio")
	ErrInsufficientLiquidity          = model.NewError(505, "InsufficientLiquidity", "pool: insufficient liquidity")
	ErrInvalidTokenAddress            = model.NewError(506, "InvalidTokenAddress", "pool: asset is not a pool token")
	ErrInsufficientFundsForWithdrawal = model.NewError(508, "InsufficientFundsForWithdrawal", "pool: insufficient funds for withdrawal")
	ErrExcessiveBorrowing             = model.NewError(509, "ExcessiveBorrowing", "pool: borrow would breach the reserve floor")
)
