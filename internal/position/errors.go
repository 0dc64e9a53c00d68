package position

import "github.com/atmx/margin-pool/internal/model"

var (
	ErrNotInitialized          = model.NewError(600, "NotInitialized", "position: not initialized")
	ErrAlreadyInitialized      = model.NewError(601, "AlreadyInitialized", "position: already initialized")
	ErrPositionAlreadyExists   = model.NewError(602, "PositionAlreadyExists", "position: trader already has a position")
	ErrNoPositionExists        = model.NewError(603, "NoPositionExists", "position: no position for trader")
	ErrStalePriceData          = model.NewError(604, "StalePriceData", "position: stale price data")
	ErrPositionNotLiquidatable = model.NewError(605, "PositionNotLiquidatable", "position: price has not crossed the liquidation threshold")
	ErrPositionNotFilled       = model.NewError(606, "PositionNotFilled", "position: limit price not reached")
)
