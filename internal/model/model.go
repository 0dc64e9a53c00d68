// Package model defines the core domain types shared by the pool, the
// position engine and the HTTP layer.
// All monetary values are scaled integers held in shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenInfo is the pool's ledger entry for one of its two assets.
// TotalSupply is the recorded supply (principal plus accrued fees), not the
// raw balance the pool holds on the asset ledger.
type TokenInfo struct {
	Asset       string          `json:"asset"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	TargetRatio decimal.Decimal `json:"target_ratio"`
}

// PoolState is a read-only snapshot of the pool's persistent state.
type PoolState struct {
	Admin           string          `json:"admin"`
	Oracle          string          `json:"oracle"`
	PositionManager string          `json:"position_manager"`
	SLPToken        string          `json:"slp_token"`
	SLPSupply       decimal.Decimal `json:"slp_supply"`
	TokenA          TokenInfo       `json:"token_a"`
	TokenB          TokenInfo       `json:"token_b"`
}

// Position is a trader's single leveraged position.
// An unfilled position is a resting limit order: EntryPrice holds the limit
// price and Borrowed is zero until it fills.
type Position struct {
	User       string          `json:"user"`
	Filled     bool            `json:"filled"`
	Asset      string          `json:"asset"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`   // 0 = unset
	TakeProfit decimal.Decimal `json:"take_profit"` // 0 = unset
	Borrowed   decimal.Decimal `json:"borrowed"`
	Collateral decimal.Decimal `json:"collateral"`
	Leverage   decimal.Decimal `json:"leverage"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// PriceData is one oracle observation. Price is scaled by 1e7.
type PriceData struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Settlement describes how a closed or liquidated position was paid out.
type Settlement struct {
	User      string          `json:"user"`
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Repay     decimal.Decimal `json:"repay"`
	Fee       decimal.Decimal `json:"fee"`
	ToUser    decimal.Decimal `json:"to_user"`
	Reason    string          `json:"reason"` // close, take_profit, stop_loss, liquidation, cancel
	SettledAt time.Time       `json:"settled_at"`
}
