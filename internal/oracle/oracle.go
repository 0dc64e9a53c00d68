// Package oracle reads prices from a price feed and enforces freshness.
// Nothing is cached: every call goes to the feed.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/fixedpoint"
	"github.com/atmx/margin-pool/internal/model"
)

// MaxPriceAge is how old a price may be before it is rejected.
const MaxPriceAge = 24 * time.Hour

var (
	ErrStalePriceData = model.NewError(507, "StalePriceData", "oracle: stale price data")
	ErrPriceNotFound  = errors.New("oracle: no price for asset")
	ErrUnknownFeed    = errors.New("oracle: unknown price feed")
)

// PriceFeed returns the latest observation for an asset.
type PriceFeed interface {
	LastPrice(ctx context.Context, asset string) (model.PriceData, error)
}

// PriceSetter accepts new observations.
type PriceSetter interface {
	SetPrice(ctx context.Context, asset string, pd model.PriceData) error
}

// Directory resolves the oracle ids persisted by the engines to feeds.
type Directory map[string]PriceFeed

// Feed returns the feed registered under id.
func (d Directory) Feed(id string) (PriceFeed, error) {
	f, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, id)
	}
	return f, nil
}

// Pair is the two assets of a pool.
type Pair struct {
	A, B string
}

// Other returns the pool asset that is not asset.
func (p Pair) Other(asset string) (string, error) {
	switch asset {
	case p.A:
		return p.B, nil
	case p.B:
		return p.A, nil
	}
	return "", model.InvalidInputf("asset %s is not in pair %s/%s", asset, p.A, p.B)
}

// LoadPrice returns the latest price of asset, failing with
// ErrStalePriceData when the observation is more than MaxPriceAge old.
func LoadPrice(ctx context.Context, feed PriceFeed, asset string, now time.Time) (decimal.Decimal, error) {
	pd, err := feed.LastPrice(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if pd.Timestamp.Add(MaxPriceAge).Before(now) {
		return decimal.Zero, fmt.Errorf("%w: %s last updated %s", ErrStalePriceData, asset, pd.Timestamp.Format(time.RFC3339))
	}
	if !pd.Price.IsPositive() {
		return decimal.Zero, model.InvalidInputf("non-positive price %s for %s", pd.Price, asset)
	}
	return pd.Price, nil
}

// LoadRelativePrice returns floor(price(asset) * 1e7 / price(other)) where
// other is the second asset of pair. A result that floors to zero is
// rejected.
func LoadRelativePrice(ctx context.Context, feed PriceFeed, pair Pair, asset string, now time.Time) (decimal.Decimal, error) {
	other, err := pair.Other(asset)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := LoadPrice(ctx, feed, asset, now)
	if err != nil {
		return decimal.Zero, err
	}
	otherPrice, err := LoadPrice(ctx, feed, other, now)
	if err != nil {
		return decimal.Zero, err
	}
	rel := fixedpoint.DivFloor(price, otherPrice)
	if !rel.IsPositive() {
		return decimal.Zero, model.InvalidInputf("%s/%s price rounds to zero", asset, other)
	}
	return rel, nil
}
