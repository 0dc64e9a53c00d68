package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/atmx/margin-pool/internal/model"
)

// RedisFeed reads prices an external aggregator writes to Redis hashes
// price:<asset> = {price, timestamp}. Calls go through a circuit breaker so
// an unreachable Redis fails fast instead of stalling every unit of work.
type RedisFeed struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
}

// NewRedisFeed creates a feed over rdb.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "price-feed",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// A missing price is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPriceNotFound)
		},
	})
	return &RedisFeed{rdb: rdb, cb: cb}
}

func (f *RedisFeed) LastPrice(ctx context.Context, asset string) (model.PriceData, error) {
	res, err := f.cb.Execute(func() (interface{}, error) {
		vals, err := f.rdb.HGetAll(ctx, priceKey(asset)).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
		}
		return parsePriceHash(asset, vals)
	})
	if err != nil {
		return model.PriceData{}, err
	}
	return res.(model.PriceData), nil
}

func (f *RedisFeed) SetPrice(ctx context.Context, asset string, pd model.PriceData) error {
	return f.rdb.HSet(ctx, priceKey(asset),
		"price", pd.Price.String(),
		"timestamp", strconv.FormatInt(pd.Timestamp.Unix(), 10),
	).Err()
}

func parsePriceHash(asset string, vals map[string]string) (model.PriceData, error) {
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return model.PriceData{}, fmt.Errorf("price for %s: %w", asset, err)
	}
	secs, err := strconv.ParseInt(vals["timestamp"], 10, 64)
	if err != nil {
		return model.PriceData{}, fmt.Errorf("timestamp for %s: %w", asset, err)
	}
	return model.PriceData{Price: price, Timestamp: time.Unix(secs, 0).UTC()}, nil
}

func priceKey(asset string) string { return "price:" + asset }
