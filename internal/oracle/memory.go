package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/model"
)

// MemoryFeed is a settable in-process feed for tests and development.
type MemoryFeed struct {
	mu     sync.RWMutex
	prices map[string]model.PriceData
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{prices: make(map[string]model.PriceData)}
}

func (f *MemoryFeed) LastPrice(_ context.Context, asset string) (model.PriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pd, ok := f.prices[asset]
	if !ok {
		return model.PriceData{}, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
	}
	return pd, nil
}

func (f *MemoryFeed) SetPrice(_ context.Context, asset string, pd model.PriceData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = pd
	return nil
}

// Set is a shorthand for SetPrice with a scaled integer price.
func (f *MemoryFeed) Set(asset string, price int64, at time.Time) {
	f.SetPrice(context.Background(), asset, model.PriceData{Price: decimal.NewFromInt(price), Timestamp: at})
}
