package config

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/asset"
)

func envOf(kv map[string]string) func(string) string {
	return func(key string) string { return kv[key] }
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(envOf(map[string]string{"JWT_SECRET": "0123456789abcdef"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != "8080" || c.PriceSource != PriceSourceMemory || c.CacheTTL != 30*time.Second {
		t.Errorf("unexpected defaults %+v", c)
	}
	if c.PoolID != "pool" || c.PositionEngineID != "position-engine" || c.AdminID != "admin" {
		t.Errorf("unexpected identities %+v", c)
	}
	if !c.MaxLeverage.Equal(decimal.NewFromInt(1_000_000_000)) {
		t.Errorf("max leverage = %s", c.MaxLeverage)
	}
	if !c.MaxBorrow.IsZero() {
		t.Errorf("max borrow = %s", c.MaxBorrow)
	}
}

func TestLoad_Overrides(t *testing.T) {
	c, err := Load(envOf(map[string]string{
		"JWT_SECRET":   "0123456789abcdef",
		"PORT":         "9090",
		"PRICE_SOURCE": "redis",
		"REDIS_URL":    "redis://localhost:6379/0",
		"CACHE_TTL":    "5s",
		"MAX_LEVERAGE": "20",
		"MAX_BORROW":   "1000.5",
		"ASSET_A":      "USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != "9090" || c.CacheTTL != 5*time.Second {
		t.Errorf("unexpected config %+v", c)
	}
	if !c.MaxLeverage.Equal(decimal.NewFromInt(200_000_000)) {
		t.Errorf("max leverage = %s", c.MaxLeverage)
	}
	if !c.MaxBorrow.Equal(decimal.NewFromInt(10_005_000_000)) {
		t.Errorf("max borrow = %s", c.MaxBorrow)
	}
}

func TestLoad_Invalid(t *testing.T) {
	base := map[string]string{"JWT_SECRET": "0123456789abcdef"}
	cases := map[string]map[string]string{
		"missing secret":       {},
		"short secret":         {"JWT_SECRET": "short"},
		"bad port":             {"PORT": "http"},
		"unknown price source": {"PRICE_SOURCE": "coingecko"},
		"redis without url":    {"PRICE_SOURCE": "redis"},
		"bad ttl":              {"CACHE_TTL": "soon"},
		"zero leverage":        {"MAX_LEVERAGE": "0"},
		"same ids":             {"POSITION_ENGINE_ID": "pool"},
		"bad rps":              {"RATE_LIMIT_RPS": "fast"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			kv := map[string]string{}
			if name != "missing secret" {
				for k, v := range base {
					kv[k] = v
				}
			}
			for k, v := range overrides {
				kv[k] = v
			}
			if _, err := Load(envOf(kv)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestLoad_InvalidAsset(t *testing.T) {
	_, err := Load(envOf(map[string]string{"JWT_SECRET": "0123456789abcdef", "ASSET_B": "USDC"}))
	if !errors.Is(err, asset.ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset for duplicate asset, got %v", err)
	}
}

func TestReserved(t *testing.T) {
	c := Config{PoolID: "p", PositionEngineID: "e"}
	got := c.Reserved()
	if len(got) != 2 || got[0] != "p" || got[1] != "e" {
		t.Errorf("reserved = %v", got)
	}
}
