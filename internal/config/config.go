// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/asset"
	"github.com/atmx/margin-pool/internal/fixedpoint"
)

// Price sources.
const (
	PriceSourceMemory = "memory"
	PriceSourceRedis  = "redis"
)

// Config is the server configuration. Amounts are scaled by 1e7.
type Config struct {
	Port        string        `validate:"required,numeric"`
	DatabaseURL string        `validate:"omitempty,url"`
	RedisURL    string        `validate:"required_if=PriceSource redis"`
	CacheTTL    time.Duration `validate:"gt=0"`
	JWTSecret   string        `validate:"required,min=16"`
	PriceSource string        `validate:"oneof=memory redis"`

	PoolID           string `validate:"required"`
	PositionEngineID string `validate:"required,nefield=PoolID"`
	AdminID          string `validate:"required,nefield=PoolID,nefield=PositionEngineID"`
	OracleID         string `validate:"required"`

	AssetA   string `validate:"required"`
	AssetB   string `validate:"required"`
	SLPToken string `validate:"required"`

	MaxLeverage decimal.Decimal
	MaxBorrow   decimal.Decimal

	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load reads every setting through getenv, applies defaults and validates
// the result.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	c := Config{
		Port:             env("PORT", "8080"),
		DatabaseURL:      getenv("DATABASE_URL"),
		RedisURL:         getenv("REDIS_URL"),
		JWTSecret:        getenv("JWT_SECRET"),
		PriceSource:      env("PRICE_SOURCE", PriceSourceMemory),
		PoolID:           env("POOL_ID", "pool"),
		PositionEngineID: env("POSITION_ENGINE_ID", "position-engine"),
		AdminID:          env("ADMIN_ID", "admin"),
		OracleID:         env("ORACLE_ID", "oracle"),
		AssetA:           env("ASSET_A", "USDC"),
		AssetB:           env("ASSET_B", "XLM"),
		SLPToken:         env("SLP_TOKEN", "SLP"),
	}

	var err error
	if c.CacheTTL, err = time.ParseDuration(env("CACHE_TTL", "30s")); err != nil {
		return c, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if c.MaxLeverage, err = decimal.NewFromString(env("MAX_LEVERAGE", "100")); err != nil {
		return c, fmt.Errorf("MAX_LEVERAGE: %w", err)
	}
	if c.MaxBorrow, err = decimal.NewFromString(env("MAX_BORROW", "0")); err != nil {
		return c, fmt.Errorf("MAX_BORROW: %w", err)
	}
	if c.RateLimitRPS, err = strconv.ParseFloat(env("RATE_LIMIT_RPS", "20"), 64); err != nil {
		return c, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	if c.RateLimitBurst, err = strconv.Atoi(env("RATE_LIMIT_BURST", "40")); err != nil {
		return c, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
	}

	// MAX_LEVERAGE and MAX_BORROW are given in whole units.
	c.MaxLeverage = c.MaxLeverage.Mul(fixedpoint.Scalar7).Truncate(0)
	c.MaxBorrow = c.MaxBorrow.Mul(fixedpoint.Scalar7).Truncate(0)

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks field constraints and asset identifiers.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if !c.MaxLeverage.IsPositive() {
		return fmt.Errorf("config validation failed: MAX_LEVERAGE must be positive")
	}
	if c.MaxBorrow.IsNegative() {
		return fmt.Errorf("config validation failed: MAX_BORROW must not be negative")
	}
	if err := asset.Validate(c.AssetA, c.AssetB, c.SLPToken); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Reserved lists the component identities no bearer token may claim.
func (c Config) Reserved() []string {
	return []string{c.PoolID, c.PositionEngineID}
}
