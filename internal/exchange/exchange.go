// Package exchange provides the spot exchange collaborators: a MEXC REST client and
// an in-process paper exchange.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bagging-bot/internal/models"
)

// Exchange is the capability set the bot consumes from a spot exchange.
type Exchange interface {
	Name() string
	Ping(ctx context.Context) error
	Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
	SymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error)
	Balances(ctx context.Context) ([]models.Balance, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderFill, error)
}

// Config holds exchange connectivity settings.
type Config struct {
	Mode       string        `mapstructure:"mode"` // "paper" or "live"
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RecvWindow int           `mapstructure:"recv_window"` // milliseconds
	RateLimit  float64       `mapstructure:"rate_limit"`  // requests per second
	RateBurst  int           `mapstructure:"rate_burst"`
	MaxRetries int           `mapstructure:"max_retries"`
	APIKey     string        `mapstructure:"-"`
	APISecret  string        `mapstructure:"-"`
	Paper      PaperConfig   `mapstructure:"paper"`

	// BreakerThreshold consecutive transport failures open the circuit; 0 disables.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// DefaultConfig returns the default exchange configuration.
func DefaultConfig() Config {
	return Config{
		Mode:       "paper",
		BaseURL:    "https://api.mexc.com",
		Timeout:    10 * time.Second,
		RecvWindow: 5000,
		RateLimit:  10,
		RateBurst:  5,
		MaxRetries: 3,
		Paper:      DefaultPaperConfig(),

		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// IsPaper reports whether the paper exchange is selected.
func (c Config) IsPaper() bool {
	return c.Mode != "live"
}

// New builds the exchange selected by cfg.Mode. Paper mode reads market data from
// the public MEXC endpoints when LiveData is set.
func New(cfg Config, logger zerolog.Logger) (Exchange, error) {
	switch cfg.Mode {
	case "", "paper":
		var data MarketData
		if cfg.Paper.LiveData {
			data = NewMEXCClient(cfg, logger)
		}
		return NewPaperExchange(cfg.Paper, data), nil
	case "live":
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("live mode requires MEXC API credentials")
		}
		return NewMEXCClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange mode %q (must be 'paper' or 'live')", cfg.Mode)
	}
}

// MarketData is the read-only subset of Exchange.
type MarketData interface {
	Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
}

// FindBalance returns the balance for asset, or a zero balance when the account holds none.
func FindBalance(balances []models.Balance, asset string) models.Balance {
	for _, b := range balances {
		if b.Asset == asset {
			return b
		}
	}
	return models.Balance{Asset: asset}
}
