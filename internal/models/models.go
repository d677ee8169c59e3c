// Package models provides domain models for the bagging bot.
package models

import (
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// BotConfig is the persisted strategy configuration. Exactly one may be active.
// The controller reads it at the start of every cycle, so edits apply on the next one.
type BotConfig struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Symbol                 string    `json:"symbol"`
	BaseAsset              string    `json:"base_asset"`
	QuoteAsset             string    `json:"quote_asset"`
	MinOrderSize           float64   `json:"min_order_size"`
	MaxOrderSize           float64   `json:"max_order_size"`
	ProfitThreshold        float64   `json:"profit_threshold"`
	StopLossThreshold      float64   `json:"stop_loss_threshold"`
	TradingIntervalMinutes int       `json:"trading_interval_minutes"`
	IsActive               bool      `json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Interval returns the trading interval as a duration.
func (c *BotConfig) Interval() time.Duration {
	return time.Duration(c.TradingIntervalMinutes) * time.Minute
}

// Ticker is the raw 24h ticker reported by the exchange.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	Volume             float64
}

// PriceLevel is a single order book level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// BestBid returns the top bid price or 0.
func (b *OrderBook) BestBid() float64 {
	if b == nil || len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price or 0.
func (b *OrderBook) BestAsk() float64 {
	if b == nil || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Balance represents a single asset balance.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// SymbolRules are the trading filters the exchange applies to a symbol.
type SymbolRules struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	MinQty      float64
	StepSize    float64
	MinNotional float64
	Status      string
}
