package models

import "time"

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	TradeNew      TradeStatus = "NEW"
	TradeFilled   TradeStatus = "FILLED"
	TradePartial  TradeStatus = "PARTIAL"
	TradeRejected TradeStatus = "REJECTED"
	TradeFailed   TradeStatus = "FAILED"
)

// Executed reports whether the trade moved balances.
func (s TradeStatus) Executed() bool {
	return s == TradeFilled || s == TradePartial
}

// Trade is an order placed on behalf of exactly one session.
// It is immutable once FILLED.
type Trade struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	OrderID          string      `json:"order_id"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	Quantity         float64     `json:"quantity"`
	ExecutedQuantity float64     `json:"executed_quantity"`
	ExecutedPrice    float64     `json:"executed_price"`
	Status           TradeStatus `json:"status"`
	Commission       float64     `json:"commission"`
	CommissionAsset  string      `json:"commission_asset"`
	Reason           string      `json:"reason,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Notional returns executed quantity times executed price.
func (t *Trade) Notional() float64 {
	return t.ExecutedQuantity * t.ExecutedPrice
}
