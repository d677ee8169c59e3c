package models

import "time"

// OrderRequest is a market order submitted to the exchange.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
}

// OrderFill is the exchange's response to an order.
type OrderFill struct {
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Status          TradeStatus
	RequestedQty    float64
	ExecutedQty     float64
	AveragePrice    float64
	Commission      float64
	CommissionAsset string
	TransactTime    time.Time
}
