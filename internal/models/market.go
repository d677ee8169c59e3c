package models

import "time"

// Sentiment is the classified market mood for a snapshot.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

// MarketSnapshot is recomputed every cycle and attached to its result.
type MarketSnapshot struct {
	Symbol             string    `json:"symbol"`
	CurrentPrice       float64   `json:"current_price"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Volume             float64   `json:"volume"`
	BestBid            float64   `json:"best_bid"`
	BestAsk            float64   `json:"best_ask"`
	SpreadPercent      float64   `json:"spread_percent"`
	Sentiment          Sentiment `json:"sentiment"`
	Timestamp          time.Time `json:"timestamp"`
}
