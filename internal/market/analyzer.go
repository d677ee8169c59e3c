// Package market turns raw exchange data into a classified market snapshot.
package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// Config holds the sentiment bands and data fetch settings.
type Config struct {
	BearishThreshold float64       `mapstructure:"bearish_threshold"` // percent, inclusive
	BullishThreshold float64       `mapstructure:"bullish_threshold"` // percent, inclusive
	DepthLimit       int           `mapstructure:"depth_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		BearishThreshold: -2.0,
		BullishThreshold: 2.0,
		DepthLimit:       20,
		Timeout:          10 * time.Second,
	}
}

// DataSource provides the raw market data the analyzer consumes.
type DataSource interface {
	Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
}

// ClassifySentiment maps a 24h price change percent to a sentiment.
func ClassifySentiment(changePercent float64, cfg Config) models.Sentiment {
	switch {
	case changePercent <= cfg.BearishThreshold:
		return models.SentimentBearish
	case changePercent >= cfg.BullishThreshold:
		return models.SentimentBullish
	default:
		return models.SentimentNeutral
	}
}

// SpreadPercent returns the bid-ask spread as a percent of the bid, or 0 without a bid.
func SpreadPercent(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (ask - bid) / bid * 100
}

// Snapshot builds a MarketSnapshot from a ticker and order book. It has no side effects.
func Snapshot(ticker *models.Ticker, book *models.OrderBook, cfg Config, at time.Time) *models.MarketSnapshot {
	bid, ask := book.BestBid(), book.BestAsk()
	return &models.MarketSnapshot{
		Symbol:             ticker.Symbol,
		CurrentPrice:       ticker.LastPrice,
		PriceChangePercent: ticker.PriceChangePercent,
		Volume:             ticker.Volume,
		BestBid:            bid,
		BestAsk:            ask,
		SpreadPercent:      SpreadPercent(bid, ask),
		Sentiment:          ClassifySentiment(ticker.PriceChangePercent, cfg),
		Timestamp:          at,
	}
}

// Analyzer fetches fresh market data and classifies it.
type Analyzer struct {
	source DataSource
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(source DataSource, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = DefaultConfig().DepthLimit
	}
	return &Analyzer{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "market").Logger(),
		now:    time.Now,
	}
}

// Analyze fetches the 24h ticker and order book for symbol and returns a snapshot.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	ticker, err := a.ticker(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch ticker for %s", symbol)
	}
	if ticker.LastPrice <= 0 {
		return nil, errors.Wrapf(errors.ErrMissingMarketData, "non-positive price %.8f for %s", ticker.LastPrice, symbol)
	}
	if ticker.Symbol == "" {
		ticker.Symbol = symbol
	}

	book, err := a.orderBook(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch order book for %s", symbol)
	}

	snap := Snapshot(ticker, book, a.cfg, a.now().UTC())
	a.logger.Debug().
		Str("symbol", symbol).
		Float64("price", snap.CurrentPrice).
		Float64("change_pct", snap.PriceChangePercent).
		Float64("spread_pct", snap.SpreadPercent).
		Str("sentiment", string(snap.Sentiment)).
		Msg("Market analyzed")
	return snap, nil
}

func (a *Analyzer) ticker(ctx context.Context, symbol string) (*models.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.source.Ticker24h(ctx, symbol)
}

func (a *Analyzer) orderBook(ctx context.Context, symbol string) (*models.OrderBook, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.source.OrderBook(ctx, symbol, a.cfg.DepthLimit)
}
