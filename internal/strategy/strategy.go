// Package strategy implements the bagging signal generator.
//
// The generator accumulates the base asset while stable capital dominates the
// portfolio and conditions are weak or flat, and sells part of the holdings
// when capital runs low or the market turns bullish with a meaningful position.
package strategy

import (
	"fmt"
	"math"

	"bagging-bot/internal/models"
)

// Config holds the allocation bands of the bagging strategy.
type Config struct {
	BuyAllocation      float64 `mapstructure:"buy_allocation"`       // buy above this stable-capital share
	TargetAllocation   float64 `mapstructure:"target_allocation"`    // share a trade moves back toward
	SellAllocation     float64 `mapstructure:"sell_allocation"`      // sell below this stable-capital share
	ProfitTakeFraction float64 `mapstructure:"profit_take_fraction"` // token value vs initial capital for bullish sells
}

// DefaultConfig returns the standard bagging bands.
func DefaultConfig() Config {
	return Config{
		BuyAllocation:      0.80,
		TargetAllocation:   0.70,
		SellAllocation:     0.30,
		ProfitTakeFraction: 0.10,
	}
}

// Validate checks that the bands are ordered and within (0, 1).
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"buy_allocation":       c.BuyAllocation,
		"target_allocation":    c.TargetAllocation,
		"sell_allocation":      c.SellAllocation,
		"profit_take_fraction": c.ProfitTakeFraction,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("strategy.%s must be between 0 and 1, got %v", name, v)
		}
	}
	if !(c.SellAllocation < c.TargetAllocation && c.TargetAllocation < c.BuyAllocation) {
		return fmt.Errorf("strategy bands must satisfy sell < target < buy, got %v < %v < %v",
			c.SellAllocation, c.TargetAllocation, c.BuyAllocation)
	}
	return nil
}

// Generator produces one signal per evaluation. It holds no mutable state.
type Generator struct {
	cfg Config
}

// NewGenerator creates a new Generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Config returns the generator's bands.
func (g *Generator) Config() Config {
	return g.cfg
}

// Generate evaluates the strategy rules in priority order and returns the first match.
// BUY amounts are in quote units, SELL amounts in base units.
func (g *Generator) Generate(sess *models.Session, snap *models.MarketSnapshot, bot *models.BotConfig) models.Signal {
	price := snap.CurrentPrice
	total := sess.TotalValue(price)
	if total <= 0 || price <= 0 {
		sig := models.Hold(models.ReasonNoCapital, fmt.Sprintf("total value %.2f", total))
		sig.Sentiment = snap.Sentiment
		return sig
	}

	alloc := sess.CurrentCapital / total
	tokenValue := sess.TokenValue(price)

	var sig models.Signal
	switch {
	case alloc > g.cfg.BuyAllocation && snap.Sentiment != models.SentimentBullish:
		amount := clamp(sess.CurrentCapital*(alloc-g.cfg.TargetAllocation), bot.MinOrderSize, bot.MaxOrderSize)
		sig = models.Signal{
			Action: models.ActionBuy,
			Amount: amount,
			Unit:   models.UnitQuote,
			Reason: models.ReasonAccumulate,
			Detail: fmt.Sprintf("allocation %.1f%% above %.0f%% with %s market", alloc*100, g.cfg.BuyAllocation*100, snap.Sentiment),
		}

	case alloc < g.cfg.SellAllocation ||
		(tokenValue > g.cfg.ProfitTakeFraction*sess.InitialCapital && snap.Sentiment == models.SentimentBullish):
		if sess.AccumulatedTokens <= 0 {
			sig = models.Hold(models.ReasonNoTokens, "nothing to sell")
			break
		}
		reason := models.ReasonTakeProfit
		detail := fmt.Sprintf("token value %.2f above %.0f%% of initial capital in bullish market", tokenValue, g.cfg.ProfitTakeFraction*100)
		if alloc < g.cfg.SellAllocation {
			reason = models.ReasonRebalance
			detail = fmt.Sprintf("allocation %.1f%% below %.0f%%", alloc*100, g.cfg.SellAllocation*100)
		}
		sig = models.Signal{
			Action: models.ActionSell,
			Amount: g.sellQuantity(sess, total, price, bot),
			Unit:   models.UnitBase,
			Reason: reason,
			Detail: detail,
		}

	case alloc > g.cfg.BuyAllocation:
		sig = models.Hold(models.ReasonSentimentBlocked,
			fmt.Sprintf("allocation %.1f%% favors buying but market is %s", alloc*100, snap.Sentiment))

	default:
		sig = models.Hold(models.ReasonAllocationInBand,
			fmt.Sprintf("allocation %.1f%% within %.0f%%-%.0f%%", alloc*100, g.cfg.SellAllocation*100, g.cfg.BuyAllocation*100))
	}

	sig.Allocation = alloc
	sig.Sentiment = snap.Sentiment
	return sig
}

// sellQuantity returns the token quantity that moves stable capital back toward the
// target allocation, capped by the holdings and by max_order_size at price.
func (g *Generator) sellQuantity(sess *models.Session, total, price float64, bot *models.BotConfig) float64 {
	required := (g.cfg.TargetAllocation*total - sess.CurrentCapital) / price
	if required <= 0 {
		required = bot.MinOrderSize / price
	}
	qty := math.Min(sess.AccumulatedTokens, required)
	if bot.MaxOrderSize > 0 {
		qty = math.Min(qty, bot.MaxOrderSize/price)
	}
	return qty
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
