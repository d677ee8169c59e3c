// Package risk gates trading signals and derives risk metrics for a session.
package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
)

// Config holds risk limits and risk-score weights.
type Config struct {
	MaxPositionFraction  float64 `mapstructure:"max_position_fraction"`
	DailyTradeLimit      int     `mapstructure:"daily_trade_limit"`
	ExpectedTradesPerDay float64 `mapstructure:"expected_trades_per_day"`
	DrawdownWeight       float64 `mapstructure:"drawdown_weight"`
	WinRateWeight        float64 `mapstructure:"win_rate_weight"`
	FrequencyWeight      float64 `mapstructure:"frequency_weight"`
	ExcessiveTradeCount  int     `mapstructure:"excessive_trade_count"` // 0 disables
	EstimatedFeeRate     float64 `mapstructure:"estimated_fee_rate"`
	DrawdownBasis        string  `mapstructure:"drawdown_basis"`
}

// Drawdown guard bases. BasisCapital projects stable capital after the order, so
// the guard caps a session's net spend at stop_loss x initial capital. BasisValue
// projects total value, which a BUY only moves by its fee.
const (
	BasisCapital = "capital"
	BasisValue   = "value"
)

// DefaultConfig returns the default risk configuration.
func DefaultConfig() Config {
	return Config{
		MaxPositionFraction:  0.30,
		DailyTradeLimit:      10,
		ExpectedTradesPerDay: 2,
		DrawdownWeight:       50,
		WinRateWeight:        30,
		FrequencyWeight:      20,
		ExcessiveTradeCount:  50,
		EstimatedFeeRate:     0.001,
		DrawdownBasis:        BasisCapital,
	}
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("risk.max_position_fraction must be in (0, 1], got %v", c.MaxPositionFraction)
	}
	if c.DailyTradeLimit < 1 {
		return fmt.Errorf("risk.daily_trade_limit must be at least 1, got %d", c.DailyTradeLimit)
	}
	if c.ExpectedTradesPerDay <= 0 {
		return fmt.Errorf("risk.expected_trades_per_day must be positive, got %v", c.ExpectedTradesPerDay)
	}
	if c.EstimatedFeeRate < 0 || c.EstimatedFeeRate >= 1 {
		return fmt.Errorf("risk.estimated_fee_rate must be in [0, 1), got %v", c.EstimatedFeeRate)
	}
	switch c.DrawdownBasis {
	case "", BasisCapital, BasisValue:
	default:
		return fmt.Errorf("risk.drawdown_basis must be %q or %q, got %q", BasisCapital, BasisValue, c.DrawdownBasis)
	}
	if c.DrawdownWeight < 0 || c.WinRateWeight < 0 || c.FrequencyWeight < 0 {
		return fmt.Errorf("risk weights must be non-negative")
	}
	if sum := c.DrawdownWeight + c.WinRateWeight + c.FrequencyWeight; math.Abs(sum-100) > 1e-9 {
		return fmt.Errorf("risk weights must sum to 100, got %v", sum)
	}
	return nil
}

// Manager applies pre-trade gating and computes risk metrics.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a new risk Manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "risk"),
		now:    time.Now,
	}
}

// Config returns the manager's limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// Validate gates a trading signal. Rules are applied in order and the first failure rejects.
// dailyTrades is the number of trades executed for the session since the start of the UTC day.
func (m *Manager) Validate(sig models.Signal, sess *models.Session, price float64, bot *models.BotConfig, dailyTrades int) models.RiskDecision {
	if !sig.IsTrade() {
		return models.RiskDecision{Approved: true}
	}

	if !bot.IsActive {
		return m.reject(sess, models.RuleTradingOff, 0, 0, "bot configuration is not active")
	}

	total := sess.TotalValue(price)
	orderValue := sig.Amount
	if sig.Unit == models.UnitBase {
		orderValue = sig.Amount * price
	}

	limit := m.cfg.MaxPositionFraction * total
	if orderValue > limit {
		return m.reject(sess, models.RulePositionSize, orderValue, limit,
			fmt.Sprintf("order value %.2f exceeds %.0f%% of total value %.2f", orderValue, m.cfg.MaxPositionFraction*100, total))
	}

	if dailyTrades >= m.cfg.DailyTradeLimit {
		return m.reject(sess, models.RuleDailyTradeCap, float64(dailyTrades), float64(m.cfg.DailyTradeLimit),
			fmt.Sprintf("daily trade limit reached (%d/%d)", dailyTrades, m.cfg.DailyTradeLimit))
	}

	// Sells reduce exposure and are never blocked by the drawdown guard.
	if sig.Action == models.ActionBuy {
		floor := (1 - bot.StopLossThreshold) * sess.InitialCapital
		fee := orderValue * m.cfg.EstimatedFeeRate
		basis, projected := BasisCapital, sess.CurrentCapital-orderValue-fee
		if m.cfg.DrawdownBasis == BasisValue {
			basis, projected = BasisValue, total-fee
		}
		if projected < floor {
			return m.reject(sess, models.RuleDrawdownGuard, projected, floor,
				fmt.Sprintf("projected %s %.2f below stop-loss floor %.2f", basis, projected, floor))
		}
	}

	return models.RiskDecision{Approved: true}
}

func (m *Manager) reject(sess *models.Session, rule models.RiskRule, current, limit float64, reason string) models.RiskDecision {
	logging.LogRiskEvent(logging.WithSession(m.logger, sess.ID), string(rule), reason, 0)
	return models.RiskDecision{
		Approved: false,
		Rule:     rule,
		Reason:   reason,
		Current:  current,
		Limit:    limit,
	}
}

// Metrics derives risk metrics from the session and its trade history at price.
func (m *Manager) Metrics(sess *models.Session, trades []models.Trade, price float64, bot *models.BotConfig) models.RiskMetrics {
	total := sess.TotalValue(price)
	metrics := models.RiskMetrics{
		DrawdownPercent: Drawdown(sess.InitialCapital, total),
		TotalTrades:     len(trades),
		TotalValue:      total,
	}

	days := math.Max(1, float64(sess.ElapsedDays(m.now())))
	metrics.TradeFrequency = float64(len(trades)) / days

	wins, filled := winCount(trades, price)
	metrics.FilledTrades = filled
	if filled > 0 {
		metrics.WinRatePercent = float64(wins) / float64(filled) * 100
	}

	metrics.RiskScore = m.score(metrics, bot.StopLossThreshold)
	metrics.RiskLevel = Level(metrics.RiskScore)
	return metrics
}

// Drawdown returns the percent decline of total below initial, never negative.
func Drawdown(initial, total float64) float64 {
	if initial <= 0 {
		return 0
	}
	return math.Max(0, (initial-total)/initial*100)
}

// Level bands a risk score.
func Level(score float64) models.RiskLevel {
	switch {
	case score < 25:
		return models.RiskLow
	case score < 50:
		return models.RiskModerate
	case score < 75:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func (m *Manager) score(metrics models.RiskMetrics, stopLoss float64) float64 {
	var drawdownPart float64
	if stopLoss > 0 {
		drawdownPart = math.Min(metrics.DrawdownPercent/(stopLoss*100), 1)
	} else if metrics.DrawdownPercent > 0 {
		drawdownPart = 1
	}

	var lossPart float64
	if metrics.FilledTrades > 0 {
		lossPart = (100 - metrics.WinRatePercent) / 100
	}

	baseline := m.cfg.ExpectedTradesPerDay
	freqPart := math.Min(math.Max(0, metrics.TradeFrequency-baseline)/baseline, 1)

	score := m.cfg.DrawdownWeight*drawdownPart + m.cfg.WinRateWeight*lossPart + m.cfg.FrequencyWeight*freqPart
	return math.Min(100, math.Max(0, score))
}

// winCount scores FILLED trades oldest first. A sell wins when it clears the running
// average cost; a buy wins when the current price is above its fill price.
func winCount(trades []models.Trade, price float64) (wins, filled int) {
	ordered := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == models.TradeFilled && t.ExecutedPrice > 0 {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var held, cost float64
	for _, t := range ordered {
		filled++
		switch t.Side {
		case models.OrderSideBuy:
			held += t.ExecutedQuantity
			cost += t.ExecutedQuantity * t.ExecutedPrice
			if price > t.ExecutedPrice {
				wins++
			}
		case models.OrderSideSell:
			avg := 0.0
			if held > 0 {
				avg = cost / held
			}
			if t.ExecutedPrice > avg {
				wins++
			}
			if held > 0 {
				sold := math.Min(t.ExecutedQuantity, held)
				cost -= sold * avg
				held -= sold
			}
		}
	}
	return wins, filled
}

// EmergencyStop reports whether trading must halt and why.
func (m *Manager) EmergencyStop(metrics models.RiskMetrics, sess *models.Session, bot *models.BotConfig) (bool, string) {
	limit := bot.StopLossThreshold * 100
	if metrics.DrawdownPercent >= limit {
		return true, fmt.Sprintf("drawdown %.2f%% reached stop-loss threshold %.2f%%", metrics.DrawdownPercent, limit)
	}
	if metrics.RiskLevel == models.RiskCritical {
		return true, fmt.Sprintf("risk level CRITICAL (score %.1f)", metrics.RiskScore)
	}
	if m.cfg.ExcessiveTradeCount > 0 && metrics.TotalTrades > m.cfg.ExcessiveTradeCount &&
		metrics.TotalValue < sess.InitialCapital*0.95 {
		return true, fmt.Sprintf("%d trades with total value %.2f below 95%% of initial capital", metrics.TotalTrades, metrics.TotalValue)
	}
	return false, ""
}

type recommendation struct {
	severity float64
	text     string
}

// Recommendations lists advice for every metric past its warning threshold, worst first.
func (m *Manager) Recommendations(metrics models.RiskMetrics, sess *models.Session) []string {
	var recs []recommendation

	if metrics.DrawdownPercent > 10 {
		recs = append(recs, recommendation{metrics.DrawdownPercent / 10, "Consider reducing position sizes due to high drawdown"})
	}
	if metrics.TradeFrequency > 3 {
		recs = append(recs, recommendation{metrics.TradeFrequency / 3, "High trade frequency detected, consider longer intervals"})
	}
	if metrics.FilledTrades > 0 && metrics.WinRatePercent < 40 {
		recs = append(recs, recommendation{40 / math.Max(metrics.WinRatePercent, 1), "Low win rate, review strategy parameters"})
	}
	switch metrics.RiskLevel {
	case models.RiskCritical:
		recs = append(recs, recommendation{metrics.RiskScore / 60, "CRITICAL: consider pausing trading and reviewing strategy"})
	case models.RiskHigh:
		recs = append(recs, recommendation{metrics.RiskScore / 60, "HIGH RISK: reduce position sizes and increase monitoring"})
	}
	if sess.CurrentCapital < sess.InitialCapital*0.9 {
		recs = append(recs, recommendation{sess.InitialCapital * 0.9 / math.Max(sess.CurrentCapital, 1e-9), "Capital below 90%, focus on capital preservation"})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].severity > recs[j].severity
	})

	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.text)
	}
	return out
}

// Assess builds the full risk report for a session.
func (m *Manager) Assess(sess *models.Session, trades []models.Trade, price float64, bot *models.BotConfig) models.RiskAssessment {
	metrics := m.Metrics(sess, trades, price, bot)
	stop, reason := m.EmergencyStop(metrics, sess, bot)
	return models.RiskAssessment{
		SessionID:             sess.ID,
		Metrics:               metrics,
		Recommendations:       m.Recommendations(metrics, sess),
		EmergencyStopRequired: stop,
		EmergencyStopReason:   reason,
	}
}

// StartOfDay returns midnight UTC of t's day, the boundary for the daily trade limit.
func StartOfDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
