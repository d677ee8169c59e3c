package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"bagging-bot/internal/models"
)

// Property: drawdown is never negative and stays within [0, 100] for non-negative values.
func TestProperty_DrawdownNonNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("drawdown in [0, 100]", prop.ForAll(
		func(initial, total float64) bool {
			d := Drawdown(initial, total)
			return d >= 0 && d <= 100
		},
		gen.Float64Range(0.01, 1e6),
		gen.Float64Range(0, 2e6),
	))

	properties.TestingRun(t)
}

// Property: reaching the stop-loss drawdown always requires an emergency stop.
func TestProperty_StopLossDrawdownTriggersEmergency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(start.Add(72 * time.Hour))

	properties.Property("drawdown >= stop_loss*100 requires emergency stop", prop.ForAll(
		func(initial, stopLoss, extra float64) bool {
			bot := testBot()
			bot.StopLossThreshold = stopLoss
			total := initial * (1 - stopLoss - extra)
			sess := &models.Session{InitialCapital: initial, CurrentCapital: total, StartDate: start}

			metrics := m.Metrics(sess, nil, 1, bot)
			if metrics.DrawdownPercent < stopLoss*100-1e-6 {
				return true
			}
			stop, _ := m.EmergencyStop(metrics, sess, bot)
			return stop && metrics.RiskLevel.Rank() >= models.RiskHigh.Rank()
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(0.01, 0.5),
		gen.Float64Range(0, 0.4),
	))

	properties.TestingRun(t)
}

// Property: the risk score is always within [0, 100].
func TestProperty_ScoreBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(start.Add(24 * time.Hour))

	properties.Property("risk score in [0, 100]", prop.ForAll(
		func(capital, tokens, price float64, n int) bool {
			sess := &models.Session{InitialCapital: 1000, CurrentCapital: capital, AccumulatedTokens: tokens, StartDate: start}
			trades := make([]models.Trade, n)
			for i := range trades {
				trades[i] = models.Trade{Side: models.OrderSideBuy, Status: models.TradeFilled, ExecutedQuantity: 1, ExecutedPrice: price * 2}
			}
			metrics := m.Metrics(sess, trades, price, testBot())
			return metrics.RiskScore >= 0 && metrics.RiskScore <= 100
		},
		gen.Float64Range(0, 2000),
		gen.Float64Range(0, 2000),
		gen.Float64Range(0.01, 5),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// Property: an approved buy never leaves projected capital below the stop-loss floor.
func TestProperty_ApprovedBuyKeepsCapitalFloor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	m := newTestManager(time.Now())
	fee := m.Config().EstimatedFeeRate

	properties.Property("approved buy keeps capital >= (1 - stop_loss) x initial", prop.ForAll(
		func(capitalRatio, amountRatio float64) bool {
			bot := testBot()
			sess := &models.Session{ID: "s", InitialCapital: 1000, CurrentCapital: 1000 * capitalRatio}
			amount := sess.CurrentCapital * amountRatio
			sig := models.Signal{Action: models.ActionBuy, Amount: amount, Unit: models.UnitQuote}

			d := m.Validate(sig, sess, 1, bot, 0)
			if !d.Approved {
				return true
			}
			return sess.CurrentCapital-amount*(1+fee) >= (1-bot.StopLossThreshold)*sess.InitialCapital-1e-9
		},
		gen.Float64Range(0.5, 1.5),
		gen.Float64Range(0.001, 0.3),
	))

	properties.TestingRun(t)
}
