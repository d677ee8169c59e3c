package session

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"bagging-bot/internal/models"
	"bagging-bot/internal/store"
)

// Property: applying a commission-free fill at price p leaves capital + tokens*p unchanged
// and keeps balances non-negative.
func TestProperty_FillPreservesTotalValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("total value identity holds after every fill", prop.ForAll(
		func(capital, price float64, fractions []float64) bool {
			ctx := context.Background()
			m := NewManager(store.NewMemoryStore(), DefaultConfig(), zerolog.Nop())
			sess, err := m.Create(ctx, "p", capital, 30)
			if err != nil {
				return false
			}

			for i, f := range fractions {
				side := models.OrderSideBuy
				qty := sess.CurrentCapital * f / price
				if i%2 == 1 {
					side = models.OrderSideSell
					qty = sess.AccumulatedTokens * f
				}
				before := sess.TotalValue(price)
				trade := &models.Trade{Side: side, Quantity: qty, ExecutedQuantity: qty, ExecutedPrice: price, Status: models.TradeFilled}
				if err := m.ApplyFill(ctx, sess, trade, testBot); err != nil {
					return false
				}
				after := sess.TotalValue(price)
				if math.Abs(after-before) > 1e-6*math.Max(1, before) {
					return false
				}
				if sess.CurrentCapital < 0 || sess.AccumulatedTokens < 0 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0.0001, 100),
		gen.SliceOfN(8, gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}
