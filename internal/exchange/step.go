package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// RoundToStep rounds qty down to a multiple of step. A non-positive step leaves qty unchanged.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	rounded, _ := q.Div(s).Floor().Mul(s).Float64()
	return rounded
}

// FormatQuantity renders qty with the precision implied by step for the order API.
func FormatQuantity(qty, step float64) string {
	d := decimal.NewFromFloat(qty)
	if step <= 0 {
		return d.String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return d.StringFixed(places)
}

// CheckOrder validates a base quantity against the symbol's lot and notional rules.
func CheckOrder(rules *models.SymbolRules, qty, price float64) error {
	if rules == nil {
		return nil
	}
	if qty <= 0 {
		return errors.NewValidationError("quantity", qty, "must be positive after lot-size rounding")
	}
	if rules.MinQty > 0 && qty < rules.MinQty {
		return errors.NewValidationError("quantity", qty, fmt.Sprintf("below minimum quantity %v", rules.MinQty))
	}
	if rules.MinNotional > 0 && qty*price < rules.MinNotional {
		return errors.NewValidationError("notional", qty*price, fmt.Sprintf("below minimum notional %v", rules.MinNotional))
	}
	return nil
}
