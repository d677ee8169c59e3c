package exchange

import (
	"testing"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		qty, step, want float64
	}{
		{1215.0729, 0.01, 1215.07},
		{0.3, 0.1, 0.3},
		{1215.0729, 1, 1215},
		{5, 0, 5},
		{0.009, 0.01, 0},
		{100.00000001, 0.00000001, 100.00000001},
	}
	for _, tt := range tests {
		if got := RoundToStep(tt.qty, tt.step); got != tt.want {
			t.Errorf("RoundToStep(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	if got := FormatQuantity(1215.07, 0.01); got != "1215.07" {
		t.Errorf("got %q", got)
	}
	if got := FormatQuantity(12, 1); got != "12" {
		t.Errorf("got %q", got)
	}
	if got := FormatQuantity(0.5, 0.001); got != "0.500" {
		t.Errorf("got %q", got)
	}
}

func TestCheckOrder(t *testing.T) {
	rules := &models.SymbolRules{MinQty: 1, MinNotional: 5}

	if err := CheckOrder(rules, 100, 0.1); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	if err := CheckOrder(rules, 0.5, 100); !errors.IsValidation(err) {
		t.Errorf("expected min quantity validation error, got %v", err)
	}
	if err := CheckOrder(rules, 10, 0.1); !errors.IsValidation(err) {
		t.Errorf("expected min notional validation error, got %v", err)
	}
	if err := CheckOrder(nil, 0.001, 1); err != nil {
		t.Errorf("nil rules should accept, got %v", err)
	}
}
