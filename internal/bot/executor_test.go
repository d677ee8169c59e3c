package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "bagging-bot/internal/errors"
	"bagging-bot/internal/exchange"
	"bagging-bot/internal/models"
)

func testBot() *models.BotConfig {
	return &models.BotConfig{
		Symbol:            "BSTUSDT",
		BaseAsset:         "BST",
		QuoteAsset:        "USDT",
		MinOrderSize:      15,
		MaxOrderSize:      75,
		StopLossThreshold: 0.05,
		IsActive:          true,
	}
}

func TestQuantity(t *testing.T) {
	snap := &models.MarketSnapshot{CurrentPrice: 0.1, BestBid: 0.099, BestAsk: 0.101}

	tests := []struct {
		name      string
		sig       models.Signal
		wantQty   float64
		wantPrice float64
	}{
		{"buy in quote at ask", models.Signal{Action: models.ActionBuy, Amount: 50.5, Unit: models.UnitQuote}, 500, 0.101},
		{"sell in base at bid", models.Signal{Action: models.ActionSell, Amount: 300, Unit: models.UnitBase}, 300, 0.099},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, price := Quantity(tt.sig, snap)
			if price != tt.wantPrice || qty < tt.wantQty-1e-9 || qty > tt.wantQty+1e-9 {
				t.Errorf("Quantity = %v @ %v, want %v @ %v", qty, price, tt.wantQty, tt.wantPrice)
			}
		})
	}

	empty := &models.MarketSnapshot{CurrentPrice: 0.1}
	if _, price := Quantity(models.Signal{Action: models.ActionBuy, Amount: 10, Unit: models.UnitQuote}, empty); price != 0.1 {
		t.Errorf("empty book should fall back to last price, got %v", price)
	}
}

func TestExecutor_RoundsAndFills(t *testing.T) {
	cfg := exchange.DefaultPaperConfig()
	cfg.Price = 0.3
	cfg.SpreadPercent = 0
	cfg.StepSize = 1
	paper := exchange.NewPaperExchange(cfg, nil)
	ex := NewExecutor(paper, time.Second, zerolog.Nop())

	snap := &models.MarketSnapshot{CurrentPrice: 0.3, BestBid: 0.3, BestAsk: 0.3}
	sig := models.Signal{Action: models.ActionBuy, Amount: 50, Unit: models.UnitQuote, Reason: models.ReasonAccumulate}

	trade, err := ex.Execute(context.Background(), sig, snap, testBot())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if trade.Quantity != 166 || trade.ExecutedQuantity != 166 {
		t.Errorf("quantity = %v/%v, want 166 rounded down to the step", trade.Quantity, trade.ExecutedQuantity)
	}
	if trade.Status != models.TradeFilled || trade.OrderID == "" || trade.Reason != "ACCUMULATE" {
		t.Errorf("unexpected trade %+v", trade)
	}
}

func TestExecutor_BelowMinimums(t *testing.T) {
	cfg := exchange.DefaultPaperConfig()
	cfg.MinNotional = 20
	paper := exchange.NewPaperExchange(cfg, nil)
	ex := NewExecutor(paper, time.Second, zerolog.Nop())

	snap := &models.MarketSnapshot{CurrentPrice: cfg.Price}
	sig := models.Signal{Action: models.ActionBuy, Amount: 15, Unit: models.UnitQuote}

	trade, err := ex.Execute(context.Background(), sig, snap, testBot())
	if !apperrors.IsExecution(err) || !apperrors.IsValidation(err) {
		t.Fatalf("expected an execution error wrapping a validation error, got %v", err)
	}
	if trade == nil || trade.Status != models.TradeRejected {
		t.Errorf("expected a REJECTED trade, got %+v", trade)
	}
	if len(paper.Orders()) != 0 {
		t.Error("no order should reach the exchange")
	}
}

func TestExecutor_OrderError(t *testing.T) {
	paper := exchange.NewPaperExchange(exchange.DefaultPaperConfig(), nil)
	ex := NewExecutor(paper, time.Second, zerolog.Nop())

	snap := &models.MarketSnapshot{CurrentPrice: 0.0823}
	sig := models.Signal{Action: models.ActionSell, Amount: 100, Unit: models.UnitBase}

	trade, err := ex.Execute(context.Background(), sig, snap, testBot())
	if !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds through the execution error, got %v", err)
	}
	if trade.Status != models.TradeFailed || trade.OrderID != "" {
		t.Errorf("unexpected trade %+v", trade)
	}
}
