package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/exchange"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
)

// Executor turns an approved signal into a market order and reports the outcome as a Trade.
type Executor struct {
	exchange exchange.Exchange
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	rules map[string]*models.SymbolRules
}

// NewExecutor creates an executor placing orders on ex. Each exchange call is bounded by timeout.
func NewExecutor(ex exchange.Exchange, timeout time.Duration, logger zerolog.Logger) *Executor {
	return &Executor{
		exchange: ex,
		timeout:  timeout,
		logger:   logging.WithComponent(logger, "executor"),
		now:      time.Now,
		rules:    make(map[string]*models.SymbolRules),
	}
}

// symbolRules returns cached lot rules, fetching them on first use.
func (e *Executor) symbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	e.mu.Lock()
	cached, ok := e.rules[symbol]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	rules, err := e.exchange.SymbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.rules[symbol] = rules
	e.mu.Unlock()
	return rules, nil
}

// Quantity converts a signal amount into a base quantity at the price the order
// is expected to fill at. BUY amounts in the quote asset are priced at the best ask.
func Quantity(sig models.Signal, snap *models.MarketSnapshot) (qty, price float64) {
	price = snap.CurrentPrice
	switch sig.Action {
	case models.ActionBuy:
		if snap.BestAsk > 0 {
			price = snap.BestAsk
		}
	case models.ActionSell:
		if snap.BestBid > 0 {
			price = snap.BestBid
		}
	}
	if price <= 0 {
		return 0, 0
	}
	if sig.Unit == models.UnitQuote {
		return sig.Amount / price, price
	}
	return sig.Amount, price
}

// Execute places the order for sig. A trade is returned whenever an order was
// attempted or refused before submission; err is an ExecutionError when the trade
// did not execute.
func (e *Executor) Execute(ctx context.Context, sig models.Signal, snap *models.MarketSnapshot, bot *models.BotConfig) (*models.Trade, error) {
	side := models.OrderSideBuy
	if sig.Action == models.ActionSell {
		side = models.OrderSideSell
	}
	log := logging.WithSymbol(e.logger, bot.Symbol)

	trade := &models.Trade{
		ID:        uuid.NewString(),
		Symbol:    bot.Symbol,
		Side:      side,
		Status:    models.TradeFailed,
		Reason:    sig.Text(),
		Timestamp: e.now().UTC(),
	}

	qty, price := Quantity(sig, snap)
	if price <= 0 {
		return trade, errors.NewExecutionError("", string(side), bot.Symbol, "no price to size the order", errors.ErrMissingMarketData)
	}

	rules, err := e.symbolRules(ctx, bot.Symbol)
	if err != nil {
		return trade, errors.NewExecutionError("", string(side), bot.Symbol, "failed to load symbol rules", err)
	}

	qty = exchange.RoundToStep(qty, rules.StepSize)
	trade.Quantity = qty
	if err := exchange.CheckOrder(rules, qty, price); err != nil {
		trade.Status = models.TradeRejected
		return trade, errors.NewExecutionError("", string(side), bot.Symbol, "order below exchange minimums", err)
	}

	req := models.OrderRequest{
		ClientOrderID: strings.ReplaceAll(trade.ID, "-", ""),
		Symbol:        bot.Symbol,
		Side:          side,
		Type:          models.OrderTypeMarket,
		Quantity:      qty,
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	fill, err := e.exchange.PlaceMarketOrder(orderCtx, req)
	if err != nil {
		if orderCtx.Err() == context.DeadlineExceeded {
			err = errors.Wrap(errors.ErrTimeout, err.Error())
		}
		log.Error().Err(err).Str("side", string(side)).Float64("quantity", qty).Msg("Order failed")
		return trade, errors.NewExecutionError("", string(side), bot.Symbol, "order placement failed", err)
	}

	trade.OrderID = fill.OrderID
	trade.Status = fill.Status
	trade.ExecutedQuantity = fill.ExecutedQty
	trade.ExecutedPrice = fill.AveragePrice
	if trade.ExecutedPrice <= 0 && fill.ExecutedQty > 0 {
		trade.ExecutedPrice = price
	}
	trade.Commission = fill.Commission
	trade.CommissionAsset = fill.CommissionAsset
	if !fill.TransactTime.IsZero() {
		trade.Timestamp = fill.TransactTime.UTC()
	}

	logging.LogTrade(logging.WithOrderID(log, fill.OrderID), bot.Symbol, string(side), string(trade.Status), trade.ExecutedQuantity, trade.ExecutedPrice)

	switch trade.Status {
	case models.TradeFilled, models.TradePartial:
		return trade, nil
	case models.TradeRejected:
		return trade, errors.NewExecutionError(fill.OrderID, string(side), bot.Symbol, "order rejected by exchange", errors.ErrOrderRejected)
	default:
		// NEW here means the order never settled within the timeout.
		return trade, errors.NewExecutionError(fill.OrderID, string(side), bot.Symbol, "order did not settle", errors.ErrTimeout)
	}
}
