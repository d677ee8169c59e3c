package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// PaperConfig configures the paper exchange.
type PaperConfig struct {
	BaseAsset      string  `mapstructure:"base_asset"`
	QuoteAsset     string  `mapstructure:"quote_asset"`
	QuoteBalance   float64 `mapstructure:"quote_balance"`
	BaseBalance    float64 `mapstructure:"base_balance"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	Price          float64 `mapstructure:"price"`          // seed price without live data
	SpreadPercent  float64 `mapstructure:"spread_percent"` // synthetic book spread
	StepSize       float64 `mapstructure:"step_size"`
	MinQty         float64 `mapstructure:"min_qty"`
	MinNotional    float64 `mapstructure:"min_notional"`
	LiveData       bool    `mapstructure:"live_data"`
}

// DefaultPaperConfig returns the default paper exchange configuration.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		BaseAsset:      "BST",
		QuoteAsset:     "USDT",
		QuoteBalance:   1000,
		CommissionRate: 0.001,
		Price:          0.0823,
		SpreadPercent:  0.2,
		StepSize:       0.01,
		MinQty:         0.01,
		MinNotional:    1,
	}
}

// PaperExchange simulates spot trading against in-memory balances.
type PaperExchange struct {
	cfg  PaperConfig
	data MarketData

	mu           sync.Mutex
	balances     map[string]float64
	ticker       models.Ticker
	book         *models.OrderBook
	orderCounter int
	orders       []models.OrderFill
}

// NewPaperExchange creates a paper exchange. When data is nil, market data comes
// from the seed price and anything set with SetMarket.
func NewPaperExchange(cfg PaperConfig, data MarketData) *PaperExchange {
	p := &PaperExchange{
		cfg:  cfg,
		data: data,
	}
	p.Reset()
	return p
}

// Name identifies the exchange.
func (p *PaperExchange) Name() string {
	return "paper"
}

// Ping always succeeds.
func (p *PaperExchange) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Reset restores the configured balances and seed price.
func (p *PaperExchange) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances = map[string]float64{
		p.cfg.QuoteAsset: p.cfg.QuoteBalance,
		p.cfg.BaseAsset:  p.cfg.BaseBalance,
	}
	p.ticker = models.Ticker{LastPrice: p.cfg.Price}
	p.book = p.syntheticBook(p.cfg.Price)
	p.orderCounter = 0
	p.orders = nil
}

func (p *PaperExchange) syntheticBook(price float64) *models.OrderBook {
	half := price * p.cfg.SpreadPercent / 200
	return &models.OrderBook{
		Bids: []models.PriceLevel{{Price: price - half, Quantity: 1e12}},
		Asks: []models.PriceLevel{{Price: price + half, Quantity: 1e12}},
	}
}

// SetMarket replaces the simulated ticker. A nil book is synthesized around the price.
func (p *PaperExchange) SetMarket(ticker models.Ticker, book *models.OrderBook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ticker = ticker
	if book == nil {
		book = p.syntheticBook(ticker.LastPrice)
	}
	p.book = book
}

// UpdatePrice moves the simulated last price, keeping the 24h change.
func (p *PaperExchange) UpdatePrice(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ticker.LastPrice = price
	p.book = p.syntheticBook(price)
}

// Ticker24h returns live data when configured, otherwise the simulated ticker.
func (p *PaperExchange) Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error) {
	if p.data != nil {
		t, err := p.data.Ticker24h(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.ticker = *t
		p.mu.Unlock()
		return t, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.ticker
	t.Symbol = symbol
	return &t, nil
}

// OrderBook returns live data when configured, otherwise the simulated book.
func (p *PaperExchange) OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	if p.data != nil {
		b, err := p.data.OrderBook(ctx, symbol, limit)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.book = b
		p.mu.Unlock()
		return b, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	b := &models.OrderBook{
		Symbol: symbol,
		Bids:   append([]models.PriceLevel(nil), p.book.Bids...),
		Asks:   append([]models.PriceLevel(nil), p.book.Asks...),
	}
	return b, nil
}

// SymbolRules returns the configured lot rules.
func (p *PaperExchange) SymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	return &models.SymbolRules{
		Symbol:      symbol,
		BaseAsset:   p.cfg.BaseAsset,
		QuoteAsset:  p.cfg.QuoteAsset,
		MinQty:      p.cfg.MinQty,
		StepSize:    p.cfg.StepSize,
		MinNotional: p.cfg.MinNotional,
		Status:      "ENABLED",
	}, nil
}

// Balances returns the simulated balances.
func (p *PaperExchange) Balances(ctx context.Context) ([]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return []models.Balance{
		{Asset: p.cfg.QuoteAsset, Free: p.balances[p.cfg.QuoteAsset]},
		{Asset: p.cfg.BaseAsset, Free: p.balances[p.cfg.BaseAsset]},
	}, nil
}

// PlaceMarketOrder fills the whole quantity at the top of the book. Commission is
// charged in the quote asset.
func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderFill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, errors.NewValidationError("quantity", req.Quantity, "must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var price float64
	switch req.Side {
	case models.OrderSideBuy:
		price = p.book.BestAsk()
	case models.OrderSideSell:
		price = p.book.BestBid()
	default:
		return nil, errors.NewValidationError("side", req.Side, "unknown order side")
	}
	if price <= 0 {
		price = p.ticker.LastPrice
	}
	if price <= 0 {
		return nil, errors.ErrMissingMarketData
	}

	quote, base := p.cfg.QuoteAsset, p.cfg.BaseAsset
	notional := req.Quantity * price
	commission := notional * p.cfg.CommissionRate

	switch req.Side {
	case models.OrderSideBuy:
		need := notional + commission
		if have := p.balances[quote]; need > have {
			return nil, errors.Wrapf(errors.ErrInsufficientFunds, "need %.2f %s, have %.2f", need, quote, have)
		}
		p.balances[quote] -= need
		p.balances[base] += req.Quantity
	case models.OrderSideSell:
		if have := p.balances[base]; req.Quantity > have {
			return nil, errors.Wrapf(errors.ErrInsufficientFunds, "need %.8f %s, have %.8f", req.Quantity, base, have)
		}
		p.balances[base] -= req.Quantity
		p.balances[quote] += notional - commission
	}

	p.orderCounter++
	fill := models.OrderFill{
		OrderID:         fmt.Sprintf("PAPER_%d_%d", time.Now().UnixNano(), p.orderCounter),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          models.TradeFilled,
		RequestedQty:    req.Quantity,
		ExecutedQty:     req.Quantity,
		AveragePrice:    price,
		Commission:      commission,
		CommissionAsset: quote,
		TransactTime:    time.Now().UTC(),
	}
	p.orders = append(p.orders, fill)
	return &fill, nil
}

// Orders returns the simulated fills in order of execution.
func (p *PaperExchange) Orders() []models.OrderFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderFill(nil), p.orders...)
}

var _ Exchange = (*PaperExchange)(nil)
