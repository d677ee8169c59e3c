package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
	"bagging-bot/pkg/utils"
)

const (
	pathPing         = "/api/v3/ping"
	pathTicker24h    = "/api/v3/ticker/24hr"
	pathDepth        = "/api/v3/depth"
	pathExchangeInfo = "/api/v3/exchangeInfo"
	pathAccount      = "/api/v3/account"
	pathOrder        = "/api/v3/order"
	pathMyTrades     = "/api/v3/myTrades"

	apiKeyHeader = "X-MEXC-APIKEY"
)

// MEXCClient talks to the MEXC spot REST API.
type MEXCClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *breaker
	logger     zerolog.Logger
	now        func() time.Time

	// fillPollDelay is the wait between order status queries after placement.
	fillPollDelay time.Duration
}

// NewMEXCClient creates a MEXC client. Public endpoints work without credentials.
func NewMEXCClient(cfg Config, logger zerolog.Logger) *MEXCClient {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &MEXCClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:       rate.NewLimiter(limit, burst),
		breaker:       newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:        logging.WithComponent(logger, "mexc"),
		now:           time.Now,
		fillPollDelay: 250 * time.Millisecond,
	}
}

// Name identifies the exchange.
func (c *MEXCClient) Name() string {
	return "mexc"
}

// sign returns the hex HMAC-SHA256 of the encoded query.
func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// do sends one request. Signed requests get a fresh timestamp on every call.
func (c *MEXCClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrRateLimited, err.Error())
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return nil, fmt.Errorf("mexc: %s requires API credentials", path)
		}
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.cfg.RecvWindow > 0 {
			q.Set("recvWindow", strconv.Itoa(c.cfg.RecvWindow))
		}
	}
	query := q.Encode()
	if signed {
		query += "&signature=" + sign(query, c.cfg.APISecret)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mexc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	if err := c.breaker.allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors quote the URL, signature included.
		err = logging.RedactError(err)
		if ctx.Err() != nil {
			err = errors.Wrap(errors.ErrTimeout, err.Error())
		}
		c.breaker.record(true)
		logging.LogAPICall(c.logger, method, path, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.record(true)
		logging.LogAPICall(c.logger, method, path, time.Since(start), err)
		return nil, fmt.Errorf("mexc: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &errors.ExchangeError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload apiError
		if json.Unmarshal(body, &payload) == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		c.breaker.record(resp.StatusCode >= 500)
		logging.LogAPICall(c.logger, method, path, time.Since(start), apiErr)
		return nil, apiErr
	}

	c.breaker.record(false)
	logging.LogAPICall(c.logger, method, path, time.Since(start), nil)
	return body, nil
}

// get issues an idempotent request, retrying temporary failures.
func (c *MEXCClient) get(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	cfg := utils.DefaultRetryConfig()
	cfg.MaxAttempts = c.cfg.MaxRetries
	cfg.Retryable = errors.IsTemporary
	return utils.RetryWithResult(ctx, cfg, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, params, signed)
	})
}

func (c *MEXCClient) getJSON(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	body, err := c.get(ctx, path, params, signed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// num parses the exchange's string-encoded numbers. Empty strings read as zero.
func num(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// Ping checks connectivity.
func (c *MEXCClient) Ping(ctx context.Context) error {
	if _, err := c.get(ctx, pathPing, nil, false); err != nil {
		return fmt.Errorf("mexc: ping: %w", err)
	}
	return nil
}

type ticker24hResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

// Ticker24h returns the rolling 24h statistics for a symbol.
func (c *MEXCClient) Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error) {
	var resp ticker24hResponse
	if err := c.getJSON(ctx, pathTicker24h, url.Values{"symbol": {symbol}}, false, &resp); err != nil {
		return nil, fmt.Errorf("mexc: ticker %s: %w", symbol, err)
	}
	return &models.Ticker{
		Symbol:             resp.Symbol,
		LastPrice:          num(resp.LastPrice),
		PriceChangePercent: num(resp.PriceChangePercent),
		Volume:             num(resp.Volume),
	}, nil
}

type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func levels(rows [][]string) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, models.PriceLevel{Price: num(row[0]), Quantity: num(row[1])})
	}
	return out
}

// OrderBook returns the top of the order book.
func (c *MEXCClient) OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	params := url.Values{"symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp depthResponse
	if err := c.getJSON(ctx, pathDepth, params, false, &resp); err != nil {
		return nil, fmt.Errorf("mexc: depth %s: %w", symbol, err)
	}
	return &models.OrderBook{
		Symbol: symbol,
		Bids:   levels(resp.Bids),
		Asks:   levels(resp.Asks),
	}, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol               string `json:"symbol"`
		Status               string `json:"status"`
		BaseAsset            string `json:"baseAsset"`
		QuoteAsset           string `json:"quoteAsset"`
		BaseSizePrecision    string `json:"baseSizePrecision"`
		QuoteAmountPrecision string `json:"quoteAmountPrecision"`
		Filters              []struct {
			FilterType  string `json:"filterType"`
			MinQty      string `json:"minQty"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolRules returns the lot size and notional limits for a symbol. LOT_SIZE and
// MIN_NOTIONAL filters win over the precision fields when both are present.
func (c *MEXCClient) SymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	var resp exchangeInfoResponse
	if err := c.getJSON(ctx, pathExchangeInfo, url.Values{"symbol": {symbol}}, false, &resp); err != nil {
		return nil, fmt.Errorf("mexc: exchange info %s: %w", symbol, err)
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := &models.SymbolRules{
			Symbol:      s.Symbol,
			BaseAsset:   s.BaseAsset,
			QuoteAsset:  s.QuoteAsset,
			Status:      s.Status,
			StepSize:    num(s.BaseSizePrecision),
			MinQty:      num(s.BaseSizePrecision),
			MinNotional: num(s.QuoteAmountPrecision),
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				rules.MinQty = num(f.MinQty)
				rules.StepSize = num(f.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				rules.MinNotional = num(f.MinNotional)
			}
		}
		return rules, nil
	}
	return nil, fmt.Errorf("mexc: symbol %s: %w", symbol, errors.ErrNotFound)
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balances returns the account's spot balances.
func (c *MEXCClient) Balances(ctx context.Context) ([]models.Balance, error) {
	var resp accountResponse
	if err := c.getJSON(ctx, pathAccount, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("mexc: account: %w", err)
	}
	balances := make([]models.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		balances = append(balances, models.Balance{
			Asset:  b.Asset,
			Free:   num(b.Free),
			Locked: num(b.Locked),
		})
	}
	return balances, nil
}

type orderResponse struct {
	OrderID             string `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Symbol              string `json:"symbol"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
}

type myTradeResponse struct {
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// PlaceMarketOrder submits a MARKET order for a base quantity, then queries the
// order to learn how much of it filled. Placement is never retried.
func (c *MEXCClient) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderFill, error) {
	qty := strconv.FormatFloat(req.Quantity, 'f', -1, 64)
	params := url.Values{
		"symbol":   {req.Symbol},
		"side":     {string(req.Side)},
		"type":     {string(models.OrderTypeMarket)},
		"quantity": {qty},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	body, err := c.do(ctx, http.MethodPost, pathOrder, params, true)
	if err != nil {
		return nil, fmt.Errorf("mexc: place %s order: %w", req.Side, err)
	}
	var placed orderResponse
	if err := json.Unmarshal(body, &placed); err != nil {
		return nil, fmt.Errorf("mexc: decode order: %w", err)
	}
	if placed.OrderID == "" {
		return nil, fmt.Errorf("mexc: order response without id: %w", errors.ErrOrderRejected)
	}

	fill := &models.OrderFill{
		OrderID:       placed.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        models.TradeNew,
		RequestedQty:  req.Quantity,
		TransactTime:  time.UnixMilli(placed.TransactTime).UTC(),
	}

	status, err := c.awaitFill(ctx, req.Symbol, placed.OrderID)
	if err != nil {
		// The order exists; report it unsettled rather than losing the id.
		c.logger.Warn().Err(err).Str("order_id", placed.OrderID).Msg("order status query failed")
		return fill, nil
	}

	fill.ExecutedQty = num(status.ExecutedQty)
	if quote := num(status.CummulativeQuoteQty); fill.ExecutedQty > 0 {
		fill.AveragePrice = quote / fill.ExecutedQty
	}
	fill.Status = fillStatus(status.Status, fill.ExecutedQty, req.Quantity)
	if status.UpdateTime > 0 {
		fill.TransactTime = time.UnixMilli(status.UpdateTime).UTC()
	}

	if fill.ExecutedQty > 0 {
		var trades []myTradeResponse
		params := url.Values{"symbol": {req.Symbol}, "orderId": {placed.OrderID}}
		if err := c.getJSON(ctx, pathMyTrades, params, true, &trades); err != nil {
			c.logger.Debug().Err(err).Str("order_id", placed.OrderID).Msg("commission lookup failed")
		} else {
			for _, t := range trades {
				fill.Commission += num(t.Commission)
				fill.CommissionAsset = t.CommissionAsset
			}
		}
	}

	return fill, nil
}

// awaitFill polls the order until it leaves NEW or the retry budget runs out.
func (c *MEXCClient) awaitFill(ctx context.Context, symbol, orderID string) (*orderResponse, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var status orderResponse
	for i := 0; i < attempts; i++ {
		if err := c.getJSON(ctx, pathOrder, params, true, &status); err != nil {
			return nil, err
		}
		if status.Status != "NEW" {
			return &status, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return &status, nil
			case <-time.After(c.fillPollDelay):
			}
		}
	}
	return &status, nil
}

func fillStatus(status string, executed, requested float64) models.TradeStatus {
	switch {
	case executed <= 0 && status == "NEW":
		return models.TradeNew
	case executed <= 0:
		return models.TradeRejected
	case status == "FILLED" || executed >= requested:
		return models.TradeFilled
	default:
		return models.TradePartial
	}
}

var _ Exchange = (*MEXCClient)(nil)
