// Package notify delivers bot events to webhook and Telegram channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
	"bagging-bot/pkg/utils"
)

// Config holds notification settings.
type Config struct {
	// Level filters what is sent: "all", "trades_only" or "errors_only".
	Level    string         `mapstructure:"level"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig configures the JSON webhook channel.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	// BaseURL is overridable for tests.
	BaseURL  string `mapstructure:"base_url"`
}

// DefaultConfig returns a configuration with every channel disabled.
func DefaultConfig() Config {
	return Config{
		Level:    string(LevelAll),
		Timeout:  5 * time.Second,
		Telegram: TelegramConfig{BaseURL: "https://api.telegram.org"},
	}
}

// Type classifies a notification.
type Type string

const (
	TypeTrade     Type = "trade"
	TypeEmergency Type = "emergency"
	TypeReport    Type = "report"
	TypeError     Type = "error"
)

// Level is the notification level filter.
type Level string

const (
	LevelAll        Level = "all"
	LevelTradesOnly Level = "trades_only"
	LevelErrorsOnly Level = "errors_only"
)

// Notification is one message fanned out to every channel.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Channel is a single delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier sends notifications to its channels. A nil Notifier sends nothing.
type Notifier struct {
	level   Level
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	channels []Channel
}

// New creates a Notifier with the channels enabled in cfg.
func New(cfg Config, logger zerolog.Logger) *Notifier {
	n := &Notifier{
		level:   Level(cfg.Level),
		timeout: cfg.Timeout,
		logger:  logging.WithComponent(logger, "notify"),
		now:     time.Now,
	}
	if n.level == "" {
		n.level = LevelAll
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		n.channels = append(n.channels, NewWebhookChannel(cfg.Webhook.URL))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		n.channels = append(n.channels, NewTelegramChannel(cfg.Telegram))
	}
	return n
}

// AddChannel adds a delivery target.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	if n == nil {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.channels) > 0
}

func (n *Notifier) shouldSend(t Type) bool {
	switch n.level {
	case LevelTradesOnly:
		return t == TypeTrade
	case LevelErrorsOnly:
		return t == TypeError || t == TypeEmergency
	default:
		return true
	}
}

// Send delivers a notification to every channel. Failures are joined; one failing
// channel does not stop the others.
func (n *Notifier) Send(ctx context.Context, note Notification) error {
	if n == nil || !n.shouldSend(note.Type) {
		return nil
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = n.now()
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	n.mu.RLock()
	channels := n.channels
	n.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if err := ch.Send(ctx, note); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), logging.RedactError(err)))
		}
	}
	if len(errs) > 0 {
		err := fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
		n.logger.Warn().Err(err).Str("type", string(note.Type)).Msg("Notification failed")
		return err
	}
	return nil
}

// Trade announces an executed trade.
func (n *Notifier) Trade(ctx context.Context, t *models.Trade) error {
	return n.Send(ctx, Notification{
		Type:  TypeTrade,
		Title: fmt.Sprintf("Trade executed: %s %s", t.Side, t.Symbol),
		Message: fmt.Sprintf("Quantity: %s\nPrice: %s\nNotional: %s\nStatus: %s\nReason: %s",
			utils.FormatQuantity(t.ExecutedQuantity),
			utils.FormatPrice(t.ExecutedPrice),
			utils.FormatAmount(t.Notional(), 2),
			t.Status,
			t.Reason),
		Data: map[string]interface{}{
			"session_id": t.SessionID,
			"order_id":   t.OrderID,
			"symbol":     t.Symbol,
			"side":       t.Side,
			"quantity":   t.ExecutedQuantity,
			"price":      t.ExecutedPrice,
			"status":     t.Status,
		},
	})
}

// EmergencyStop announces a halt.
func (n *Notifier) EmergencyStop(ctx context.Context, sessionID, reason string, riskScore float64) error {
	return n.Send(ctx, Notification{
		Type:  TypeEmergency,
		Title: "Emergency stop triggered",
		Message: fmt.Sprintf("Session: %s\nReason: %s\nRisk score: %.1f\n\nThe session is paused. Clear the stop and resume it to continue.",
			sessionID, reason, riskScore),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"reason":     reason,
			"risk_score": riskScore,
		},
	})
}

// CycleReport announces a completed session.
func (n *Notifier) CycleReport(ctx context.Context, r *models.CycleReport) error {
	return n.Send(ctx, Notification{
		Type:  TypeReport,
		Title: fmt.Sprintf("Session completed: %s", r.SessionName),
		Message: fmt.Sprintf("Trigger: %s\nInitial: %s\nTotal value: %s\nP&L: %s (%s)\nCapital preserved: %v",
			r.Trigger,
			utils.FormatAmount(r.InitialCapital, 2),
			utils.FormatAmount(r.TotalValue, 2),
			utils.FormatPnL(r.ProfitLoss, ""),
			utils.FormatPercent(r.ProfitLossPercent),
			r.CapitalPreserved),
		Data: map[string]interface{}{
			"session_id":        r.SessionID,
			"trigger":           r.Trigger,
			"total_value":       r.TotalValue,
			"profit_loss":       r.ProfitLoss,
			"capital_preserved": r.CapitalPreserved,
		},
	})
}

// Error announces a failed cycle.
func (n *Notifier) Error(ctx context.Context, kind, message string) error {
	return n.Send(ctx, Notification{
		Type:    TypeError,
		Title:   "Cycle failed",
		Message: fmt.Sprintf("Kind: %s\nError: %s", kind, message),
		Data: map[string]interface{}{
			"kind":  kind,
			"error": message,
		},
	})
}

// WebhookChannel posts notifications as JSON.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a WebhookChannel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Name returns the channel name.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Send posts a notification to the webhook URL.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

// TelegramChannel sends notifications through the Telegram bot API.
type TelegramChannel struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel creates a TelegramChannel.
func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramChannel{
		baseURL:  strings.TrimRight(base, "/"),
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Send posts a notification as an HTML message.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message)),
		"parse_mode": "HTML",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, payload, "telegram"); err != nil {
		// The bot token is part of the URL.
		return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), t.botToken, logging.MaskCredential(t.botToken)))
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, name string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "BaggingBot/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
	}
	return nil
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
