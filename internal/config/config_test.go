package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "bagging-bot/internal/errors"
)

var envVars = []string{
	"MEXC_API_KEY", "MEXC_API_SECRET",
	"DEFAULT_SYMBOL", "DEFAULT_MIN_ORDER_SIZE", "DEFAULT_MAX_ORDER_SIZE",
	"DEFAULT_PROFIT_THRESHOLD", "DEFAULT_STOP_LOSS_THRESHOLD", "DEFAULT_TRADING_INTERVAL",
	"LOG_LEVEL", "TRADING_MODE", "TELEGRAM_BOT_TOKEN", "NOTIFY_WEBHOOK_URL",
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_CreatesTemplatesAndKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be created: %v", name, err)
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "credentials.toml")); err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("credentials.toml mode = %v, want 0600", info.Mode().Perm())
	}

	want := Default()
	if cfg.Bot != want.Bot {
		t.Errorf("Bot = %+v, want %+v", cfg.Bot, want.Bot)
	}

	// The second load parses the generated template and must agree with the defaults.
	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if reloaded.Bot != want.Bot {
		t.Errorf("template Bot = %+v, want %+v", reloaded.Bot, want.Bot)
	}
	if reloaded.Strategy != want.Strategy {
		t.Errorf("template Strategy = %+v, want %+v", reloaded.Strategy, want.Strategy)
	}
	if reloaded.Risk != want.Risk {
		t.Errorf("template Risk = %+v, want %+v", reloaded.Risk, want.Risk)
	}
	if reloaded.Market != want.Market {
		t.Errorf("template Market = %+v, want %+v", reloaded.Market, want.Market)
	}
	if reloaded.Session != want.Session {
		t.Errorf("template Session = %+v, want %+v", reloaded.Session, want.Session)
	}
	if reloaded.Controller != want.Controller {
		t.Errorf("template Controller = %+v, want %+v", reloaded.Controller, want.Controller)
	}
	if reloaded.Exchange.Paper != want.Exchange.Paper || reloaded.Exchange.Timeout != 10*time.Second {
		t.Errorf("template Exchange = %+v", reloaded.Exchange)
	}
	if reloaded.Notify != want.Notify {
		t.Errorf("template Notify = %+v, want %+v", reloaded.Notify, want.Notify)
	}
	if !reloaded.IsPaperMode() {
		t.Error("template should default to paper mode")
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	config := `
[exchange]
mode = "live"
timeout = "3s"

[bot]
symbol = "BTCUSDT"
base_asset = "BTC"
max_order_size = 150.0

[controller]
force_wait = "250ms"
`
	creds := `
[mexc]
api_key = "file-key"
api_secret = "file-secret"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(creds), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.IsPaperMode() || cfg.Exchange.Timeout != 3*time.Second {
		t.Errorf("exchange = %+v", cfg.Exchange)
	}
	if cfg.Bot.Symbol != "BTCUSDT" || cfg.Bot.MaxOrderSize != 150 || cfg.Bot.MinOrderSize != 15 {
		t.Errorf("bot = %+v, unset keys should keep defaults", cfg.Bot)
	}
	if cfg.Controller.ForceWait != 250*time.Millisecond || cfg.Controller.ShutdownTimeout != 60*time.Second {
		t.Errorf("controller = %+v", cfg.Controller)
	}
	if cfg.Exchange.APIKey != "file-key" || cfg.Exchange.APISecret != "file-secret" {
		t.Errorf("credentials not copied into exchange config: %q/%q", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Setenv("MEXC_API_KEY", "env-key")
	t.Setenv("MEXC_API_SECRET", "env-secret")
	t.Setenv("DEFAULT_SYMBOL", "ethusdt")
	t.Setenv("DEFAULT_MIN_ORDER_SIZE", "20")
	t.Setenv("DEFAULT_MAX_ORDER_SIZE", "60.5")
	t.Setenv("DEFAULT_PROFIT_THRESHOLD", "0.03")
	t.Setenv("DEFAULT_STOP_LOSS_THRESHOLD", "0.08")
	t.Setenv("DEFAULT_TRADING_INTERVAL", "5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRADING_MODE", "Live")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := BotDefaults{
		Name: "default", Symbol: "ETHUSDT", BaseAsset: "BST", QuoteAsset: "USDT",
		MinOrderSize: 20, MaxOrderSize: 60.5, ProfitThreshold: 0.03,
		StopLossThreshold: 0.08, TradingIntervalMinutes: 5,
	}
	if cfg.Bot != want {
		t.Errorf("Bot = %+v, want %+v", cfg.Bot, want)
	}
	if cfg.Log.Level != "debug" || cfg.Exchange.Mode != "live" {
		t.Errorf("level/mode = %q/%q", cfg.Log.Level, cfg.Exchange.Mode)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Errorf("env credentials not applied")
	}
}

func TestLoad_Notify(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	file := "[notify]\nlevel = \"errors_only\"\n\n[notify.telegram]\nenabled = true\nchat_id = \"42\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(file), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte("[telegram]\nbot_token = \"file-token\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOTIFY_WEBHOOK_URL", "http://hooks.local/bagbot")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	n := cfg.Notify
	if n.Level != "errors_only" || !n.Telegram.Enabled || n.Telegram.ChatID != "42" {
		t.Errorf("notify = %+v", n)
	}
	if n.Telegram.BotToken != "file-token" {
		t.Errorf("bot token = %q, want file-token", n.Telegram.BotToken)
	}
	if n.Telegram.BaseURL != "https://api.telegram.org" || n.Timeout != 5*time.Second {
		t.Errorf("defaults lost: %+v", n)
	}
	if !n.Webhook.Enabled || n.Webhook.URL != "http://hooks.local/bagbot" {
		t.Errorf("webhook env override not applied: %+v", n.Webhook)
	}

	cfg.Notify.Level = "loud"
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("invalid level accepted: %v", err)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_SYMBOL=SOLUSDT\nMEXC_API_KEY=dotenv-key\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Real environment wins over .env.
	t.Setenv("MEXC_API_KEY", "real-key")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bot.Symbol != "SOLUSDT" {
		t.Errorf("symbol = %q, want value from .env", cfg.Bot.Symbol)
	}
	if cfg.Credentials.MEXC.APIKey != "real-key" {
		t.Errorf("api key = %q, environment should take precedence", cfg.Credentials.MEXC.APIKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad mode", map[string]string{"TRADING_MODE": "margin"}},
		{"min above max", map[string]string{"DEFAULT_MIN_ORDER_SIZE": "100"}},
		{"zero interval", map[string]string{"DEFAULT_TRADING_INTERVAL": "0"}},
		{"not a number", map[string]string{"DEFAULT_PROFIT_THRESHOLD": "two"}},
		{"stop loss out of range", map[string]string{"DEFAULT_STOP_LOSS_THRESHOLD": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			if !errors.Is(err, apperrors.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestValidate_Bands(t *testing.T) {
	cfg := Default()
	cfg.Strategy.SellAllocation = 0.75
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("unordered bands should be invalid, got %v", err)
	}

	cfg = Default()
	cfg.Market.BearishThreshold = 3
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("inverted sentiment bands should be invalid, got %v", err)
	}

	cfg = Default()
	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("unknown store driver should be invalid, got %v", err)
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestBotDefaults_BotConfig(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	b := Default().Bot
	b.BaseAsset = ""
	b.Symbol = "PEPEUSDT"

	cfg := b.BotConfig("cfg-1", now)
	if cfg.ID != "cfg-1" || cfg.BaseAsset != "PEPE" || cfg.QuoteAsset != "USDT" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.IsActive {
		t.Error("a built config is inactive until activated")
	}
	if cfg.Interval() != 15*time.Minute || !cfg.CreatedAt.Equal(now) {
		t.Errorf("interval/created = %v/%v", cfg.Interval(), cfg.CreatedAt)
	}
}
