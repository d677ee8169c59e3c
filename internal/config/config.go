// Package config provides configuration management for the bagging bot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bagging-bot/internal/bot"
	"bagging-bot/internal/errors"
	"bagging-bot/internal/exchange"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/market"
	"bagging-bot/internal/models"
	"bagging-bot/internal/notify"
	"bagging-bot/internal/risk"
	"bagging-bot/internal/session"
	"bagging-bot/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	Log         logging.LogConfig `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Exchange    exchange.Config   `mapstructure:"exchange"`
	Bot         BotDefaults       `mapstructure:"bot"`
	Strategy    strategy.Config   `mapstructure:"strategy"`
	Market      market.Config     `mapstructure:"market"`
	Risk        risk.Config       `mapstructure:"risk"`
	Session     session.Config    `mapstructure:"session"`
	Controller  bot.Config        `mapstructure:"controller"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Notify      notify.Config     `mapstructure:"notify"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "memory"
	Path   string `mapstructure:"path"`
}

// MetricsConfig holds the ops HTTP server configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// BotDefaults seeds the persisted bot configuration applied with `config apply`.
type BotDefaults struct {
	Name                   string  `mapstructure:"name"`
	Symbol                 string  `mapstructure:"symbol"`
	BaseAsset              string  `mapstructure:"base_asset"`
	QuoteAsset             string  `mapstructure:"quote_asset"`
	MinOrderSize           float64 `mapstructure:"min_order_size"`
	MaxOrderSize           float64 `mapstructure:"max_order_size"`
	ProfitThreshold        float64 `mapstructure:"profit_threshold"`
	StopLossThreshold      float64 `mapstructure:"stop_loss_threshold"`
	TradingIntervalMinutes int     `mapstructure:"trading_interval_minutes"`
}

// Credentials holds API credentials.
type Credentials struct {
	MEXC     MEXCCredentials     `mapstructure:"mexc"`
	Telegram TelegramCredentials `mapstructure:"telegram"`
}

// MEXCCredentials holds MEXC API credentials.
type MEXCCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// TelegramCredentials holds the Telegram bot token used for notifications.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: logging.DefaultLogConfig(),
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(DefaultConfigDir(), "bagbot.db"),
		},
		Exchange: exchange.DefaultConfig(),
		Bot: BotDefaults{
			Name:                   "default",
			Symbol:                 "BSTUSDT",
			BaseAsset:              "BST",
			QuoteAsset:             "USDT",
			MinOrderSize:           15,
			MaxOrderSize:           75,
			ProfitThreshold:        0.02,
			StopLossThreshold:      0.05,
			TradingIntervalMinutes: 15,
		},
		Strategy:   strategy.DefaultConfig(),
		Market:     market.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Controller: bot.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		Notify: notify.DefaultConfig(),
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/bagging-bot"
	}
	return filepath.Join(home, ".config", "bagging-bot")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env never overrides variables already set in the environment
	loadDotEnv(filepath.Join(configDir, ".env"), ".env")

	cfg := Default()

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.Exchange.APIKey = cfg.Credentials.MEXC.APIKey
	cfg.Exchange.APISecret = cfg.Credentials.MEXC.APISecret
	if token := cfg.Credentials.Telegram.BotToken; token != "" {
		cfg.Notify.Telegram.BotToken = token
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template and keep defaults
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) error {
	// MEXC credentials
	if v := os.Getenv("MEXC_API_KEY"); v != "" {
		cfg.Credentials.MEXC.APIKey = v
	}
	if v := os.Getenv("MEXC_API_SECRET"); v != "" {
		cfg.Credentials.MEXC.APISecret = v
	}

	// Bot defaults
	if v := os.Getenv("DEFAULT_SYMBOL"); v != "" {
		cfg.Bot.Symbol = strings.ToUpper(v)
	}
	floats := map[string]*float64{
		"DEFAULT_MIN_ORDER_SIZE":      &cfg.Bot.MinOrderSize,
		"DEFAULT_MAX_ORDER_SIZE":      &cfg.Bot.MaxOrderSize,
		"DEFAULT_PROFIT_THRESHOLD":    &cfg.Bot.ProfitThreshold,
		"DEFAULT_STOP_LOSS_THRESHOLD": &cfg.Bot.StopLossThreshold,
	}
	for name, target := range floats {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(errors.ErrConfigInvalid, "%s=%q is not a number", name, v)
		}
		*target = f
	}
	if v := os.Getenv("DEFAULT_TRADING_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(errors.ErrConfigInvalid, "DEFAULT_TRADING_INTERVAL=%q is not an integer", v)
		}
		cfg.Bot.TradingIntervalMinutes = n
	}

	// Notifications
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
		cfg.Notify.Webhook.Enabled = true
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Exchange.Mode = strings.ToLower(v)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate trading mode
	if c.Exchange.Mode != "" && c.Exchange.Mode != "live" && c.Exchange.Mode != "paper" {
		return errors.Wrapf(errors.ErrConfigInvalid, "invalid trading mode: %s (must be 'live' or 'paper')", c.Exchange.Mode)
	}
	if c.Exchange.Timeout <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "exchange.timeout must be positive")
	}

	// Validate store
	if c.Store.Driver != "sqlite" && c.Store.Driver != "memory" {
		return errors.Wrapf(errors.ErrConfigInvalid, "invalid store driver: %s (must be 'sqlite' or 'memory')", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "store.path is required for sqlite")
	}

	// Validate bot defaults
	if err := c.Bot.Validate(); err != nil {
		return err
	}

	// Validate strategy bands and risk weights
	if err := c.Strategy.Validate(); err != nil {
		return errors.Wrap(errors.ErrConfigInvalid, err.Error())
	}
	if err := c.Risk.Validate(); err != nil {
		return errors.Wrap(errors.ErrConfigInvalid, err.Error())
	}
	if c.Market.BearishThreshold >= c.Market.BullishThreshold {
		return errors.Wrap(errors.ErrConfigInvalid, "market.bearish_threshold must be below market.bullish_threshold")
	}
	if c.Session.PreservationRatio <= 0 || c.Session.PreservationRatio > 1 {
		return errors.Wrap(errors.ErrConfigInvalid, "session.preservation_ratio must be in (0, 1]")
	}

	// Validate notifications
	switch notify.Level(c.Notify.Level) {
	case "", notify.LevelAll, notify.LevelTradesOnly, notify.LevelErrorsOnly:
	default:
		return errors.Wrapf(errors.ErrConfigInvalid, "invalid notify.level: %s", c.Notify.Level)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "notify.webhook.url is required when the webhook is enabled")
	}

	return nil
}

// Validate checks the bot defaults.
func (b BotDefaults) Validate() error {
	switch {
	case b.Symbol == "":
		return errors.Wrap(errors.ErrConfigInvalid, "bot.symbol is required")
	case b.MinOrderSize <= 0:
		return errors.Wrap(errors.ErrConfigInvalid, "bot.min_order_size must be positive")
	case b.MinOrderSize > b.MaxOrderSize:
		return errors.Wrap(errors.ErrConfigInvalid, "bot.min_order_size must not exceed bot.max_order_size")
	case b.ProfitThreshold <= 0 || b.ProfitThreshold >= 1:
		return errors.Wrap(errors.ErrConfigInvalid, "bot.profit_threshold must be in (0, 1)")
	case b.StopLossThreshold <= 0 || b.StopLossThreshold >= 1:
		return errors.Wrap(errors.ErrConfigInvalid, "bot.stop_loss_threshold must be in (0, 1)")
	case b.TradingIntervalMinutes < 1:
		return errors.Wrap(errors.ErrConfigInvalid, "bot.trading_interval_minutes must be at least 1")
	}
	return nil
}

// BotConfig builds a persisted bot configuration from the defaults.
func (b BotDefaults) BotConfig(id string, now time.Time) *models.BotConfig {
	base, quote := b.BaseAsset, b.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	if base == "" {
		base = strings.TrimSuffix(b.Symbol, quote)
	}
	return &models.BotConfig{
		ID:                     id,
		Name:                   b.Name,
		Symbol:                 b.Symbol,
		BaseAsset:              base,
		QuoteAsset:             quote,
		MinOrderSize:           b.MinOrderSize,
		MaxOrderSize:           b.MaxOrderSize,
		ProfitThreshold:        b.ProfitThreshold,
		StopLossThreshold:      b.StopLossThreshold,
		TradingIntervalMinutes: b.TradingIntervalMinutes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Exchange.IsPaper()
}
