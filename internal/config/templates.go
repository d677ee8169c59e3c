package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Bagging Bot Configuration

[log]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
# file_path = "~/.config/bagging-bot/logs/bagbot.log"
max_size = 100
max_backups = 7
max_age = 30

[store]
# Store driver: "sqlite" or "memory"
driver = "sqlite"
# path = "~/.config/bagging-bot/bagbot.db"

[exchange]
# Trading mode: "live" or "paper"
mode = "paper"
base_url = "https://api.mexc.com"
timeout = "10s"
# Signed request validity in milliseconds
recv_window = 5000
# Requests per second and burst
rate_limit = 10.0
rate_burst = 5
max_retries = 3
# Consecutive transport failures before requests fail fast, 0 disables
breaker_threshold = 5
breaker_cooldown = "30s"

[exchange.paper]
base_asset = "BST"
quote_asset = "USDT"
quote_balance = 1000.0
base_balance = 0.0
commission_rate = 0.001
# Seed price used when live_data is off
price = 0.0823
spread_percent = 0.2
step_size = 0.01
min_qty = 0.01
min_notional = 1.0
# Read market data from the public MEXC endpoints
live_data = false

[bot]
# Defaults used by "bagbot config apply"
name = "default"
symbol = "BSTUSDT"
base_asset = "BST"
quote_asset = "USDT"
min_order_size = 15.0
max_order_size = 75.0
profit_threshold = 0.02
stop_loss_threshold = 0.05
trading_interval_minutes = 15

[strategy]
# Stable-capital share bands
buy_allocation = 0.80
target_allocation = 0.70
sell_allocation = 0.30
profit_take_fraction = 0.10

[market]
# 24h change bands in percent
bearish_threshold = -2.0
bullish_threshold = 2.0
depth_limit = 20
timeout = "10s"

[risk]
max_position_fraction = 0.30
daily_trade_limit = 10
expected_trades_per_day = 2.0
drawdown_weight = 50.0
win_rate_weight = 30.0
frequency_weight = 20.0
# Emergency stop once a session has this many trades, 0 disables
excessive_trade_count = 50
estimated_fee_rate = 0.001
# Drawdown guard floor is (1 - stop_loss_threshold) x initial capital.
# "capital" checks stable capital after the order, "value" checks total value.
drawdown_basis = "capital"

[session]
default_cycle_days = 30
preservation_ratio = 0.95
# Count the preservation goal only after a sell has recovered capital.
# Without it a fresh session, worth its initial capital, completes on its first cycle.
require_recovery_sell = true

[controller]
force_wait = "5s"
shutdown_timeout = "60s"
order_timeout = "15s"

[metrics]
enabled = true
listen = "127.0.0.1:9464"

[notify]
# Notification filter: all, trades_only, errors_only
level = "all"
timeout = "5s"

[notify.webhook]
enabled = false
url = ""

[notify.telegram]
# The bot token is read from credentials.toml or TELEGRAM_BOT_TOKEN
enabled = false
chat_id = ""
`

const credentialsTemplate = `# Bagging Bot Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# MEXC_API_KEY and MEXC_API_SECRET in the environment take precedence.

[mexc]
api_key = ""
api_secret = ""

[telegram]
bot_token = ""
`

// createTemplateConfig writes the annotated default config. Loading continues with
// the built-in defaults.
func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
