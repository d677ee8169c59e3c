// Package cli provides the command-line interface for the bagging bot.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bagging-bot/internal/bot"
	"bagging-bot/internal/config"
	"bagging-bot/internal/exchange"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/market"
	"bagging-bot/internal/metrics"
	"bagging-bot/internal/models"
	"bagging-bot/internal/notify"
	"bagging-bot/internal/risk"
	"bagging-bot/internal/session"
	"bagging-bot/internal/store"
	"bagging-bot/internal/strategy"
	"bagging-bot/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// skipInit marks commands that run without loading configuration.
const skipInit = "skip-init"

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      store.Store
	Exchange   exchange.Exchange
	Sessions   *session.Manager
	Risk       *risk.Manager
	Metrics    *metrics.Metrics
	Controller *bot.Controller
}

// NewRootCmd creates the root command for the CLI. Dependencies are wired in
// PersistentPreRunE once the config directory flag has been parsed.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "bagbot",
		Short: "Bagging Bot - capital-preserving token accumulation on MEXC",
		Long: `Bagging Bot accumulates a token during bearish markets and rebalances
back into the stable asset during bullish ones, keeping most of its capital
in the quote asset at all times.

Sessions track capital and tokens over a fixed cycle. The bot runs one
strategy cycle per trading interval, or on demand with 'bagbot cycle'.

Use 'bagbot <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipInit] == "true" {
				return nil
			}
			return app.wire(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/bagging-bot)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addBotCommands(rootCmd, app)
	addSessionCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)

	return rootCmd
}

// wire loads configuration and builds every collaborator.
func (app *App) wire(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	app.Config = cfg

	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		cfg.Log.Level = "debug"
	}
	app.Logger = logging.NewLoggerWithConfig(cfg.Log)
	if debug {
		logging.SetDebugLevel()
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	app.Store = st

	ex, err := exchange.New(cfg.Exchange, app.Logger)
	if err != nil {
		return err
	}
	app.Exchange = ex
	app.Logger.Debug().Str("exchange", ex.Name()).Bool("paper", cfg.IsPaperMode()).Msg("Exchange initialized")

	app.Sessions = session.NewManager(st, cfg.Session, app.Logger)
	app.Risk = risk.NewManager(cfg.Risk, app.Logger)
	app.Metrics = metrics.New()
	app.Controller = bot.NewController(bot.Deps{
		Store:     st,
		Sessions:  app.Sessions,
		Analyzer:  market.NewAnalyzer(ex, cfg.Market, app.Logger),
		Generator: strategy.NewGenerator(cfg.Strategy),
		Risk:      app.Risk,
		Executor:  bot.NewExecutor(ex, cfg.Controller.OrderTimeout, app.Logger),
		Metrics:   app.Metrics,
		Notifier:  notify.New(cfg.Notify, app.Logger),
	}, cfg.Controller, app.Logger)

	cmd.SetContext(logging.WithLogger(cmd.Context(), logging.WithComponent(app.Logger, "cli")))
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Path)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipInit: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Bagging Bot v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View application settings and manage the persisted bot configurations.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := *app.Config
			redacted.Credentials = config.Credentials{}
			redacted.Exchange.APIKey, redacted.Exchange.APISecret = "", ""
			if output.IsJSON() {
				return output.JSON(redacted)
			}
			return showConfig(output, &redacted, logging.MaskCredential(app.Config.Exchange.APIKey))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipInit: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load already validated; reaching here means the files are valid.
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(newConfigApplyCmd(app))
	cmd.AddCommand(newConfigActivateCmd(app))
	cmd.AddCommand(newConfigListCmd(app))

	return cmd
}

func showConfig(output *Output, cfg *config.Config, maskedKey string) error {
	output.Bold("Exchange")
	output.Printf("  Mode:             %s\n", cfg.Exchange.Mode)
	output.Printf("  Base URL:         %s\n", cfg.Exchange.BaseURL)
	if maskedKey == "" {
		output.Printf("  API Key:          %s\n", output.Red("not set"))
	} else {
		output.Printf("  API Key:          %s\n", maskedKey)
	}
	output.Println()

	output.Bold("Bot Defaults")
	output.Printf("  Symbol:           %s\n", cfg.Bot.Symbol)
	output.Printf("  Order Size:       %s - %s\n", utils.FormatQuote(cfg.Bot.MinOrderSize, cfg.Bot.QuoteAsset), utils.FormatQuote(cfg.Bot.MaxOrderSize, cfg.Bot.QuoteAsset))
	output.Printf("  Profit Threshold: %s\n", utils.FormatPercent(cfg.Bot.ProfitThreshold*100))
	output.Printf("  Stop Loss:        %s\n", utils.FormatPercent(cfg.Bot.StopLossThreshold*100))
	output.Printf("  Interval:         %d min\n", cfg.Bot.TradingIntervalMinutes)
	output.Println()

	output.Bold("Strategy Bands")
	output.Printf("  Buy above:        %.0f%% stable\n", cfg.Strategy.BuyAllocation*100)
	output.Printf("  Target:           %.0f%% stable\n", cfg.Strategy.TargetAllocation*100)
	output.Printf("  Sell below:       %.0f%% stable\n", cfg.Strategy.SellAllocation*100)
	output.Printf("  Sentiment:        %.1f%% / %.1f%%\n", cfg.Market.BearishThreshold, cfg.Market.BullishThreshold)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Max Position:     %.0f%% of capital\n", cfg.Risk.MaxPositionFraction*100)
	output.Printf("  Daily Trades:     %d\n", cfg.Risk.DailyTradeLimit)
	output.Printf("  Preservation:     %.0f%%\n", cfg.Session.PreservationRatio*100)
	output.Println()

	output.Bold("Operations")
	output.Printf("  Store:            %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	output.Printf("  Log Level:        %s\n", cfg.Log.Level)
	output.Printf("  Ops Server:       %s (%s)\n", output.Flag(cfg.Metrics.Enabled), cfg.Metrics.Listen)
	return nil
}

func newConfigApplyCmd(app *App) *cobra.Command {
	var (
		name     string
		symbol   string
		minSize  float64
		maxSize  float64
		profit   float64
		stopLoss float64
		interval int
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Save a bot configuration built from the defaults",
		Long: `Save a bot configuration built from the [bot] defaults in config.toml.
Flags override individual fields. The new configuration is activated unless
--activate=false is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			defaults := app.Config.Bot
			if cmd.Flags().Changed("name") {
				defaults.Name = name
			}
			if cmd.Flags().Changed("symbol") {
				defaults.Symbol = symbol
				defaults.BaseAsset = ""
			}
			if cmd.Flags().Changed("min") {
				defaults.MinOrderSize = minSize
			}
			if cmd.Flags().Changed("max") {
				defaults.MaxOrderSize = maxSize
			}
			if cmd.Flags().Changed("profit") {
				defaults.ProfitThreshold = profit
			}
			if cmd.Flags().Changed("stop-loss") {
				defaults.StopLossThreshold = stopLoss
			}
			if cmd.Flags().Changed("interval") {
				defaults.TradingIntervalMinutes = interval
			}
			if err := defaults.Validate(); err != nil {
				return err
			}

			botCfg := defaults.BotConfig(uuid.NewString(), time.Now().UTC())
			ctx := cmd.Context()
			if err := app.Store.SaveBotConfig(ctx, botCfg); err != nil {
				return err
			}
			if activate {
				if err := app.Store.ActivateBotConfig(ctx, botCfg.ID); err != nil {
					return err
				}
				botCfg.IsActive = true
			}

			if output.IsJSON() {
				return output.JSON(botCfg)
			}
			output.Success("✓ Saved configuration %s (%s)", botCfg.ID, botCfg.Symbol)
			if botCfg.IsActive {
				output.Info("Configuration is now active")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "configuration name")
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair, e.g. BSTUSDT")
	cmd.Flags().Float64Var(&minSize, "min", 0, "minimum order size in the quote asset")
	cmd.Flags().Float64Var(&maxSize, "max", 0, "maximum order size in the quote asset")
	cmd.Flags().Float64Var(&profit, "profit", 0, "profit threshold as a fraction")
	cmd.Flags().Float64Var(&stopLoss, "stop-loss", 0, "stop-loss threshold as a fraction")
	cmd.Flags().IntVar(&interval, "interval", 0, "trading interval in minutes")
	cmd.Flags().BoolVar(&activate, "activate", true, "activate the saved configuration")
	return cmd
}

func newConfigActivateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate a saved bot configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Store.ActivateBotConfig(cmd.Context(), args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"active": args[0]})
			}
			output.Success("✓ Activated configuration %s", args[0])
			return nil
		},
	}
}

func newConfigListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved bot configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			configs, err := app.Store.ListBotConfigs(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(configs)
			}
			if len(configs) == 0 {
				output.Warning("No configurations saved. Run 'bagbot config apply' to create one.")
				return nil
			}
			table := NewTable(output, "ID", "NAME", "SYMBOL", "ORDER SIZE", "INTERVAL", "ACTIVE")
			for _, c := range configs {
				table.AddRow(c.ID, c.Name, c.Symbol,
					fmt.Sprintf("%s-%s", utils.FormatAmount(c.MinOrderSize, 2), utils.FormatAmount(c.MaxOrderSize, 2)),
					fmt.Sprintf("%dm", c.TradingIntervalMinutes),
					activeMark(output, c))
			}
			table.Render()
			return nil
		},
	}
}

func activeMark(output *Output, c models.BotConfig) string {
	if c.IsActive {
		return output.Green("●")
	}
	return ""
}
