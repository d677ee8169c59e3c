package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"bagging-bot/internal/exchange"
	"bagging-bot/pkg/utils"
)

var timeNow = time.Now

// addMarketCommands adds the read-only analysis commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
	rootCmd.AddCommand(newBalancesCmd(app))
}

func newAnalyzeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the market and show the signal a cycle would act on",
		Long: `Fetch market data for the active configuration's symbol and show the
signal the strategy would produce. Nothing is executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			res, err := app.Controller.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}

			m := res.MarketData
			output.Bold("Market: %s", m.Symbol)
			output.Printf("  Price:      %s\n", utils.FormatPrice(m.CurrentPrice))
			output.Printf("  24h Change: %s\n", output.FormatPercent(m.PriceChangePercent))
			output.Printf("  Volume:     %s\n", utils.FormatAmount(m.Volume, 0))
			output.Printf("  Bid/Ask:    %s / %s (spread %.3f%%)\n", utils.FormatPrice(m.BestBid), utils.FormatPrice(m.BestAsk), m.SpreadPercent)
			output.Printf("  Sentiment:  %s\n", output.Sentiment(m.Sentiment))
			output.Println()

			s := res.Session
			output.Bold("Session: %s", s.Name)
			output.Printf("  Stable:     %s\n", utils.FormatAmount(s.CurrentCapital, 2))
			output.Printf("  Tokens:     %s\n", utils.FormatQuantity(s.AccumulatedTokens))
			output.Printf("  Total:      %s\n", utils.FormatAmount(s.TotalValue(m.CurrentPrice), 2))
			output.Printf("  Stable %%:   %.1f%%\n", res.Signal.Allocation*100)
			output.Println()

			output.Bold("Signal")
			output.Printf("  Action:     %s\n", output.Action(res.Signal.Action))
			if res.Signal.IsTrade() {
				output.Printf("  Amount:     %s %s\n", utils.FormatAmount(res.Signal.Amount, 4), res.Signal.Unit)
			}
			output.Printf("  Reason:     %s\n", res.Signal.Text())
			output.Printf("  Risk:       %.1f (%s)\n", res.Metrics.RiskScore, output.RiskLevel(res.Metrics.RiskLevel))
			return nil
		},
	}
}

func newRiskCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show the risk assessment of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			a, err := app.Controller.RiskAssessment(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(a)
			}

			m := a.Metrics
			output.Bold("Risk Assessment (%s)", a.SessionID)
			output.Printf("  Score:       %.1f / 100 %s\n", m.RiskScore, output.RiskLevel(m.RiskLevel))
			output.Printf("  Drawdown:    %.2f%%\n", m.DrawdownPercent)
			output.Printf("  Win Rate:    %.1f%% of %d filled\n", m.WinRatePercent, m.FilledTrades)
			output.Printf("  Frequency:   %.2f trades/day (%d total)\n", m.TradeFrequency, m.TotalTrades)
			output.Printf("  Total Value: %s\n", utils.FormatAmount(m.TotalValue, 2))
			if a.EmergencyStopRequired {
				output.Println()
				output.Error("⚠ Emergency stop required: %s", a.EmergencyStopReason)
			}
			if len(a.Recommendations) > 0 {
				output.Println()
				output.Bold("Recommendations")
				for _, r := range a.Recommendations {
					output.Printf("  • %s\n", r)
				}
			}
			return nil
		},
	}
}

func newBalancesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show exchange account balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Exchange.Timeout)
			defer cancel()

			balances, err := app.Exchange.Balances(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(balances)
			}

			output.Bold("Balances (%s)", app.Exchange.Name())
			table := NewTable(output, "ASSET", "FREE", "LOCKED", "TOTAL")
			for _, b := range balances {
				if b.Total() == 0 {
					continue
				}
				table.AddRow(b.Asset, utils.FormatQuantity(b.Free), utils.FormatQuantity(b.Locked), utils.FormatQuantity(b.Total()))
			}
			table.Render()

			baseAsset, quoteAsset := app.Config.Bot.BaseAsset, app.Config.Bot.QuoteAsset
			if botCfg, err := app.Store.ActiveBotConfig(cmd.Context()); err == nil {
				baseAsset, quoteAsset = botCfg.BaseAsset, botCfg.QuoteAsset
			}
			quote := exchange.FindBalance(balances, quoteAsset)
			base := exchange.FindBalance(balances, baseAsset)
			output.Println()
			output.Printf("  Available %s: %s\n", quoteAsset, utils.FormatAmount(quote.Free, 2))
			if price, err := app.currentPrice(cmd.Context(), 0); err == nil {
				output.Printf("  %s Price:     %s\n", baseAsset, utils.FormatPrice(price))
				output.Printf("  Total Value:   %s\n", utils.FormatQuote(quote.Total()+base.Total()*price, quoteAsset))
			}
			return nil
		},
	}
}
