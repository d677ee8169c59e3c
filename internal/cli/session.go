package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bagging-bot/internal/models"
	"bagging-bot/internal/store"
	"bagging-bot/pkg/utils"
)

// addSessionCommands adds the session management commands.
func addSessionCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Manage bagging sessions",
	}

	cmd.AddCommand(newSessionCreateCmd(app))
	cmd.AddCommand(newSessionListCmd(app))
	cmd.AddCommand(newSessionShowCmd(app))
	cmd.AddCommand(newSessionTransitionCmd(app, "pause"))
	cmd.AddCommand(newSessionTransitionCmd(app, "resume"))
	cmd.AddCommand(newSessionCompleteCmd(app))
	cmd.AddCommand(newSessionReportCmd(app))
	cmd.AddCommand(newSessionTradesCmd(app))

	rootCmd.AddCommand(cmd)
}

func newSessionCreateCmd(app *App) *cobra.Command {
	var (
		capital float64
		days    int
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Start a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			sess, err := app.Sessions.Create(cmd.Context(), args[0], capital, days)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(sess)
			}
			output.Success("✓ Session %s created", sess.ID)
			output.Printf("  Capital: %s\n", utils.FormatAmount(sess.InitialCapital, 2))
			output.Printf("  Cycle:   %d days\n", sess.CycleDurationDays)
			return nil
		},
	}

	cmd.Flags().Float64Var(&capital, "capital", 0, "initial capital in the quote asset (required)")
	cmd.Flags().IntVar(&days, "days", 0, "cycle duration in days (default from config)")
	cmd.MarkFlagRequired("capital")
	return cmd
}

func newSessionListCmd(app *App) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			filter := store.SessionFilter{Status: models.SessionStatus(strings.ToUpper(status)), Limit: limit}
			sessions, err := app.Sessions.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(sessions)
			}
			if len(sessions) == 0 {
				output.Warning("No sessions found")
				return nil
			}
			table := NewTable(output, "ID", "NAME", "STATUS", "INITIAL", "CAPITAL", "TOKENS", "STARTED")
			for _, s := range sessions {
				table.AddRow(s.ID, s.Name, sessionStatus(output, s.Status),
					utils.FormatAmount(s.InitialCapital, 2),
					utils.FormatAmount(s.CurrentCapital, 2),
					utils.FormatQuantity(s.AccumulatedTokens),
					s.StartDate.Local().Format("02-Jan-2006"))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: active, paused, completed")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newSessionShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a session (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			var (
				sess *models.Session
				err  error
			)
			if len(args) == 1 {
				sess, err = app.Sessions.Get(ctx, args[0])
			} else {
				sess, err = app.Sessions.Active(ctx)
			}
			if err != nil {
				return err
			}

			price, priceErr := app.currentPrice(ctx, 0)
			if output.IsJSON() {
				view := map[string]interface{}{"session": sess}
				if priceErr == nil {
					view["price"] = price
					view["total_value"] = sess.TotalValue(price)
					view["allocation"] = sess.Allocation(price)
				}
				return output.JSON(view)
			}

			output.Bold("Session %s (%s)", sess.Name, sess.ID)
			output.Printf("  Status:          %s\n", sessionStatus(output, sess.Status))
			output.Printf("  Initial Capital: %s\n", utils.FormatAmount(sess.InitialCapital, 2))
			output.Printf("  Stable Capital:  %s\n", utils.FormatAmount(sess.CurrentCapital, 2))
			output.Printf("  Tokens:          %s\n", utils.FormatQuantity(sess.AccumulatedTokens))
			output.Printf("  Started:         %s (%d of %d days)\n", sess.StartDate.Local().Format("02-Jan-2006 15:04"),
				sess.ElapsedDays(timeNow()), sess.CycleDurationDays)
			if priceErr == nil {
				total := sess.TotalValue(price)
				output.Printf("  Price:           %s\n", utils.FormatPrice(price))
				output.Printf("  Total Value:     %s (%s)\n", utils.FormatAmount(total, 2), output.FormatPnL(total-sess.InitialCapital, ""))
				output.Printf("  Stable Share:    %.1f%%\n", sess.Allocation(price)*100)
			} else {
				output.Dim("  Price unavailable: %v", priceErr)
			}
			return nil
		},
	}
}

func newSessionTransitionCmd(app *App, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			transition := app.Sessions.Pause
			if action == "resume" {
				transition = app.Sessions.Resume
			}
			sess, err := transition(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(sess)
			}
			output.Success("✓ Session %s is now %s", sess.ID, sess.Status)
			return nil
		},
	}
}

func newSessionCompleteCmd(app *App) *cobra.Command {
	var price float64

	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a session and write its cycle report",
		Long: `Complete a session manually. Tokens are valued at the current market price
of the active configuration's symbol, or at --price when given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			p, err := app.currentPrice(ctx, price)
			if err != nil {
				return fmt.Errorf("pricing tokens: %w (pass --price)", err)
			}
			report, err := app.Sessions.CompleteByID(ctx, args[0], p)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			printReport(output, report)
			return nil
		},
	}

	cmd.Flags().Float64Var(&price, "price", 0, "token price used for valuation")
	return cmd
}

func newSessionReportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Show the cycle report of a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			report, err := app.Sessions.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			printReport(output, report)
			return nil
		},
	}
}

func newSessionTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades <id>",
		Short: "List the trades of a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			trades, err := app.Sessions.Trades(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Warning("No trades recorded")
				return nil
			}
			table := NewTable(output, "TIME", "SIDE", "QTY", "PRICE", "NOTIONAL", "STATUS", "REASON")
			for _, t := range trades {
				side := output.Green(string(t.Side))
				if t.Side == models.OrderSideSell {
					side = output.Red(string(t.Side))
				}
				table.AddRow(t.Timestamp.Local().Format("02-Jan 15:04"), side,
					utils.FormatQuantity(t.ExecutedQuantity), utils.FormatPrice(t.ExecutedPrice),
					utils.FormatAmount(t.Notional(), 2), string(t.Status), t.Reason)
			}
			table.Render()
			return nil
		},
	}
}

// currentPrice returns override when positive, otherwise the last price of the
// active configuration's symbol.
func (app *App) currentPrice(ctx context.Context, override float64) (float64, error) {
	if override > 0 {
		return override, nil
	}
	botCfg, err := app.Store.ActiveBotConfig(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, app.Config.Exchange.Timeout)
	defer cancel()
	ticker, err := app.Exchange.Ticker24h(ctx, botCfg.Symbol)
	if err != nil {
		return 0, err
	}
	return ticker.LastPrice, nil
}

func sessionStatus(output *Output, s models.SessionStatus) string {
	switch s {
	case models.SessionActive:
		return output.Green(string(s))
	case models.SessionPaused:
		return output.Yellow(string(s))
	default:
		return output.Cyan(string(s))
	}
}

func printReport(output *Output, r *models.CycleReport) {
	output.Bold("Cycle Report: %s", r.SessionName)
	output.Printf("  Trigger:           %s\n", r.Trigger)
	output.Printf("  Duration:          %d days, %d trades\n", r.DurationDays, r.TotalTrades)
	output.Printf("  Initial Capital:   %s\n", utils.FormatAmount(r.InitialCapital, 2))
	output.Printf("  Final Capital:     %s\n", utils.FormatAmount(r.FinalCapital, 2))
	output.Printf("  Tokens:            %s @ %s = %s\n", utils.FormatQuantity(r.FinalTokens),
		utils.FormatPrice(r.Price), utils.FormatAmount(r.TokenValue, 2))
	output.Printf("  Total Value:       %s\n", utils.FormatAmount(r.TotalValue, 2))
	output.Printf("  Profit/Loss:       %s (%s)\n", output.FormatPnL(r.ProfitLoss, ""), output.FormatPercent(r.ProfitLossPercent))
	output.Printf("  Capital Preserved: %s\n", output.Flag(r.CapitalPreserved))
}
