package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/metrics"
	"bagging-bot/internal/models"
	"bagging-bot/pkg/utils"
)

// opsTimeout bounds calls to a running bot's ops server.
const opsTimeout = 2 * time.Second

// cycleClient connects within opsTimeout but waits for a forwarded cycle to finish.
var cycleClient = &http.Client{
	Timeout: metrics.CycleTimeout,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{Timeout: opsTimeout}).DialContext,
	},
}

// addBotCommands adds the controller commands.
func addBotCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCycleCmd(app))
	rootCmd.AddCommand(newExecuteCmd(app))
	rootCmd.AddCommand(newBotCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot on its trading interval until interrupted",
		Long: `Start the scheduled bot. A cycle runs immediately, then once per trading
interval of the active configuration. The ops server exposes /status, /healthz
and /metrics while the bot runs, and takes the cycle, execute and clear-stop
commands of other bagbot processes. Ctrl+C stops after the in-flight cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Controller.Start(ctx); err != nil {
				return err
			}
			if !output.IsJSON() {
				mode := "PAPER"
				if !app.Config.IsPaperMode() {
					mode = "LIVE"
				}
				output.Success("✓ Bot started (%s)", mode)
				if app.Config.Metrics.Enabled {
					output.Dim("Ops server: http://%s", app.Config.Metrics.Listen)
				}
				output.Dim("Press Ctrl+C to stop")
			}

			g, gctx := errgroup.WithContext(ctx)
			if app.Config.Metrics.Enabled {
				router := metrics.NewRouter(app.Metrics, app.Controller.Status,
					metrics.WithClearStop(app.Controller.ClearEmergencyStop),
					metrics.WithCycles(app.Controller.ForceCycle, app.Controller.Execute))
				server := metrics.NewServer(app.Config.Metrics.Listen, router, app.Logger)
				g.Go(func() error {
					return server.Run(gctx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Controller.ShutdownTimeout+time.Second)
				defer cancel()
				return app.Controller.Stop(shutdownCtx)
			})

			err := g.Wait()
			if !output.IsJSON() {
				output.Info("Bot stopped")
			}
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func newCycleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "cycle",
		Aliases: []string{"force"},
		Short:   "Run one strategy cycle now",
		Long: `Run one strategy cycle outside the schedule, subject to risk checks and
any emergency stop. A running bot runs the cycle itself; without one the
cycle runs in this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runCycle(cmd, app, "/cycle", app.Controller.ForceCycle)
			if err != nil {
				return err
			}
			return printCycle(NewOutput(cmd), result)
		},
	}
}

func newExecuteCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute one full trading cycle",
		Long: `Execute one full trading cycle. With --force the risk checks and any
emergency stop are bypassed for this cycle. A running bot runs the cycle
itself; without one the cycle runs in this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if force && !output.IsJSON() {
				output.Warning("⚠ Risk checks bypassed for this cycle")
			}
			result, err := runCycle(cmd, app, "/execute?force="+strconv.FormatBool(force),
				func(ctx context.Context) models.CycleResult { return app.Controller.Execute(ctx, force) })
			if err != nil {
				return err
			}
			return printCycle(output, result)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass risk gating and the emergency stop")
	return cmd
}

func newBotCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Inspect and control the bot",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show bot status",
		Long: `Show the status of a running bot through its ops server, or the local
view when no bot is reachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			source := "ops"
			status, err := fetchStatus(cmd.Context(), app.Config.Metrics.Listen)
			if err != nil {
				log := logging.FromContext(cmd.Context())
				log.Debug().Err(err).Msg("Ops server unreachable, using local status")
				source = "local"
				local := app.Controller.RefreshStatus(cmd.Context())
				status = &local
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"source": source, "status": status})
			}
			printStatus(output, status, source)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-stop",
		Short: "Clear an emergency stop on the running bot",
		Long: `Clear an emergency stop on the running bot. The session paused by the stop
stays paused; resume it with 'bagbot session resume'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cleared, err := clearStop(cmd.Context(), app.Config.Metrics.Listen)
			if err != nil {
				return fmt.Errorf("no running bot reachable at %s: %w", app.Config.Metrics.Listen, err)
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"cleared": cleared})
			}
			if cleared {
				output.Success("✓ Emergency stop cleared")
				output.Dim("Resume the paused session with 'bagbot session resume <id>'")
			} else {
				output.Info("No emergency stop in force")
			}
			return nil
		},
	})

	return cmd
}

// runCycle runs a cycle on the running bot so it shares that bot's cycle lock and
// emergency stop. It falls back to the local controller only when no bot listens.
func runCycle(cmd *cobra.Command, app *App, path string, local metrics.CycleFunc) (models.CycleResult, error) {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	if app.Config.Metrics.Enabled {
		addr := app.Config.Metrics.Listen
		result, err := forwardCycle(ctx, addr, path)
		if err == nil {
			log.Debug().Str("addr", addr).Str("path", path).Msg("Cycle ran on the running bot")
			return *result, nil
		}
		if !errors.Is(err, errors.ErrNotRunning) {
			return models.CycleResult{}, fmt.Errorf("running bot at %s: %w", addr, err)
		}
		log.Debug().Err(err).Msg("No running bot, running the cycle locally")
	}
	return local(ctx), nil
}

// forwardCycle posts to a cycle route of the ops server at addr. It returns
// errors.ErrNotRunning when nothing accepts the connection.
func forwardCycle(ctx context.Context, addr, path string) (*models.CycleResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cycleClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, errors.Wrap(errors.ErrNotRunning, opErr.Error())
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cycle endpoint returned %d", resp.StatusCode)
	}
	var result models.CycleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func fetchStatus(ctx context.Context, addr string) (*models.BotStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, opsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var status models.BotStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func clearStop(ctx context.Context, addr string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/emergency/clear", nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("clear endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Cleared bool `json:"cleared"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Cleared, nil
}

func printStatus(output *Output, st *models.BotStatus, source string) {
	output.Bold("Bot Status")
	output.Printf("  Running:          %s\n", output.Flag(st.IsRunning))
	output.Printf("  Worker Alive:     %s\n", output.Flag(st.ThreadAlive))
	output.Printf("  Active Config:    %s\n", output.Flag(st.ConfigActive))
	output.Printf("  Active Session:   %s\n", output.Flag(st.HasActiveSession))
	output.Printf("  Cycle In Flight:  %v\n", st.CycleInFlight)
	output.Printf("  Cycles Run:       %d\n", st.CycleCount)
	if st.LastCycleAt != nil {
		output.Printf("  Last Cycle:       %s (%s)\n", st.LastCycleAt.Local().Format("02-Jan 15:04:05"), st.LastOutcome)
	}
	if st.EmergencyStopped {
		output.Error("  EMERGENCY STOP:   %s", st.EmergencyStopReason)
	}
	output.Dim("source: %s", source)
}

// printCycle renders a cycle result. A failed cycle is returned as an error so the
// process exits non-zero.
func printCycle(output *Output, r models.CycleResult) error {
	if output.IsJSON() {
		if err := output.JSON(r); err != nil {
			return err
		}
		if r.Error != nil {
			return fmt.Errorf("%s: %s", r.Error.Kind, r.Error.Message)
		}
		return nil
	}

	output.Bold("Cycle %s", r.Timestamp.Local().Format("02-Jan 15:04:05"))
	if m := r.MarketData; m != nil {
		output.Printf("  Market:     %s %s  %s  %s\n", m.Symbol, utils.FormatPrice(m.CurrentPrice),
			output.FormatPercent(m.PriceChangePercent), output.Sentiment(m.Sentiment))
	}
	output.Printf("  Signal:     %s %s\n", output.Action(r.Signal.Action), r.Signal.Text())
	if r.Signal.IsTrade() {
		output.Printf("  Amount:     %s %s\n", utils.FormatAmount(r.Signal.Amount, 4), r.Signal.Unit)
	}
	if r.Risk != nil {
		if r.Risk.Approved {
			label := "approved"
			if r.Risk.Rule == models.RuleForceOverride {
				label = "bypassed (forced)"
			}
			output.Printf("  Risk:       %s\n", output.Green(label))
		} else {
			output.Printf("  Risk:       %s %s\n", output.Red(string(r.Risk.Rule)), r.Risk.Reason)
		}
	}
	if t := r.TradeExecuted; t != nil {
		output.Success("  Trade:      %s %s @ %s (%s)", t.Side, utils.FormatQuantity(t.ExecutedQuantity),
			utils.FormatPrice(t.ExecutedPrice), t.Status)
	}
	if s := r.Session; s != nil && r.MarketData != nil {
		price := r.MarketData.CurrentPrice
		output.Printf("  Session:    %s capital, %s tokens, %.1f%% stable\n",
			utils.FormatAmount(s.CurrentCapital, 2), utils.FormatQuantity(s.AccumulatedTokens), s.Allocation(price)*100)
	}
	if r.CycleComplete && r.Report != nil {
		output.Println()
		printReport(output, r.Report)
	}
	output.Dim("  Outcome: %s in %s", r.Outcome(), r.Duration.Round(time.Millisecond))

	if r.Error != nil {
		return fmt.Errorf("%s: %s", r.Error.Kind, r.Error.Message)
	}
	return nil
}
