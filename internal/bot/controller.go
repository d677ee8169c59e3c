// Package bot drives the bagging strategy: a controller owning the periodic worker
// and the cycle lock, and the executor that places orders.
package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/market"
	"bagging-bot/internal/metrics"
	"bagging-bot/internal/models"
	"bagging-bot/internal/notify"
	"bagging-bot/internal/risk"
	"bagging-bot/internal/session"
	"bagging-bot/internal/store"
	"bagging-bot/internal/strategy"
)

// Config holds controller timing settings.
type Config struct {
	// ForceWait bounds how long a forced cycle waits for the cycle lock.
	ForceWait time.Duration `mapstructure:"force_wait"`
	// ShutdownTimeout bounds how long Stop waits for the worker to exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// OrderTimeout bounds each order-side exchange call.
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ForceWait:       5 * time.Second,
		ShutdownTimeout: 60 * time.Second,
		OrderTimeout:    15 * time.Second,
	}
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Store     store.Store
	Sessions  *session.Manager
	Analyzer  *market.Analyzer
	Generator *strategy.Generator
	Risk      *risk.Manager
	Executor  *Executor
	Metrics   *metrics.Metrics
	Notifier  *notify.Notifier
}

// Controller runs strategy cycles on a schedule and on demand. Only one cycle is
// in flight at a time, whichever way it was triggered.
type Controller struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	cycleLock *semaphore.Weighted

	mu      sync.Mutex // serializes Start and Stop, guards run
	run     *workerRun
	running atomic.Bool
	alive   atomic.Pointer[workerRun] // the latest worker, until it exits

	inFlight   atomic.Bool
	cycleCount atomic.Int64

	haltMu     sync.Mutex
	halted     bool
	haltReason string

	statusMu sync.Mutex // serializes publishers of status
	status   atomic.Pointer[models.BotStatus]
}

// workerRun is one worker goroutine's lifetime.
type workerRun struct {
	stop chan struct{}
	done chan struct{}
}

func newWorkerRun() *workerRun {
	return &workerRun{stop: make(chan struct{}), done: make(chan struct{})}
}

// NewController creates a stopped controller.
func NewController(deps Deps, cfg Config, logger zerolog.Logger) *Controller {
	c := &Controller{
		deps:      deps,
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "controller"),
		now:       time.Now,
		cycleLock: semaphore.NewWeighted(1),
	}
	c.status.Store(&models.BotStatus{})
	return c
}

// Start begins periodic execution at the active configuration's interval and returns
// immediately. The first cycle runs right away.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return errors.ErrAlreadyRunning
	}
	if halted, reason := c.Halted(); halted {
		return errors.Wrapf(errors.ErrEmergencyStop, "clear the stop first: %s", reason)
	}

	bot, err := c.activeConfig(ctx)
	if err != nil {
		return err
	}
	sess, err := c.activeSession(ctx)
	if err != nil {
		return err
	}

	w := newWorkerRun()
	c.run = w
	c.alive.Store(w)
	c.running.Store(true)
	go c.worker(w, bot.Interval())

	c.deps.Metrics.SetRunning(true)
	c.publish(func(s *models.BotStatus) {
		s.ConfigActive = true
		s.HasActiveSession = true
	})

	log := logging.WithSession(c.logger, sess.ID)
	log.Info().
		Str("config", bot.Name).
		Str("symbol", bot.Symbol).
		Dur("interval", bot.Interval()).
		Msg("Bot started")
	return nil
}

// Stop ends periodic execution after the in-flight cycle, if any, and waits for the
// worker to acknowledge. Stopping a stopped controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return nil
	}
	c.running.Store(false)
	close(c.run.stop)
	done := c.run.done
	c.mu.Unlock()

	c.deps.Metrics.SetRunning(false)

	wait := c.cfg.ShutdownTimeout
	if wait <= 0 {
		wait = DefaultConfig().ShutdownTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
		c.logger.Info().Msg("Bot stopped")
		return nil
	case <-timer.C:
		return errors.Wrap(errors.ErrTimeout, "worker did not stop")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the worker has exited. It returns immediately when stopped.
func (c *Controller) Wait() {
	c.mu.Lock()
	w := c.run
	c.mu.Unlock()
	if w != nil {
		<-w.done
	}
}

// Status returns the last published snapshot with live worker flags. It takes no
// locks held across I/O, so it never blocks on a cycle or on Start.
func (c *Controller) Status() models.BotStatus {
	st := *c.status.Load()
	st.IsRunning = c.running.Load()
	st.ThreadAlive = c.alive.Load() != nil
	st.CycleInFlight = c.inFlight.Load()
	st.CycleCount = c.cycleCount.Load()
	st.EmergencyStopped, st.EmergencyStopReason = c.Halted()
	return st
}

// RefreshStatus re-reads whether a configuration and a session are active.
func (c *Controller) RefreshStatus(ctx context.Context) models.BotStatus {
	_, cfgErr := c.deps.Store.ActiveBotConfig(ctx)
	_, sessErr := c.deps.Store.ActiveSession(ctx)
	c.publish(func(s *models.BotStatus) {
		s.ConfigActive = cfgErr == nil
		s.HasActiveSession = sessErr == nil
	})
	return c.Status()
}

func (c *Controller) publish(update func(*models.BotStatus)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	next := *c.status.Load()
	update(&next)
	c.status.Store(&next)
}

// Halted reports whether an emergency stop is in force.
func (c *Controller) Halted() (bool, string) {
	c.haltMu.Lock()
	defer c.haltMu.Unlock()
	return c.halted, c.haltReason
}

// ClearEmergencyStop lifts an emergency stop. The paused session stays paused until
// it is resumed explicitly. It reports whether a stop was in force.
func (c *Controller) ClearEmergencyStop() bool {
	c.haltMu.Lock()
	was, reason := c.halted, c.haltReason
	c.halted, c.haltReason = false, ""
	c.haltMu.Unlock()

	if was {
		c.logger.Warn().Str("previous_reason", reason).Msg("Emergency stop cleared")
	}
	return was
}

func (c *Controller) halt(reason string) {
	c.haltMu.Lock()
	c.halted, c.haltReason = true, reason
	c.haltMu.Unlock()
}

// worker runs a cycle, then sleeps for the latest configured interval, until stopped.
// A tick that finds the lock held by a forced cycle is skipped.
func (c *Controller) worker(w *workerRun, interval time.Duration) {
	defer close(w.done)
	// A worker that outlived a timed-out Stop must not clear its successor.
	defer c.alive.CompareAndSwap(w, nil)

	c.logger.Debug().Msg("Worker started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
		case <-timer.C:
		}
		// A stop that races a due tick wins.
		if stopped(w.stop) {
			c.logger.Debug().Msg("Worker exiting")
			return
		}

		// Cycles run on their own context so Stop never interrupts one.
		if c.cycleLock.TryAcquire(1) {
			c.runLocked(context.Background(), false, false)
			if next := c.nextInterval(); next > 0 {
				interval = next
			}
		} else {
			c.logger.Debug().Msg("Cycle in progress, skipping tick")
		}
		timer.Reset(interval)
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (c *Controller) nextInterval() time.Duration {
	bot, err := c.deps.Store.ActiveBotConfig(context.Background())
	if err != nil {
		return 0
	}
	return bot.Interval()
}

// ForceCycle runs one cycle now, outside the schedule. It waits up to ForceWait for
// a cycle already in flight and otherwise reports CYCLE_IN_PROGRESS. An emergency
// stop blocks forced cycles too.
func (c *Controller) ForceCycle(ctx context.Context) models.CycleResult {
	return c.lockedCycle(ctx, true, false)
}

// Execute runs one full cycle. With force it bypasses risk gating and the emergency
// stop; without it, it behaves like ForceCycle.
func (c *Controller) Execute(ctx context.Context, force bool) models.CycleResult {
	return c.lockedCycle(ctx, true, force)
}

func (c *Controller) lockedCycle(ctx context.Context, forced, bypass bool) models.CycleResult {
	wait := c.cfg.ForceWait
	if wait <= 0 {
		wait = DefaultConfig().ForceWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := c.cycleLock.Acquire(waitCtx, 1); err != nil {
		result := models.CycleResult{
			Timestamp: c.now().UTC(),
			Forced:    forced,
			Signal:    models.Hold(models.ReasonExecutionFailed, errors.ErrCycleInProgress.Error()),
			Error:     &models.CycleError{Kind: models.ErrorInProgress, Message: errors.ErrCycleInProgress.Error()},
		}
		c.deps.Metrics.ObserveCycle(result.Outcome(), forced, 0)
		return result
	}
	return c.runLocked(ctx, forced, bypass)
}

// runLocked runs a cycle while holding the cycle lock and releases it afterwards.
func (c *Controller) runLocked(ctx context.Context, forced, bypass bool) models.CycleResult {
	defer c.cycleLock.Release(1)
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)
	return c.runCycle(ctx, forced, bypass)
}

// runCycle executes one evaluate-and-maybe-trade pass. Every outcome, including
// panics, is returned as a CycleResult.
func (c *Controller) runCycle(ctx context.Context, forced, bypass bool) (result models.CycleResult) {
	start := c.now()
	result = models.CycleResult{
		Timestamp: start.UTC(),
		Forced:    forced,
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Cycle panicked")
			result.Error = &models.CycleError{Kind: models.ErrorInternal, Message: fmt.Sprintf("panic: %v", r)}
		}
		result.Duration = c.now().Sub(start)
		c.finish(&result)
	}()

	// Step 1: emergency stop
	if halted, reason := c.Halted(); halted && !bypass {
		result.Signal = models.Hold(models.ReasonEmergencyStop, reason)
		result.Error = &models.CycleError{Kind: models.ErrorEmergencyStop, Message: reason}
		return result
	}

	// Step 2: configuration and session, re-read every cycle
	bot, err := c.activeConfig(ctx)
	if err != nil {
		return failed(result, models.ErrorValidation, err)
	}
	sess, err := c.activeSession(ctx)
	if err != nil {
		result.Signal = models.Hold(models.ReasonSessionNotActive, "")
		return failed(result, models.ErrorValidation, err)
	}
	log := logging.WithSession(c.logger, sess.ID)

	// Step 3: market data
	snap, err := c.deps.Analyzer.Analyze(ctx, bot.Symbol)
	if err != nil {
		return failed(result, models.ErrorExecution, err)
	}
	result.MarketData = snap
	price := snap.CurrentPrice

	// Step 4: signal
	sig := c.deps.Generator.Generate(sess, snap, bot)
	result.Signal = sig
	logging.LogSignal(log, string(sig.Action), sig.Text(), sig.Amount, sig.Allocation)

	// Step 5: risk gate and execution
	if sig.IsTrade() {
		decision, err := c.gate(ctx, sig, sess, price, bot, bypass)
		if err != nil {
			return failed(result, models.ErrorInternal, err)
		}
		result.Risk = &decision

		if decision.Approved {
			c.execute(ctx, &result, sess, snap, bot)
		} else {
			c.deps.Metrics.ObserveRejection(string(decision.Rule))
		}
	}

	// Step 6: completion, after the fill is committed
	trigger, complete, err := c.deps.Sessions.CheckCompletion(ctx, sess, price)
	if err != nil {
		log.Error().Err(err).Msg("Completion check failed")
	} else if complete {
		report, err := c.deps.Sessions.Complete(ctx, sess, price, trigger)
		if err != nil {
			log.Error().Err(err).Msg("Failed to complete session")
		} else {
			result.CycleComplete = true
			result.Report = report
			c.deps.Notifier.CycleReport(ctx, report)
		}
	}

	// Step 7: emergency stop check
	if !result.CycleComplete {
		c.checkEmergency(ctx, &result, sess, price, bot)
	}

	snapshot := *sess
	result.Session = &snapshot
	c.deps.Metrics.SetSessionValue(sess.TotalValue(price))
	return result
}

func failed(result models.CycleResult, kind models.ErrorKind, err error) models.CycleResult {
	result.Error = &models.CycleError{Kind: kind, Message: err.Error()}
	return result
}

// gate applies the risk rules, or approves with a FORCE_OVERRIDE decision when bypassing.
func (c *Controller) gate(ctx context.Context, sig models.Signal, sess *models.Session, price float64, bot *models.BotConfig, bypass bool) (models.RiskDecision, error) {
	if bypass {
		return models.RiskDecision{
			Approved: true,
			Rule:     models.RuleForceOverride,
			Reason:   "risk gating bypassed by forced execution",
		}, nil
	}
	daily, err := c.deps.Store.CountExecutedTrades(ctx, sess.ID, risk.StartOfDay(c.now()))
	if err != nil {
		return models.RiskDecision{}, errors.Wrap(err, "failed to count daily trades")
	}
	return c.deps.Risk.Validate(sig, sess, price, bot, daily), nil
}

// execute places the order and applies the outcome to the session. Orders that did
// not execute are recorded without touching balances.
func (c *Controller) execute(ctx context.Context, result *models.CycleResult, sess *models.Session, snap *models.MarketSnapshot, bot *models.BotConfig) {
	trade, execErr := c.deps.Executor.Execute(ctx, result.Signal, snap, bot)
	if trade == nil {
		if execErr != nil {
			result.Error = &models.CycleError{Kind: models.ErrorExecution, Message: execErr.Error()}
		}
		return
	}

	var err error
	if trade.Status.Executed() {
		err = c.deps.Sessions.ApplyFill(ctx, sess, trade, bot)
	} else {
		err = c.deps.Sessions.RecordTrade(ctx, sess, trade)
	}
	c.deps.Metrics.ObserveTrade(string(trade.Side), string(trade.Status))

	switch {
	case err != nil && trade.Status.Executed():
		// The exchange filled but the books did not move; surface it loudly.
		log := logging.WithOrderID(c.logger, trade.OrderID)
		log.Error().Err(err).Msg("Failed to apply fill")
		result.Error = &models.CycleError{Kind: models.ErrorInternal, Message: err.Error()}
	case err != nil:
		c.logger.Error().Err(err).Msg("Failed to record trade")
	}

	if execErr != nil {
		result.Error = &models.CycleError{Kind: models.ErrorExecution, Message: execErr.Error()}
		return
	}
	if err == nil && trade.Status.Executed() {
		result.TradeExecuted = trade
		c.deps.Notifier.Trade(ctx, trade)
	}
}

// checkEmergency assesses risk after the cycle and halts on a breach: the session is
// paused and further cycles are refused until the stop is cleared.
func (c *Controller) checkEmergency(ctx context.Context, result *models.CycleResult, sess *models.Session, price float64, bot *models.BotConfig) {
	trades, err := c.deps.Sessions.Trades(ctx, sess.ID)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to load trades for risk assessment")
		return
	}
	rm := c.deps.Risk.Metrics(sess, trades, price, bot)
	c.deps.Metrics.SetRiskScore(rm.RiskScore)

	stop, reason := c.deps.Risk.EmergencyStop(rm, sess, bot)
	if !stop {
		return
	}

	c.halt(reason)
	c.deps.Metrics.ObserveEmergencyStop()
	log := logging.WithSession(c.logger, sess.ID)
	log.Error().Str("reason", reason).Float64("risk_score", rm.RiskScore).Msg("Emergency stop triggered")
	c.deps.Notifier.EmergencyStop(ctx, sess.ID, reason, rm.RiskScore)

	if paused, err := c.deps.Sessions.Pause(ctx, sess.ID); err != nil {
		log.Error().Err(err).Msg("Failed to pause session")
	} else {
		*sess = *paused
	}
	if result.Error == nil {
		result.Error = &models.CycleError{Kind: models.ErrorEmergencyStop, Message: reason}
	}
}

// finish logs and records a finished cycle and publishes it in the status snapshot.
func (c *Controller) finish(result *models.CycleResult) {
	outcome := result.Outcome()
	logging.LogCycle(c.logger, outcome, result.Forced, result.CycleComplete, result.Duration)
	if result.Error != nil {
		c.logger.Warn().Str("kind", string(result.Error.Kind)).Msg(result.Error.Message)
		if k := result.Error.Kind; k == models.ErrorExecution || k == models.ErrorInternal {
			c.deps.Notifier.Error(context.Background(), string(k), result.Error.Message)
		}
	}
	c.deps.Metrics.ObserveCycle(outcome, result.Forced, result.Duration)

	at := result.Timestamp
	halted := result.Error != nil && result.Error.Kind == models.ErrorEmergencyStop && result.MarketData == nil
	noConfig := result.Error != nil && result.Error.Kind == models.ErrorValidation &&
		result.Signal.Reason != models.ReasonSessionNotActive
	active := result.Session != nil && result.Session.Status == models.SessionActive
	c.publish(func(s *models.BotStatus) {
		s.LastCycleAt = &at
		s.LastOutcome = outcome
		if halted {
			return
		}
		s.ConfigActive = !noConfig
		s.HasActiveSession = active
	})
	c.cycleCount.Add(1)
}

// Analyze runs the analyzer and the signal generator without executing anything.
func (c *Controller) Analyze(ctx context.Context) (*models.AnalysisResult, error) {
	bot, err := c.activeConfig(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := c.deps.Analyzer.Analyze(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	trades, err := c.deps.Sessions.Trades(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	return &models.AnalysisResult{
		Timestamp:  c.now().UTC(),
		MarketData: snap,
		Signal:     c.deps.Generator.Generate(sess, snap, bot),
		Session:    sess,
		Metrics:    c.deps.Risk.Metrics(sess, trades, snap.CurrentPrice, bot),
	}, nil
}

// RiskAssessment reports the current risk metrics for the active session, or for
// the most recent paused session when an emergency stop paused it.
func (c *Controller) RiskAssessment(ctx context.Context) (*models.RiskAssessment, error) {
	bot, err := c.activeConfig(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := c.deps.Sessions.Active(ctx)
	if errors.Is(err, errors.ErrNoActiveSession) {
		paused, listErr := c.deps.Sessions.List(ctx, store.SessionFilter{Status: models.SessionPaused, Limit: 1})
		if listErr != nil {
			return nil, listErr
		}
		if len(paused) == 0 {
			return nil, errors.WrapValidation(errors.ErrNoActiveSession, "session", "")
		}
		sess, err = &paused[0], nil
	}
	if err != nil {
		return nil, err
	}

	snap, err := c.deps.Analyzer.Analyze(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	trades, err := c.deps.Sessions.Trades(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	assessment := c.deps.Risk.Assess(sess, trades, snap.CurrentPrice, bot)
	c.deps.Metrics.SetRiskScore(assessment.Metrics.RiskScore)
	return &assessment, nil
}

func (c *Controller) activeConfig(ctx context.Context) (*models.BotConfig, error) {
	bot, err := c.deps.Store.ActiveBotConfig(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.WrapValidation(errors.ErrNoActiveConfig, "bot_config", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load bot config")
	}
	return bot, nil
}

func (c *Controller) activeSession(ctx context.Context) (*models.Session, error) {
	sess, err := c.deps.Sessions.Active(ctx)
	if errors.Is(err, errors.ErrNoActiveSession) {
		return nil, errors.WrapValidation(errors.ErrNoActiveSession, "session", "")
	}
	return sess, err
}
