// Package session owns the trading-session lifecycle and its capital and token bookkeeping.
//
// A session moves ACTIVE -> PAUSED -> ACTIVE any number of times and ACTIVE -> COMPLETED
// once. Balances change only through ApplyFill while the session is ACTIVE.
package session

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
	"bagging-bot/internal/store"
)

// Completion triggers recorded on the cycle report.
const (
	TriggerDuration     = "duration_elapsed"
	TriggerPreservation = "capital_preserved"
	TriggerManual       = "manual"
)

// balanceEpsilon absorbs float error when a fill spends the entire balance.
const balanceEpsilon = 1e-9

// Config holds session defaults and the completion goal.
type Config struct {
	DefaultCycleDays  int     `mapstructure:"default_cycle_days"`
	PreservationRatio float64 `mapstructure:"preservation_ratio"`
	// RequireRecoverySell holds the preservation goal back until a sell has
	// executed. A fresh session is worth its initial capital and would otherwise
	// complete on its first cycle.
	RequireRecoverySell bool `mapstructure:"require_recovery_sell"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCycleDays:    30,
		PreservationRatio:   0.95,
		RequireRecoverySell: true,
	}
}

// Manager manages sessions through the storage collaborator.
type Manager struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a new session Manager.
func NewManager(st store.Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.DefaultCycleDays <= 0 {
		cfg.DefaultCycleDays = DefaultConfig().DefaultCycleDays
	}
	return &Manager{
		store:  st,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "session"),
		now:    time.Now,
	}
}

// Create starts a new ACTIVE session. It fails with ErrSessionExists while another
// session is ACTIVE.
func (m *Manager) Create(ctx context.Context, name string, capital float64, cycleDays int) (*models.Session, error) {
	if capital <= 0 || math.IsNaN(capital) || math.IsInf(capital, 0) {
		return nil, errors.NewValidationError("initial_capital", capital, "must be greater than zero")
	}
	if cycleDays < 0 {
		return nil, errors.NewValidationError("cycle_duration_days", cycleDays, "must not be negative")
	}
	if cycleDays == 0 {
		cycleDays = m.cfg.DefaultCycleDays
	}

	now := m.now().UTC()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Bagging " + now.Format("2006-01-02 15:04")
	}

	sess := &models.Session{
		ID:                uuid.NewString(),
		Name:              name,
		InitialCapital:    capital,
		CurrentCapital:    capital,
		Status:            models.SessionActive,
		StartDate:         now,
		CycleDurationDays: cycleDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	log := logging.WithSession(m.logger, sess.ID)
	log.Info().
		Str("name", sess.Name).
		Float64("initial_capital", capital).
		Int("cycle_days", cycleDays).
		Msg("Session created")
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.store.GetSession(ctx, id)
}

// Active returns the ACTIVE session or ErrNoActiveSession.
func (m *Manager) Active(ctx context.Context) (*models.Session, error) {
	sess, err := m.store.ActiveSession(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.ErrNoActiveSession
	}
	return sess, err
}

// List lists sessions, newest first.
func (m *Manager) List(ctx context.Context, filter store.SessionFilter) ([]models.Session, error) {
	return m.store.ListSessions(ctx, filter)
}

// Trades lists a session's trades, oldest first.
func (m *Manager) Trades(ctx context.Context, sessionID string) ([]models.Trade, error) {
	return m.store.ListTrades(ctx, store.TradeFilter{SessionID: sessionID})
}

// Pause moves an ACTIVE session to PAUSED.
func (m *Manager) Pause(ctx context.Context, id string) (*models.Session, error) {
	return m.transition(ctx, id, models.SessionActive, models.SessionPaused)
}

// Resume moves a PAUSED session back to ACTIVE. It fails with ErrSessionExists
// while another session is ACTIVE.
func (m *Manager) Resume(ctx context.Context, id string) (*models.Session, error) {
	return m.transition(ctx, id, models.SessionPaused, models.SessionActive)
}

func (m *Manager) transition(ctx context.Context, id string, from, to models.SessionStatus) (*models.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != from {
		return nil, errors.Wrapf(errors.ErrInvalidTransition, "session %s is %s, cannot move to %s", id, sess.Status, to)
	}

	sess.Status = to
	sess.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, errors.Wrapf(err, "failed to move session %s to %s", id, to)
	}

	log := logging.WithSession(m.logger, id)
	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session status changed")
	return sess, nil
}

// ApplyFill applies an executed trade to the session balances and persists both
// atomically. Trades that did not execute are recorded without touching balances.
// On success sess holds the new balances.
func (m *Manager) ApplyFill(ctx context.Context, sess *models.Session, trade *models.Trade, bot *models.BotConfig) error {
	if err := store.RequireActive(sess); err != nil {
		return err
	}

	next := *sess
	if trade.Status.Executed() {
		if err := applyBalances(&next, trade, bot); err != nil {
			return err
		}
	}
	next.UpdatedAt = m.now().UTC()

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.SessionID = sess.ID

	if err := m.store.ApplyTrade(ctx, &next, trade); err != nil {
		return errors.Wrap(err, "failed to apply trade")
	}
	*sess = next

	log := logging.WithSession(m.logger, sess.ID)
	log.Debug().
		Str("trade_id", trade.ID).
		Str("status", string(trade.Status)).
		Float64("capital", sess.CurrentCapital).
		Float64("tokens", sess.AccumulatedTokens).
		Msg("Trade applied")
	return nil
}

// RecordTrade appends a trade without changing balances, for orders that did not execute.
func (m *Manager) RecordTrade(ctx context.Context, sess *models.Session, trade *models.Trade) error {
	if trade.Status.Executed() {
		return errors.NewValidationError("status", trade.Status, "executed trades must go through ApplyFill")
	}
	return m.ApplyFill(ctx, sess, trade, nil)
}

// applyBalances moves capital and tokens for an executed trade. Commission is charged
// in whichever of the pair's assets it was paid in; other assets do not affect balances.
func applyBalances(sess *models.Session, trade *models.Trade, bot *models.BotConfig) error {
	notional := trade.ExecutedQuantity * trade.ExecutedPrice
	capital, tokens := sess.CurrentCapital, sess.AccumulatedTokens

	switch trade.Side {
	case models.OrderSideBuy:
		capital -= notional
		tokens += trade.ExecutedQuantity
	case models.OrderSideSell:
		capital += notional
		tokens -= trade.ExecutedQuantity
	default:
		return errors.NewValidationError("side", trade.Side, "unknown order side")
	}

	if trade.Commission > 0 {
		switch {
		case bot != nil && strings.EqualFold(trade.CommissionAsset, bot.BaseAsset):
			tokens -= trade.Commission
		case trade.CommissionAsset == "" || bot == nil || strings.EqualFold(trade.CommissionAsset, bot.QuoteAsset):
			capital -= trade.Commission
		}
	}

	if capital < -balanceEpsilon {
		return errors.Wrapf(errors.ErrInsufficientFunds, "fill would leave capital at %.8f", capital)
	}
	if tokens < -balanceEpsilon {
		return errors.Wrapf(errors.ErrInsufficientFunds, "fill would leave tokens at %.8f", tokens)
	}

	sess.CurrentCapital = math.Max(0, capital)
	sess.AccumulatedTokens = math.Max(0, tokens)
	return nil
}

// TotalValue returns the session's stable capital plus token value at price.
func (m *Manager) TotalValue(sess *models.Session, price float64) float64 {
	return sess.TotalValue(price)
}

// CheckCompletion reports whether the session should complete at price and why.
// The preservation goal only counts once a sell has recovered capital, so a fresh
// session does not complete on its first cycle.
func (m *Manager) CheckCompletion(ctx context.Context, sess *models.Session, price float64) (string, bool, error) {
	if sess.Status != models.SessionActive {
		return "", false, nil
	}

	if sess.CycleDurationDays > 0 && sess.ElapsedDays(m.now()) >= sess.CycleDurationDays {
		return TriggerDuration, true, nil
	}

	if sess.TotalValue(price) < m.cfg.PreservationRatio*sess.InitialCapital {
		return "", false, nil
	}
	if !m.cfg.RequireRecoverySell {
		return TriggerPreservation, true, nil
	}

	sells, err := m.store.ListTrades(ctx, store.TradeFilter{SessionID: sess.ID, Side: models.OrderSideSell})
	if err != nil {
		return "", false, errors.Wrap(err, "failed to list sells")
	}
	for _, t := range sells {
		if t.Status.Executed() {
			return TriggerPreservation, true, nil
		}
	}
	return "", false, nil
}

// Complete moves an ACTIVE session to COMPLETED and freezes its cycle report at price.
func (m *Manager) Complete(ctx context.Context, sess *models.Session, price float64, trigger string) (*models.CycleReport, error) {
	if err := store.RequireActive(sess); err != nil {
		return nil, err
	}

	trades, err := m.store.ListTrades(ctx, store.TradeFilter{SessionID: sess.ID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trades")
	}

	now := m.now().UTC()
	next := *sess
	next.Status = models.SessionCompleted
	next.EndDate = &now
	next.UpdatedAt = now

	report := BuildReport(&next, price, len(trades), trigger, now)
	if err := m.store.CompleteSession(ctx, &next, report); err != nil {
		return nil, errors.Wrap(err, "failed to complete session")
	}
	*sess = next

	log := logging.WithSession(m.logger, sess.ID)
	log.Info().
		Str("trigger", trigger).
		Float64("total_value", report.TotalValue).
		Float64("profit_loss", report.ProfitLoss).
		Bool("capital_preserved", report.CapitalPreserved).
		Msg("Session completed")
	return report, nil
}

// CompleteByID loads a session and completes it manually at price.
func (m *Manager) CompleteByID(ctx context.Context, id string, price float64) (*models.CycleReport, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Complete(ctx, sess, price, TriggerManual)
}

// Report returns the frozen report of a completed session.
func (m *Manager) Report(ctx context.Context, id string) (*models.CycleReport, error) {
	return m.store.GetReport(ctx, id)
}

// BuildReport computes the cycle report for a session at price.
func BuildReport(sess *models.Session, price float64, totalTrades int, trigger string, at time.Time) *models.CycleReport {
	tokenValue := sess.TokenValue(price)
	total := sess.CurrentCapital + tokenValue
	pl := total - sess.InitialCapital

	var plPct float64
	if sess.InitialCapital > 0 {
		plPct = pl / sess.InitialCapital * 100
	}

	return &models.CycleReport{
		SessionID:         sess.ID,
		SessionName:       sess.Name,
		InitialCapital:    sess.InitialCapital,
		FinalCapital:      sess.CurrentCapital,
		FinalTokens:       sess.AccumulatedTokens,
		Price:             price,
		TokenValue:        tokenValue,
		TotalValue:        total,
		CapitalPreserved:  total >= sess.InitialCapital,
		ProfitLoss:        pl,
		ProfitLossPercent: plPct,
		DurationDays:      sess.ElapsedDays(at),
		TotalTrades:       totalTrades,
		Trigger:           trigger,
		CompletedAt:       at,
	}
}
