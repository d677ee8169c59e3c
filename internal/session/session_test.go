package session

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "bagging-bot/internal/errors"
	"bagging-bot/internal/models"
	"bagging-bot/internal/store"
)

var testBot = &models.BotConfig{Symbol: "BSTUSDT", BaseAsset: "BST", QuoteAsset: "USDT"}

func newTestManager(now *time.Time) (*Manager, *store.MemoryStore) {
	st := store.NewMemoryStore()
	m := NewManager(st, DefaultConfig(), zerolog.Nop())
	m.now = func() time.Time { return *now }
	return m, st
}

func filled(side models.OrderSide, qty, price float64, at time.Time) *models.Trade {
	return &models.Trade{
		OrderID:          "o-" + string(side),
		Symbol:           "BSTUSDT",
		Side:             side,
		Quantity:         qty,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		Status:           models.TradeFilled,
		Timestamp:        at,
	}
}

func TestCreate(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(&now)
	ctx := context.Background()

	if _, err := m.Create(ctx, "bad", 0, 30); !apperrors.IsValidation(err) {
		t.Errorf("zero capital should be a validation error, got %v", err)
	}

	sess, err := m.Create(ctx, "", 1000, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.Status != models.SessionActive || sess.CurrentCapital != 1000 || sess.CycleDurationDays != 30 {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.Name == "" {
		t.Error("blank name should get a default")
	}

	if _, err := m.Create(ctx, "second", 500, 30); !errors.Is(err, apperrors.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	active, err := m.Active(ctx)
	if err != nil || active.ID != sess.ID {
		t.Errorf("Active = %v, %v", active, err)
	}
}

func TestPauseResume(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(&now)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "s", 1000, 30)

	if _, err := m.Resume(ctx, sess.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("resuming an active session should fail, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Pause(ctx, sess.ID); err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if _, err := m.Active(ctx); !errors.Is(err, apperrors.ErrNoActiveSession) {
			t.Errorf("expected no active session while paused, got %v", err)
		}
		if _, err := m.Resume(ctx, sess.ID); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
	}

	// a second session may be created while the first is paused, and then blocks resume
	m.Pause(ctx, sess.ID)
	if _, err := m.Create(ctx, "other", 100, 10); err != nil {
		t.Fatalf("Create while paused failed: %v", err)
	}
	if _, err := m.Resume(ctx, sess.ID); !errors.Is(err, apperrors.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists on resume, got %v", err)
	}
}

func TestApplyFill(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m, st := newTestManager(&now)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "s", 1000, 30)

	buy := filled(models.OrderSideBuy, 1000, 0.1, now)
	buy.Commission = 0.1
	buy.CommissionAsset = "USDT"
	if err := m.ApplyFill(ctx, sess, buy, testBot); err != nil {
		t.Fatalf("ApplyFill buy failed: %v", err)
	}
	if math.Abs(sess.CurrentCapital-899.9) > 1e-9 || sess.AccumulatedTokens != 1000 {
		t.Errorf("after buy: %v/%v, want 899.9/1000", sess.CurrentCapital, sess.AccumulatedTokens)
	}

	sell := filled(models.OrderSideSell, 400, 0.2, now)
	sell.Commission = 2
	sell.CommissionAsset = "BST"
	if err := m.ApplyFill(ctx, sess, sell, testBot); err != nil {
		t.Fatalf("ApplyFill sell failed: %v", err)
	}
	if math.Abs(sess.CurrentCapital-979.9) > 1e-9 || sess.AccumulatedTokens != 598 {
		t.Errorf("after sell: %v/%v, want 979.9/598", sess.CurrentCapital, sess.AccumulatedTokens)
	}

	rejected := &models.Trade{Side: models.OrderSideBuy, Quantity: 10, Status: models.TradeRejected, Timestamp: now}
	if err := m.RecordTrade(ctx, sess, rejected); err != nil {
		t.Fatalf("RecordTrade failed: %v", err)
	}
	if math.Abs(sess.CurrentCapital-979.9) > 1e-9 {
		t.Error("rejected trade must not move balances")
	}

	stored, _ := st.GetSession(ctx, sess.ID)
	if stored.CurrentCapital != sess.CurrentCapital || stored.AccumulatedTokens != sess.AccumulatedTokens {
		t.Error("stored balances should match applied balances")
	}
	trades, _ := m.Trades(ctx, sess.ID)
	if len(trades) != 3 {
		t.Errorf("expected 3 trades, got %d", len(trades))
	}

	oversell := filled(models.OrderSideSell, 1e6, 0.2, now)
	if err := m.ApplyFill(ctx, sess, oversell, testBot); !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestApplyFill_RejectedWhenNotActive(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(&now)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "s", 1000, 30)
	paused, _ := m.Pause(ctx, sess.ID)
	if err := m.ApplyFill(ctx, paused, filled(models.OrderSideBuy, 1, 1, now), testBot); !errors.Is(err, apperrors.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive, got %v", err)
	}

	active, _ := m.Resume(ctx, sess.ID)
	if _, err := m.Complete(ctx, active, 1, TriggerManual); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := m.ApplyFill(ctx, active, filled(models.OrderSideBuy, 1, 1, now), testBot); !errors.Is(err, apperrors.ErrSessionCompleted) {
		t.Errorf("expected ErrSessionCompleted, got %v", err)
	}
	if _, err := m.Complete(ctx, active, 1, TriggerManual); !errors.Is(err, apperrors.ErrSessionCompleted) {
		t.Errorf("completing twice should fail, got %v", err)
	}
	if _, err := m.Resume(ctx, active.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("completed session must not resume, got %v", err)
	}
}

func TestApplyFill_StaleSessionAfterCompletion(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := NewManager(st, DefaultConfig(), zerolog.Nop())
	m.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := m.Create(ctx, "s", 1000, 30)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.CompleteByID(ctx, stale.ID, 1); err != nil {
		t.Fatalf("CompleteByID failed: %v", err)
	}

	if err := m.ApplyFill(ctx, stale, filled(models.OrderSideBuy, 80, 0.1, now), testBot); !errors.Is(err, apperrors.ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
	if stale.CurrentCapital != 1000 {
		t.Errorf("rejected fill moved the in-memory balance to %v", stale.CurrentCapital)
	}

	stored, err := m.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != models.SessionCompleted || stored.EndDate == nil || stored.CurrentCapital != 1000 {
		t.Errorf("completed session was rewritten: %+v", stored)
	}
	if trades, _ := m.Trades(ctx, stale.ID); len(trades) != 0 {
		t.Errorf("rejected fill left %d trades behind", len(trades))
	}
}

func TestCheckCompletion(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	m, _ := newTestManager(&now)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "s", 1000, 10)

	if _, done, _ := m.CheckCompletion(ctx, sess, 1); done {
		t.Error("fresh session must not complete before any recovery sell")
	}

	m.ApplyFill(ctx, sess, filled(models.OrderSideBuy, 200, 1, now), testBot)
	m.ApplyFill(ctx, sess, filled(models.OrderSideSell, 50, 1.1, now), testBot)

	trigger, done, err := m.CheckCompletion(ctx, sess, 1)
	if err != nil || !done || trigger != TriggerPreservation {
		t.Errorf("expected preservation completion, got %q %v %v", trigger, done, err)
	}

	if _, done, _ := m.CheckCompletion(ctx, sess, 0.5); done {
		t.Error("total value below 95% should not complete before the duration")
	}

	now = start.Add(10 * 24 * time.Hour)
	trigger, done, _ = m.CheckCompletion(ctx, sess, 0.5)
	if !done || trigger != TriggerDuration {
		t.Errorf("expected duration completion, got %q %v", trigger, done)
	}
}

func TestComplete_Report(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	m, _ := newTestManager(&now)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "s", 1000, 30)
	m.ApplyFill(ctx, sess, filled(models.OrderSideBuy, 1000, 0.1, now), testBot)

	now = start.Add(72 * time.Hour)
	report, err := m.Complete(ctx, sess, 0.12, TriggerManual)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if report.FinalCapital != 900 || report.FinalTokens != 1000 {
		t.Errorf("unexpected balances in report %+v", report)
	}
	if math.Abs(report.TotalValue-1020) > 1e-9 || math.Abs(report.ProfitLoss-20) > 1e-9 || math.Abs(report.ProfitLossPercent-2) > 1e-9 {
		t.Errorf("unexpected value in report %+v", report)
	}
	if !report.CapitalPreserved || report.DurationDays != 3 || report.TotalTrades != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if sess.Status != models.SessionCompleted || sess.EndDate == nil {
		t.Errorf("session not completed: %+v", sess)
	}

	frozen, err := m.Report(ctx, sess.ID)
	if err != nil || frozen.TotalValue != report.TotalValue {
		t.Errorf("stored report mismatch: %+v, %v", frozen, err)
	}
}
