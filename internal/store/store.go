// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// Store persists bot configurations, sessions, trades and cycle reports.
// Lookups of missing records return errors.ErrNotFound.
type Store interface {
	// Bot configurations
	SaveBotConfig(ctx context.Context, cfg *models.BotConfig) error
	ActivateBotConfig(ctx context.Context, id string) error
	GetBotConfig(ctx context.Context, id string) (*models.BotConfig, error)
	ActiveBotConfig(ctx context.Context) (*models.BotConfig, error)
	ListBotConfigs(ctx context.Context) ([]models.BotConfig, error)

	// Sessions. CreateSession and UpdateSession return errors.ErrSessionExists
	// when the write would leave two sessions ACTIVE. UpdateSession never rewrites
	// a COMPLETED session.
	CreateSession(ctx context.Context, sess *models.Session) error
	UpdateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ActiveSession(ctx context.Context) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error)

	// Trades. ApplyTrade appends the trade and writes the session balances atomically.
	// It only writes balances, and only while the stored session is ACTIVE.
	ApplyTrade(ctx context.Context, sess *models.Session, trade *models.Trade) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	CountExecutedTrades(ctx context.Context, sessionID string, since time.Time) (int, error)

	// Reports. CompleteSession writes the completed session and its report atomically.
	// The stored session must still be ACTIVE.
	CompleteSession(ctx context.Context, sess *models.Session, report *models.CycleReport) error
	GetReport(ctx context.Context, sessionID string) (*models.CycleReport, error)

	Close() error
}

// SessionFilter filters session listings.
type SessionFilter struct {
	Status models.SessionStatus
	Limit  int
}

// TradeFilter filters trade listings. Results are ordered oldest first.
type TradeFilter struct {
	SessionID string
	Side      models.OrderSide
	Since     time.Time
	Limit     int
}

// RequireActive returns nil for an ACTIVE session, errors.ErrSessionCompleted for a
// COMPLETED one and errors.ErrSessionNotActive otherwise.
func RequireActive(sess *models.Session) error {
	if sess.IsActive() {
		return nil
	}
	if sess.Status == models.SessionCompleted {
		return errors.Wrapf(errors.ErrSessionCompleted, "session %s", sess.ID)
	}
	return errors.Wrapf(errors.ErrSessionNotActive, "session %s is %s", sess.ID, sess.Status)
}
