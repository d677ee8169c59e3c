package models

import "time"

// SessionStatus represents the lifecycle state of a trading session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session is one capital-recovery cycle of the bagging strategy.
// CurrentCapital and AccumulatedTokens change only by applying a filled trade.
type Session struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	InitialCapital    float64       `json:"initial_capital"`
	CurrentCapital    float64       `json:"current_capital"`
	AccumulatedTokens float64       `json:"accumulated_tokens"`
	Status            SessionStatus `json:"status"`
	StartDate         time.Time     `json:"start_date"`
	EndDate           *time.Time    `json:"end_date,omitempty"`
	CycleDurationDays int           `json:"cycle_duration_days"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TokenValue returns the accumulated tokens valued at price.
func (s *Session) TokenValue(price float64) float64 {
	return s.AccumulatedTokens * price
}

// TotalValue returns stable capital plus token value at price.
func (s *Session) TotalValue(price float64) float64 {
	return s.CurrentCapital + s.TokenValue(price)
}

// Allocation returns the fraction of total value held in stable capital.
// It returns 0 when the total value is not positive.
func (s *Session) Allocation(price float64) float64 {
	total := s.TotalValue(price)
	if total <= 0 {
		return 0
	}
	return s.CurrentCapital / total
}

// ElapsedDays returns whole days since the session started.
func (s *Session) ElapsedDays(now time.Time) int {
	if now.Before(s.StartDate) {
		return 0
	}
	return int(now.Sub(s.StartDate).Hours() / 24)
}

// IsActive reports whether the session accepts trades.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// CycleReport is frozen when a session completes.
type CycleReport struct {
	SessionID         string    `json:"session_id"`
	SessionName       string    `json:"session_name"`
	InitialCapital    float64   `json:"initial_capital"`
	FinalCapital      float64   `json:"final_capital"`
	FinalTokens       float64   `json:"final_tokens"`
	Price             float64   `json:"price"`
	TokenValue        float64   `json:"token_value"`
	TotalValue        float64   `json:"total_value"`
	CapitalPreserved  bool      `json:"capital_preserved"`
	ProfitLoss        float64   `json:"profit_loss"`
	ProfitLossPercent float64   `json:"profit_loss_percent"`
	DurationDays      int       `json:"duration_days"`
	TotalTrades       int       `json:"total_trades"`
	Trigger           string    `json:"trigger"`
	CompletedAt       time.Time `json:"completed_at"`
}
